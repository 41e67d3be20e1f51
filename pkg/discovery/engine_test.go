// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/busbridge/busbridge/pkg/bus"
	"github.com/busbridge/busbridge/pkg/knowledge"
	"github.com/busbridge/busbridge/pkg/resilience"
)

// fakeConn scripts bus behavior per (service, path) pair.
type fakeConn struct {
	busType string
	names   []string
	// managed maps "service|path" to an aggregation result.
	managed map[string]map[string][]string
	// introspect maps "service|path" to XML; missing keys fail.
	introspect map[string]string
	// flaky counts dropped replies per "service|path" before a scripted
	// answer goes through.
	flaky map[string]int

	mu              sync.Mutex
	introspectCalls map[string]int
}

func key(service, path string) string { return service + "|" + path }

func (f *fakeConn) BusType() string { return f.busType }

func (f *fakeConn) ListNames(ctx context.Context) ([]string, error) {
	return f.names, nil
}

func (f *fakeConn) NameOwner(ctx context.Context, name string) (string, error) {
	return ":1.42", nil
}

func (f *fakeConn) Introspect(ctx context.Context, service, path string) (string, error) {
	f.mu.Lock()
	if f.introspectCalls == nil {
		f.introspectCalls = make(map[string]int)
	}
	f.introspectCalls[key(service, path)]++
	remaining := f.flaky[key(service, path)]
	if remaining > 0 {
		f.flaky[key(service, path)] = remaining - 1
		f.mu.Unlock()
		return "", dbus.Error{Name: "org.freedesktop.DBus.Error.NoReply"}
	}
	f.mu.Unlock()

	xml, ok := f.introspect[key(service, path)]
	if !ok {
		return "", fmt.Errorf("org.freedesktop.DBus.Error.AccessDenied")
	}
	return xml, nil
}

func (f *fakeConn) ManagedObjects(ctx context.Context, service, path string) (map[string][]string, error) {
	if m, ok := f.managed[key(service, path)]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("org.freedesktop.DBus.Error.UnknownMethod")
}

func (f *fakeConn) GetAllProperties(ctx context.Context, service, path, iface string) (map[string]interface{}, error) {
	return nil, fmt.Errorf("not scripted")
}

func (f *fakeConn) SetProperty(ctx context.Context, service, path, iface, name string, value interface{}) error {
	return fmt.Errorf("not scripted")
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) callsFor(service, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.introspectCalls[key(service, path)]
}

const widgetXML = `<node>
  <interface name="org.test.Widget">
    <method name="Frob">
      <arg name="count" type="i" direction="in"/>
      <arg name="result" type="a{sv}" direction="out"/>
    </method>
    <property name="Active" type="b" access="readwrite"/>
    <signal name="Changed">
      <arg name="state" type="s"/>
    </signal>
  </interface>
</node>`

func nodeWithChildren(children ...string) string {
	var b strings.Builder
	b.WriteString("<node>")
	for _, c := range children {
		fmt.Fprintf(&b, `<node name=%q/>`, c)
	}
	b.WriteString("</node>")
	return b.String()
}

func TestObjectManagerIsAuthoritative(t *testing.T) {
	conn := &fakeConn{
		busType: "system",
		names:   []string{"org.test.Manager", ":1.7"},
		managed: map[string]map[string][]string{
			key("org.test.Manager", "/"): {
				"/org/test/Manager/Device0": {"org.test.Device"},
				"/org/test/Manager/Device1": {"org.test.Device", "org.freedesktop.DBus.Properties"},
			},
		},
		// The recursive fallback would see this; it must never run.
		introspect: map[string]string{
			key("org.test.Manager", "/"): widgetXML,
		},
	}

	report := NewEngine().Discover(context.Background(), conn)

	svc := report.Buses["system"].Services["org.test.Manager"]
	if svc == nil {
		t.Fatal("service record missing")
	}
	if svc.DiscoveryMethod != MethodObjectManager {
		t.Errorf("discovery method = %q", svc.DiscoveryMethod)
	}
	if len(svc.Objects) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(svc.Objects))
	}
	if got := len(svc.Objects["/org/test/Manager/Device1"].Interfaces); got != 2 {
		t.Errorf("Device1 interfaces = %d", got)
	}
	if n := conn.callsFor("org.test.Manager", "/"); n != 0 {
		t.Errorf("recursive walk ran despite aggregation result: %d introspect calls", n)
	}
	if _, ok := report.Buses["system"].Services[":1.7"]; ok {
		t.Error("unique connection name should be skipped")
	}
}

func TestRecursiveWalkTotalityAndIdempotence(t *testing.T) {
	conn := &fakeConn{
		busType: "session",
		names:   []string{"org.test.Widget"},
		introspect: map[string]string{
			key("org.test.Widget", "/"):         nodeWithChildren("org"),
			key("org.test.Widget", "/org"):      nodeWithChildren("test"),
			key("org.test.Widget", "/org/test"): widgetXML,
			// "/org/test/Widget" deliberately unscripted: a candidate
			// root that refuses introspection.
		},
	}

	report := NewEngine().Discover(context.Background(), conn)
	svc := report.Buses["session"].Services["org.test.Widget"]
	if svc == nil {
		t.Fatal("service record missing")
	}
	if svc.DiscoveryMethod != MethodRecursive {
		t.Errorf("discovery method = %q", svc.DiscoveryMethod)
	}
	if svc.Owner != ":1.42" {
		t.Errorf("owner = %q", svc.Owner)
	}

	for _, path := range []string{"/", "/org", "/org/test", "/org/test/Widget"} {
		obj, ok := svc.Objects[path]
		if !ok {
			t.Fatalf("path %q dropped from report", path)
		}
		if n := conn.callsFor("org.test.Widget", path); n != 1 {
			t.Errorf("path %q introspected %d times, want 1", path, n)
		}
		if path == "/org/test/Widget" {
			if obj.Introspectable {
				t.Error("failed path recorded as introspectable")
			}
		} else if !obj.Introspectable {
			t.Errorf("path %q should be introspectable", path)
		}
	}

	iface := svc.Objects["/org/test"].Interfaces["org.test.Widget"]
	if iface == nil {
		t.Fatal("interface missing")
	}
	frob := iface.Methods["Frob"]
	if len(frob.Inputs) != 1 || len(frob.Outputs) != 1 {
		t.Fatalf("Frob args: %d in, %d out", len(frob.Inputs), len(frob.Outputs))
	}
	if frob.Outputs[0].TypeDescription != "dict of (string -> variant)" {
		t.Errorf("output description = %q", frob.Outputs[0].TypeDescription)
	}
	if iface.Properties["Active"].Access != "readwrite" {
		t.Errorf("property access = %q", iface.Properties["Active"].Access)
	}
	if len(iface.Signals["Changed"].Arguments) != 1 {
		t.Error("signal argument missing")
	}
}

func TestVisitedCapRecordsOverflow(t *testing.T) {
	conn := &fakeConn{
		busType: "system",
		names:   []string{"org.test.Deep"},
		introspect: map[string]string{
			key("org.test.Deep", "/"): nodeWithChildren("a", "b", "c", "d", "e"),
		},
	}

	report := NewEngine(WithMaxVisited(2)).Discover(context.Background(), conn)
	bus := report.Buses["system"]
	svc := bus.Services["org.test.Deep"]

	if len(svc.Objects) > 2 {
		t.Errorf("visited cap exceeded: %d objects", len(svc.Objects))
	}
	if len(bus.Unknown) == 0 {
		t.Fatal("paths beyond the cap should be recorded as unknown objects")
	}
	for _, u := range bus.Unknown {
		if u.Service != "org.test.Deep" || u.Error != "visited cap reached" {
			t.Errorf("unexpected unknown object record: %+v", u)
		}
	}
	if report.Stats.UnknownObjects != len(bus.Unknown) {
		t.Error("stats disagree with unknown object count")
	}
}

func TestTransientIntrospectionFailureIsRetried(t *testing.T) {
	conn := &fakeConn{
		busType: "system",
		names:   []string{"org.test.Widget"},
		introspect: map[string]string{
			key("org.test.Widget", "/"): widgetXML,
		},
		// First reply dropped; the retry must recover it.
		flaky: map[string]int{
			key("org.test.Widget", "/"): 1,
		},
	}

	engine := NewEngine(WithRetry(resilience.DefaultRetryConfig().
		WithMaxAttempts(2).
		WithInitialDelay(time.Millisecond).
		WithIsRecoverable(bus.IsTransient)))
	report := engine.Discover(context.Background(), conn)

	svc := report.Buses["system"].Services["org.test.Widget"]
	obj := svc.Objects["/"]
	if obj == nil || !obj.Introspectable {
		t.Fatal("dropped reply was not recovered by the retry")
	}
	if n := conn.callsFor("org.test.Widget", "/"); n != 2 {
		t.Errorf("introspect called %d times, want 2", n)
	}
	// Candidate-root failure is an addressing error, never retried.
	if n := conn.callsFor("org.test.Widget", "/org/test/Widget"); n != 1 {
		t.Errorf("non-transient failure retried: %d calls", n)
	}
}

func TestDegradedServiceKeepsRecord(t *testing.T) {
	conn := &fakeConn{
		busType: "system",
		names:   []string{"org.test.Locked", "org.test.Widget"},
		introspect: map[string]string{
			key("org.test.Widget", "/"): widgetXML,
		},
	}

	report := NewEngine().Discover(context.Background(), conn)
	locked := report.Buses["system"].Services["org.test.Locked"]
	if locked == nil {
		t.Fatal("degraded service must keep a record")
	}
	// Both candidate roots failed introspection; they are still recorded.
	for _, obj := range locked.Objects {
		if obj.Introspectable {
			t.Errorf("path %q recorded introspectable despite failures", obj.Path)
		}
	}
	if _, ok := report.Buses["system"].Services["org.test.Widget"]; !ok {
		t.Error("one locked service degraded the whole sweep")
	}
}

func TestDiscoveryWritesKnowledgeBase(t *testing.T) {
	kb, err := knowledge.New(16)
	if err != nil {
		t.Fatal(err)
	}
	conn := &fakeConn{
		busType: "system",
		names:   []string{"org.test.Widget"},
		introspect: map[string]string{
			key("org.test.Widget", "/"): widgetXML,
		},
	}

	NewEngine(WithKnowledgeBase(kb)).Discover(context.Background(), conn)

	def, ok := kb.Get("dbus_system_org_test_Widget")
	if !ok {
		t.Fatal("service definition not written to knowledge base")
	}
	if def.SourceType != knowledge.SourceDBus {
		t.Errorf("source type = %q", def.SourceType)
	}
}
