// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/busbridge/busbridge/pkg/errors"
)

// scriptedRunner returns canned output per joined command line and records
// every invocation.
type scriptedRunner struct {
	responses map[string]string
	failures  map[string]bool
	calls     []string
}

func (r *scriptedRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	line := name + " " + strings.Join(args, " ")
	r.calls = append(r.calls, line)
	if r.failures[line] {
		return nil, fmt.Errorf("exit status 1")
	}
	if out, ok := r.responses[line]; ok {
		return []byte(out), nil
	}
	return nil, fmt.Errorf("command not scripted: %s", line)
}

const showDbusOut = "ActiveState=active\nSubState=running\nLoadState=loaded\n"
const showSSHOut = "ActiveState=inactive\nSubState=dead\nLoadState=loaded\n"

func newSystemdFixture(units ...string) (*SystemdPlugin, *scriptedRunner) {
	runner := &scriptedRunner{
		responses: map[string]string{
			"systemctl show dbus --property=ActiveState,SubState,LoadState": showDbusOut,
			"systemctl show sshd --property=ActiveState,SubState,LoadState": showSSHOut,
			"systemctl start sshd": "",
			"systemctl stop dbus":  "",
			"systemctl start dbus": "",
			"systemctl stop sshd":  "",
		},
		failures: map[string]bool{},
	}
	p := NewSystemdPlugin(units...)
	p.run = runner.run
	return p, runner
}

func TestSystemdGetState(t *testing.T) {
	p, _ := newSystemdFixture("dbus", "sshd")
	state, err := p.GetState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	units := state["services"].([]UnitState)
	if len(units) != 2 {
		t.Fatalf("units = %d", len(units))
	}
	if units[0].ActiveState != "active" || units[1].ActiveState != "inactive" {
		t.Errorf("states = %+v", units)
	}
}

func TestSystemdDiffIsPure(t *testing.T) {
	p, runner := newSystemdFixture("dbus", "sshd")
	current, _ := p.GetState(context.Background())
	callsBefore := len(runner.calls)

	desired := map[string]interface{}{
		"services": []interface{}{
			map[string]interface{}{"name": "dbus", "active_state": "active"},
			map[string]interface{}{"name": "sshd", "active_state": "active"},
		},
	}
	changes, err := p.Diff(context.Background(), current, desired)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Resource != "systemd.sshd" {
		t.Fatalf("changes = %+v", changes)
	}
	if len(runner.calls) != callsBefore {
		t.Error("diff must not run commands")
	}
}

func TestSystemdApplyRollsBackOnFailure(t *testing.T) {
	p, runner := newSystemdFixture("dbus", "sshd")
	runner.failures["systemctl stop dbus"] = true

	desired := map[string]interface{}{
		"services": []interface{}{
			map[string]interface{}{"name": "sshd", "active_state": "active"},
			map[string]interface{}{"name": "dbus", "active_state": "inactive"},
		},
	}
	err := p.ApplyState(context.Background(), desired)
	if err == nil {
		t.Fatal("expected apply failure")
	}
	if !strings.Contains(err.Error(), "rolled back") {
		t.Errorf("error should report rollback: %v", err)
	}
	// sshd was inactive before the apply started; rollback stops it again.
	rolledBack := false
	for _, call := range runner.calls {
		if call == "systemctl stop sshd" {
			rolledBack = true
		}
	}
	if !rolledBack {
		t.Errorf("rollback did not restore sshd, calls: %v", runner.calls)
	}
}

func TestSystemdValidate(t *testing.T) {
	p, _ := newSystemdFixture()
	bad := map[string]interface{}{
		"services": []interface{}{
			map[string]interface{}{"name": "sshd", "active_state": "exploded"},
		},
	}
	result, err := p.Validate(context.Background(), bad)
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid || len(result.Errors) == 0 {
		t.Errorf("result = %+v", result)
	}
}

const ipAddrJSON = `[
  {"ifname": "lo", "operstate": "UNKNOWN", "mtu": 65536, "addr_info": [{"local": "127.0.0.1", "prefixlen": 8}]},
  {"ifname": "eth0", "operstate": "UP", "mtu": 1500, "addr_info": [{"local": "10.0.0.5", "prefixlen": 24}]}
]`

func TestNetworkGetState(t *testing.T) {
	runner := &scriptedRunner{
		responses: map[string]string{
			"ip -json addr show":  ipAddrJSON,
			"ip -json route show": `[{"dst": "default", "gateway": "10.0.0.1"}]`,
		},
		failures: map[string]bool{},
	}
	p := NewNetworkPlugin()
	p.run = runner.run

	state, err := p.GetState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	links := state["interfaces"].([]LinkState)
	if len(links) != 2 || links[1].Name != "eth0" || links[1].OperState != "up" {
		t.Errorf("links = %+v", links)
	}
	if links[1].Addresses[0] != "10.0.0.5/24" {
		t.Errorf("addresses = %v", links[1].Addresses)
	}
}

func TestNetworkApplyRejectsUnknownState(t *testing.T) {
	p := NewNetworkPlugin()
	p.run = (&scriptedRunner{failures: map[string]bool{}}).run

	err := p.ApplyState(context.Background(), map[string]interface{}{
		"interfaces": []interface{}{
			map[string]interface{}{"name": "eth0", "oper_state": "sideways"},
		},
	})
	if errors.Code(err) != errors.CodeInvalidParams {
		t.Errorf("code = %q", errors.Code(err))
	}
}

func TestPackagesReadOnly(t *testing.T) {
	runner := &scriptedRunner{
		responses: map[string]string{
			"dpkg-query -W -f ${Package}\t${Version}\n": "bash\t5.2\ncoreutils\t9.4\n",
		},
		failures: map[string]bool{},
	}
	p := NewPackagesPlugin()
	p.run = runner.run

	state, err := p.GetState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	packages := state["packages"].([]PackageInfo)
	if len(packages) != 2 || packages[0].Name != "bash" {
		t.Errorf("packages = %+v", packages)
	}
	if !p.Capabilities().CanRead || p.Capabilities().CanWrite {
		t.Error("packages plugin must be read-only")
	}
	if err := p.ApplyState(context.Background(), nil); errors.Code(err) != errors.CodePermissionDenied {
		t.Errorf("apply should be refused, got %v", err)
	}
}

type fakeBus struct {
	props map[string]interface{}
	err   error
}

func (f *fakeBus) BusType() string                                  { return "system" }
func (f *fakeBus) ListNames(ctx context.Context) ([]string, error)  { return nil, nil }
func (f *fakeBus) NameOwner(ctx context.Context, name string) (string, error) { return "", nil }
func (f *fakeBus) Introspect(ctx context.Context, service, path string) (string, error) {
	return "", nil
}
func (f *fakeBus) ManagedObjects(ctx context.Context, service, path string) (map[string][]string, error) {
	return nil, nil
}
func (f *fakeBus) GetAllProperties(ctx context.Context, service, path, iface string) (map[string]interface{}, error) {
	return f.props, f.err
}
func (f *fakeBus) SetProperty(ctx context.Context, service, path, iface, name string, value interface{}) error {
	return nil
}
func (f *fakeBus) Close() error { return nil }

func TestBusAutoPluginNameDerivation(t *testing.T) {
	p := NewBusAutoPlugin(&fakeBus{}, "org.freedesktop.UPower", "/org/freedesktop/UPower", "org.freedesktop.UPower")
	if p.Name() != "upower" {
		t.Errorf("name = %q", p.Name())
	}
}

func TestBusAutoPluginReadIsIdempotent(t *testing.T) {
	conn := &fakeBus{props: map[string]interface{}{"OnBattery": false, "LidIsClosed": true}}
	p := NewBusAutoPlugin(conn, "org.freedesktop.UPower", "/org/freedesktop/UPower", "org.freedesktop.UPower")

	first, err := p.GetState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.GetState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first["OnBattery"] != second["OnBattery"] {
		t.Error("repeated reads disagree")
	}

	changes, err := p.Diff(context.Background(), first, map[string]interface{}{"OnBattery": true})
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Action != "update" {
		t.Errorf("changes = %+v", changes)
	}
}

func TestDescribeCarriesManagedResources(t *testing.T) {
	desc := Describe(NewSystemdPlugin())
	if !reflect.DeepEqual(desc.ManagedResources, defaultUnits) {
		t.Errorf("managed resources = %v, want %v", desc.ManagedResources, defaultUnits)
	}

	auto := NewBusAutoPlugin(&fakeBus{}, "org.freedesktop.UPower", "/org/freedesktop/UPower", "org.freedesktop.UPower")
	want := []string{"org.freedesktop.UPower", "/org/freedesktop/UPower", "org.freedesktop.UPower"}
	if got := Describe(auto).ManagedResources; !reflect.DeepEqual(got, want) {
		t.Errorf("managed resources = %v, want %v", got, want)
	}

	// Explicit identifiers override the plugin's own list.
	if got := Describe(NewSystemdPlugin(), "chrony").ManagedResources; !reflect.DeepEqual(got, []string{"chrony"}) {
		t.Errorf("managed resources = %v, want [chrony]", got)
	}
}

func TestBusAutoPluginRefusesWrites(t *testing.T) {
	p := NewBusAutoPlugin(&fakeBus{}, "org.freedesktop.login1", "/org/freedesktop/login1", "org.freedesktop.login1.Manager")
	if p.Capabilities().CanWrite {
		t.Fatal("auto plugin must declare can_write=false")
	}
	err := p.ApplyState(context.Background(), map[string]interface{}{"KillUserProcesses": true})
	if errors.Code(err) != errors.CodePermissionDenied {
		t.Errorf("code = %q, want permission denied", errors.Code(err))
	}
}
