// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/busbridge/busbridge/pkg/errors"
)

func TestNormalizeVariant(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"scalar passthrough", uint32(7), uint32(7)},
		{"variant unwrap", dbus.MakeVariant("hello"), "hello"},
		{"nested variant", dbus.MakeVariant(dbus.MakeVariant(true)), true},
		{"object path", dbus.ObjectPath("/org/test"), "/org/test"},
		{
			"slice recursion",
			[]interface{}{dbus.ObjectPath("/a"), dbus.MakeVariant(int32(3))},
			[]interface{}{"/a", int32(3)},
		},
		{
			"variant dict",
			map[string]dbus.Variant{"Path": dbus.MakeVariant(dbus.ObjectPath("/b"))},
			map[string]interface{}{"Path": "/b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeVariant(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("normalizeVariant(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizedValuesSurviveJSON(t *testing.T) {
	in := map[string]dbus.Variant{
		"Device": dbus.MakeVariant(dbus.ObjectPath("/org/test/Device0")),
		"Flags":  dbus.MakeVariant([]interface{}{dbus.MakeVariant("a"), dbus.MakeVariant("b")}),
	}
	if _, err := json.Marshal(normalizeVariant(in)); err != nil {
		t.Fatalf("normalized value not JSON-encodable: %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no reply", dbus.Error{Name: "org.freedesktop.DBus.Error.NoReply"}, true},
		{"limits exceeded", dbus.Error{Name: "org.freedesktop.DBus.Error.LimitsExceeded"}, true},
		{"disconnected pointer", &dbus.Error{Name: "org.freedesktop.DBus.Error.Disconnected"}, true},
		{"unknown method", dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownMethod"}, false},
		{"access denied", dbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"}, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"plain error", fmt.Errorf("boom"), false},
		{"nil", nil, false},
		{
			"wrapped transient",
			errors.New(errors.CodeInternal, "Introspect failed", dbus.Error{Name: "org.freedesktop.DBus.Error.NoReply"}),
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConnectBoundsHungDial(t *testing.T) {
	_, err := connect("system", Options{CallTimeout: 20 * time.Millisecond}, func() (*dbus.Conn, error) {
		time.Sleep(200 * time.Millisecond)
		return nil, nil
	})
	if errors.Code(err) != errors.CodeTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestConnectWrapsDialFailure(t *testing.T) {
	_, err := connect("session", Options{}, func() (*dbus.Conn, error) {
		return nil, fmt.Errorf("socket missing")
	})
	if errors.Code(err) != errors.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}
