// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package bus wraps the D-Bus connection behind the minimal surface the
// discovery engine and plugins need. Everything above this package talks to
// the Conn interface so tests can substitute a fake bus.
package bus

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/busbridge/busbridge/pkg/errors"
	"github.com/busbridge/busbridge/pkg/resilience"
)

const (
	introspectableIface = "org.freedesktop.DBus.Introspectable"
	objectManagerIface  = "org.freedesktop.DBus.ObjectManager"
	propertiesIface     = "org.freedesktop.DBus.Properties"
)

// Conn is the bus surface consumed by discovery and the auto plugin.
type Conn interface {
	// BusType identifies the bus ("system" or "session").
	BusType() string

	// ListNames returns the well-known service names on the bus.
	ListNames(ctx context.Context) ([]string, error)

	// NameOwner resolves the unique connection name owning a service.
	NameOwner(ctx context.Context, name string) (string, error)

	// Introspect returns the introspection XML for (service, path).
	Introspect(ctx context.Context, service, path string) (string, error)

	// ManagedObjects calls the object-aggregation capability
	// (org.freedesktop.DBus.ObjectManager.GetManagedObjects) at path and
	// returns the full path -> interface-name set it reports.
	ManagedObjects(ctx context.Context, service, path string) (map[string][]string, error)

	// GetAllProperties reads every property of one interface on one object.
	GetAllProperties(ctx context.Context, service, path, iface string) (map[string]interface{}, error)

	// SetProperty writes a single property.
	SetProperty(ctx context.Context, service, path, iface, name string, value interface{}) error

	// Close releases the underlying connection.
	Close() error
}

// conn adapts *dbus.Conn to the Conn interface with a per-call timeout.
type conn struct {
	bus         *dbus.Conn
	busType     string
	callTimeout time.Duration
}

// Options controls connection establishment.
type Options struct {
	// Addr overrides the bus socket address; empty uses the platform default.
	Addr string
	// CallTimeout bounds each bus round trip. Zero means 5s.
	CallTimeout time.Duration
}

// ConnectSystem opens the system bus.
func ConnectSystem(opts Options) (Conn, error) {
	return connect("system", opts, dbus.SystemBus)
}

// ConnectSession opens the session bus.
func ConnectSession(opts Options) (Conn, error) {
	return connect("session", opts, dbus.SessionBus)
}

func connect(busType string, opts Options, defaultDial func() (*dbus.Conn, error)) (Conn, error) {
	timeout := opts.CallTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	// Dialing a dead or misconfigured socket can hang well past any useful
	// wait; bound it with the same budget as a bus round trip.
	var c *dbus.Conn
	err := resilience.WithTimeout(context.Background(), resilience.TimeoutConfig{Duration: timeout}, func() error {
		var dialErr error
		if opts.Addr != "" {
			c, dialErr = dbus.Connect(opts.Addr)
		} else {
			c, dialErr = defaultDial()
		}
		return dialErr
	})
	if err != nil {
		if typed, ok := err.(*errors.Error); ok && typed.Code == errors.CodeTimeout {
			return nil, typed.WithContext("bus", busType)
		}
		return nil, errors.New(errors.CodeInternal, "bus connection failed", err).
			WithContext("bus", busType)
	}
	return &conn{bus: c, busType: busType, callTimeout: timeout}, nil
}

func (c *conn) BusType() string { return c.busType }

func (c *conn) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

func (c *conn) ListNames(ctx context.Context) ([]string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var names []string
	err := c.bus.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "ListNames failed", err).
			WithContext("bus", c.busType)
	}
	return names, nil
}

func (c *conn) NameOwner(ctx context.Context, name string) (string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var owner string
	err := c.bus.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.GetNameOwner", 0, name).Store(&owner)
	if err != nil {
		return "", err
	}
	return owner, nil
}

func (c *conn) Introspect(ctx context.Context, service, path string) (string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var xml string
	obj := c.bus.Object(service, dbus.ObjectPath(path))
	err := obj.CallWithContext(ctx, introspectableIface+".Introspect", 0).Store(&xml)
	if err != nil {
		return "", err
	}
	return xml, nil
}

func (c *conn) ManagedObjects(ctx context.Context, service, path string) (map[string][]string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := c.bus.Object(service, dbus.ObjectPath(path))
	err := obj.CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0).Store(&managed)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(managed))
	for objPath, ifaces := range managed {
		names := make([]string, 0, len(ifaces))
		for name := range ifaces {
			names = append(names, name)
		}
		out[string(objPath)] = names
	}
	return out, nil
}

func (c *conn) GetAllProperties(ctx context.Context, service, path, iface string) (map[string]interface{}, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var props map[string]dbus.Variant
	obj := c.bus.Object(service, dbus.ObjectPath(path))
	err := obj.CallWithContext(ctx, propertiesIface+".GetAll", 0, iface).Store(&props)
	if err != nil {
		return nil, err
	}

	out := make(map[string]interface{}, len(props))
	for name, v := range props {
		out[name] = normalizeVariant(v.Value())
	}
	return out, nil
}

func (c *conn) SetProperty(ctx context.Context, service, path, iface, name string, value interface{}) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	obj := c.bus.Object(service, dbus.ObjectPath(path))
	call := obj.CallWithContext(ctx, propertiesIface+".Set", 0, iface, name, dbus.MakeVariant(value))
	return call.Err
}

func (c *conn) Close() error { return c.bus.Close() }

// transientErrorNames are broker failures that clear on their own. Addressing
// errors (unknown object, unknown method, access denied) never do.
var transientErrorNames = map[string]bool{
	"org.freedesktop.DBus.Error.NoReply":        true,
	"org.freedesktop.DBus.Error.Timeout":        true,
	"org.freedesktop.DBus.Error.TimedOut":       true,
	"org.freedesktop.DBus.Error.LimitsExceeded": true,
	"org.freedesktop.DBus.Error.Disconnected":   true,
}

// IsTransient reports whether a failed bus call is worth retrying. Used as
// the retry classifier for introspection calls during discovery.
func IsTransient(err error) bool {
	for err != nil {
		if err == context.DeadlineExceeded {
			return true
		}
		if dbusErr, ok := err.(dbus.Error); ok {
			return transientErrorNames[dbusErr.Name]
		}
		if dbusErr, ok := err.(*dbus.Error); ok {
			return transientErrorNames[dbusErr.Name]
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// normalizeVariant converts D-Bus values into plain Go values that survive
// JSON encoding. Nested variants, object paths, and signatures flatten to
// strings; containers recurse.
func normalizeVariant(v interface{}) interface{} {
	switch val := v.(type) {
	case dbus.Variant:
		return normalizeVariant(val.Value())
	case dbus.ObjectPath:
		return string(val)
	case dbus.Signature:
		return val.String()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeVariant(item)
		}
		return out
	case map[string]dbus.Variant:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeVariant(item.Value())
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeVariant(item)
		}
		return out
	default:
		return v
	}
}
