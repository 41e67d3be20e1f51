// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"strings"

	"github.com/busbridge/busbridge/pkg/bus"
	"github.com/busbridge/busbridge/pkg/errors"
)

// BusAutoPlugin is synthesized from discovery output: it maps one
// interface's properties on one object to plugin state. Auto-synthesized
// plugins have no typed write-mapping, so writes are refused outright and
// can_write stays false until someone supplies one.
type BusAutoPlugin struct {
	name      string
	conn      bus.Conn
	service   string
	path      string
	iface     string
	shortDesc string
}

// NewBusAutoPlugin builds a read-only plugin for (service, path, iface).
func NewBusAutoPlugin(conn bus.Conn, service, path, iface string) *BusAutoPlugin {
	name := strings.NewReplacer("org.freedesktop.", "", "org.", "").Replace(service)
	name = strings.ToLower(strings.ReplaceAll(name, ".", "_"))
	return &BusAutoPlugin{
		name:      name,
		conn:      conn,
		service:   service,
		path:      path,
		iface:     iface,
		shortDesc: "Auto-generated plugin for " + service,
	}
}

func (p *BusAutoPlugin) Name() string        { return p.name }
func (p *BusAutoPlugin) Description() string { return p.shortDesc }
func (p *BusAutoPlugin) Version() string     { return "0.1.0 (auto)" }

func (p *BusAutoPlugin) ManagedResources() []string {
	return []string{p.service, p.path, p.iface}
}

// Service reports the bus endpoint this plugin reads.
func (p *BusAutoPlugin) Service() (service, path, iface string) {
	return p.service, p.path, p.iface
}

func (p *BusAutoPlugin) Capabilities() Capabilities {
	return Capabilities{
		CanRead:            true,
		CanWrite:           false,
		SupportsDryRun:     true,
		SupportedPlatforms: []string{"linux"},
	}
}

func (p *BusAutoPlugin) GetState(ctx context.Context) (map[string]interface{}, error) {
	props, err := p.conn.GetAllProperties(ctx, p.service, p.path, p.iface)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "property read failed", err).
			WithContext("service", p.service).
			WithContext("path", p.path).
			WithContext("interface", p.iface)
	}
	return props, nil
}

func (p *BusAutoPlugin) Diff(ctx context.Context, current, desired map[string]interface{}) ([]Change, error) {
	return diffMaps(p.name, current, desired), nil
}

// ApplyState refuses: an untyped write against a live bus interface is not a
// supported operation for synthesized plugins.
func (p *BusAutoPlugin) ApplyState(ctx context.Context, desired map[string]interface{}) error {
	return errors.New(errors.CodePermissionDenied,
		"auto-generated plugins are read-only; no typed write-mapping exists for "+p.service, nil).
		WithContext("plugin", p.name)
}

func (p *BusAutoPlugin) Validate(ctx context.Context, config map[string]interface{}) (ValidationResult, error) {
	if len(config) == 0 {
		return Invalid("config must not be empty"), nil
	}
	return ValidOK(), nil
}
