// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/busbridge/busbridge/pkg/errors"
)

// defaultUnits are checked when no unit list is configured.
var defaultUnits = []string{"dbus", "NetworkManager", "sshd"}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// SystemdPlugin manages service units through systemctl.
type SystemdPlugin struct {
	units []string
	run   commandRunner
}

// NewSystemdPlugin creates the plugin for the given units; empty means the
// default set.
func NewSystemdPlugin(units ...string) *SystemdPlugin {
	return &SystemdPlugin{units: units, run: execRunner}
}

func (p *SystemdPlugin) Name() string        { return "systemd" }
func (p *SystemdPlugin) Description() string { return "Service unit management via systemctl" }
func (p *SystemdPlugin) Version() string     { return "1.0.0" }

func (p *SystemdPlugin) ManagedResources() []string { return p.unitList() }

func (p *SystemdPlugin) Capabilities() Capabilities {
	return Capabilities{
		CanRead:            true,
		CanWrite:           true,
		SupportsDryRun:     true,
		SupportsRollback:   true,
		RequiresRoot:       true,
		SupportedPlatforms: []string{"linux"},
	}
}

// UnitState is one service unit snapshot.
type UnitState struct {
	Name        string `json:"name"`
	ActiveState string `json:"active_state"`
	SubState    string `json:"sub_state"`
	LoadState   string `json:"load_state"`
}

func (p *SystemdPlugin) unitList() []string {
	if len(p.units) > 0 {
		return p.units
	}
	return defaultUnits
}

func (p *SystemdPlugin) GetState(ctx context.Context) (map[string]interface{}, error) {
	var states []UnitState
	for _, unit := range p.unitList() {
		state, err := p.showUnit(ctx, unit)
		if err != nil {
			// Unknown units are reported, not fatal.
			states = append(states, UnitState{Name: unit, ActiveState: "unknown", SubState: "unknown", LoadState: "not-found"})
			continue
		}
		states = append(states, state)
	}
	return map[string]interface{}{"services": states}, nil
}

func (p *SystemdPlugin) showUnit(ctx context.Context, unit string) (UnitState, error) {
	out, err := p.run(ctx, "systemctl", "show", unit, "--property=ActiveState,SubState,LoadState")
	if err != nil {
		return UnitState{}, err
	}
	state := UnitState{Name: unit, ActiveState: "unknown", SubState: "unknown", LoadState: "unknown"}
	for _, line := range strings.Split(string(out), "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		switch key {
		case "ActiveState":
			state.ActiveState = value
		case "SubState":
			state.SubState = value
		case "LoadState":
			state.LoadState = value
		}
	}
	return state, nil
}

func (p *SystemdPlugin) Diff(ctx context.Context, current, desired map[string]interface{}) ([]Change, error) {
	currentUnits := unitStatesByName(current)
	var changes []Change
	for _, want := range desiredUnits(desired) {
		have, known := currentUnits[want.Name]
		if known && have.ActiveState == want.ActiveState {
			continue
		}
		changes = append(changes, Change{
			Resource:    "systemd." + want.Name,
			Action:      actionFor(want.ActiveState),
			Current:     have,
			Desired:     want,
			Description: fmt.Sprintf("unit %s: %s -> %s", want.Name, have.ActiveState, want.ActiveState),
		})
	}
	return changes, nil
}

func (p *SystemdPlugin) ApplyState(ctx context.Context, desired map[string]interface{}) error {
	units := desiredUnits(desired)
	if len(units) == 0 {
		return errors.New(errors.CodeInvalidParams, "desired state carries no services", nil)
	}

	// Snapshot for rollback before touching anything.
	snapshot := make(map[string]UnitState, len(units))
	for _, want := range units {
		have, err := p.showUnit(ctx, want.Name)
		if err == nil {
			snapshot[want.Name] = have
		}
	}

	var applied []string
	for _, want := range units {
		if err := p.manageUnit(ctx, want.Name, actionFor(want.ActiveState)); err != nil {
			rollbackErr := p.rollback(ctx, snapshot, applied)
			msg := fmt.Sprintf("unit %s apply failed, rolled back %d prior change(s)", want.Name, len(applied))
			if rollbackErr != nil {
				msg = fmt.Sprintf("unit %s apply failed, rollback also failed: %v", want.Name, rollbackErr)
			}
			return errors.New(errors.CodeInternal, msg, err).WithContext("unit", want.Name)
		}
		applied = append(applied, want.Name)
	}
	return nil
}

func (p *SystemdPlugin) rollback(ctx context.Context, snapshot map[string]UnitState, applied []string) error {
	var firstErr error
	for _, unit := range applied {
		prior, ok := snapshot[unit]
		if !ok {
			continue
		}
		if err := p.manageUnit(ctx, unit, actionFor(prior.ActiveState)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *SystemdPlugin) manageUnit(ctx context.Context, unit, action string) error {
	if action == "" {
		return nil
	}
	if _, err := p.run(ctx, "systemctl", action, unit); err != nil {
		return fmt.Errorf("systemctl %s %s: %w", action, unit, err)
	}
	return nil
}

func (p *SystemdPlugin) Validate(ctx context.Context, config map[string]interface{}) (ValidationResult, error) {
	units := desiredUnits(config)
	if len(units) == 0 {
		return Invalid("config must carry a services list with name entries"), nil
	}
	var problems []string
	for _, unit := range units {
		if unit.Name == "" {
			problems = append(problems, "service entry missing name")
			continue
		}
		switch unit.ActiveState {
		case "", "active", "inactive", "reloading":
		default:
			problems = append(problems, fmt.Sprintf("unit %s: unsupported active_state %q", unit.Name, unit.ActiveState))
		}
	}
	if len(problems) > 0 {
		return Invalid(problems...), nil
	}
	return ValidOK(), nil
}

// actionFor maps a desired active state to the systemctl verb.
func actionFor(activeState string) string {
	switch activeState {
	case "active":
		return "start"
	case "inactive":
		return "stop"
	case "reloading":
		return "restart"
	default:
		return ""
	}
}

func desiredUnits(state map[string]interface{}) []UnitState {
	raw, _ := state["services"].([]interface{})
	var units []UnitState
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		active, _ := entry["active_state"].(string)
		units = append(units, UnitState{Name: name, ActiveState: active})
	}
	// Tests and callers may hand over typed states directly.
	if typed, ok := state["services"].([]UnitState); ok {
		units = append(units, typed...)
	}
	return units
}

func unitStatesByName(state map[string]interface{}) map[string]UnitState {
	out := make(map[string]UnitState)
	for _, unit := range desiredUnits(state) {
		out[unit.Name] = unit
	}
	return out
}
