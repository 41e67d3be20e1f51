// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package plugin defines the state plugin contract: resource-domain
// controllers that expose get/diff/apply/validate/capabilities over one
// managed system domain. Plugins hold no state of their own between calls;
// the managed resource is the state.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
)

// Capabilities declares what a plugin may do to its domain.
type Capabilities struct {
	CanRead             bool     `json:"can_read"`
	CanWrite            bool     `json:"can_write"`
	CanDelete           bool     `json:"can_delete"`
	SupportsDryRun      bool     `json:"supports_dry_run"`
	SupportsRollback    bool     `json:"supports_rollback"`
	SupportsTransaction bool     `json:"supports_transactions"`
	RequiresRoot        bool     `json:"requires_root"`
	SupportedPlatforms  []string `json:"supported_platforms"`
}

// Change is one atomic unit of a diff between current and desired state.
type Change struct {
	Resource    string      `json:"resource"`
	Action      string      `json:"action"`
	Current     interface{} `json:"current,omitempty"`
	Desired     interface{} `json:"desired,omitempty"`
	Description string      `json:"description"`
}

// ValidationResult reports a structural/semantic config check.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Valid returns a passing validation result.
func ValidOK() ValidationResult { return ValidationResult{Valid: true} }

// Invalid returns a failing validation result carrying the reasons.
func Invalid(reasons ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: reasons}
}

// Plugin manages one system-resource domain.
//
// ApplyState obeys the declared rollback capability: a plugin with
// SupportsRollback=true snapshots before applying and restores on failure;
// one without leaves the system wherever the failed operation stopped and
// says so in the returned error.
type Plugin interface {
	Name() string
	Description() string
	Version() string

	// GetState snapshots the domain's current configuration.
	GetState(ctx context.Context) (map[string]interface{}, error)

	// Diff describes what ApplyState would change. Pure; no side effects.
	Diff(ctx context.Context, current, desired map[string]interface{}) ([]Change, error)

	// ApplyState mutates the live resource toward desired.
	ApplyState(ctx context.Context, desired map[string]interface{}) error

	// Validate checks a config without mutating anything.
	Validate(ctx context.Context, config map[string]interface{}) (ValidationResult, error)

	Capabilities() Capabilities
}

// Descriptor summarizes a plugin for listings.
type Descriptor struct {
	Name              string       `json:"name"`
	Version           string       `json:"version"`
	Description       string       `json:"description"`
	Available         bool         `json:"available"`
	UnavailableReason string       `json:"unavailable_reason,omitempty"`
	Capabilities      Capabilities `json:"capabilities"`
	ManagedResources  []string     `json:"managed_resources,omitempty"`
}

// ResourceLister is an optional extension: plugins that can enumerate their
// managed-resource identifiers surface them in descriptors.
type ResourceLister interface {
	ManagedResources() []string
}

// Describe builds a descriptor from a live plugin. Explicit resources win;
// otherwise the plugin's own ResourceLister fills the list.
func Describe(p Plugin, resources ...string) Descriptor {
	if len(resources) == 0 {
		if lister, ok := p.(ResourceLister); ok {
			resources = lister.ManagedResources()
		}
	}
	return Descriptor{
		Name:             p.Name(),
		Version:          p.Version(),
		Description:      p.Description(),
		Available:        true,
		Capabilities:     p.Capabilities(),
		ManagedResources: resources,
	}
}

// diffMaps compares two flat state maps and emits one update Change per
// differing key. Shared by plugins whose state is a property bag.
func diffMaps(resource string, current, desired map[string]interface{}) []Change {
	var changes []Change
	for key, want := range desired {
		have, ok := current[key]
		if ok && jsonEqual(have, want) {
			continue
		}
		action := "update"
		if !ok {
			action = "create"
		}
		changes = append(changes, Change{
			Resource:    resource + "." + key,
			Action:      action,
			Current:     have,
			Desired:     want,
			Description: fmt.Sprintf("set %s.%s to %v", resource, key, want),
		})
	}
	return changes
}

// jsonEqual compares values through their JSON encoding so numeric types
// decoded by different frontends compare equal.
func jsonEqual(a, b interface{}) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}
