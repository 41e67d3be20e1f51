// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"strings"

	"github.com/busbridge/busbridge/pkg/errors"
)

// PackagesPlugin reads the installed package set from dpkg or rpm. Package
// mutation is deliberately out of its capability set.
type PackagesPlugin struct {
	run commandRunner
}

// NewPackagesPlugin creates the plugin.
func NewPackagesPlugin() *PackagesPlugin {
	return &PackagesPlugin{run: execRunner}
}

func (p *PackagesPlugin) Name() string        { return "packages" }
func (p *PackagesPlugin) Description() string { return "Installed package inventory (dpkg/rpm)" }
func (p *PackagesPlugin) Version() string     { return "1.0.0" }

func (p *PackagesPlugin) ManagedResources() []string { return []string{"installed_packages"} }

func (p *PackagesPlugin) Capabilities() Capabilities {
	return Capabilities{
		CanRead:            true,
		SupportsDryRun:     true,
		SupportedPlatforms: []string{"linux"},
	}
}

// PackageInfo is one installed package.
type PackageInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (p *PackagesPlugin) GetState(ctx context.Context) (map[string]interface{}, error) {
	// dpkg first, rpm as the fallback family.
	if out, err := p.run(ctx, "dpkg-query", "-W", "-f", "${Package}\t${Version}\n"); err == nil {
		return map[string]interface{}{
			"manager":  "dpkg",
			"packages": parsePackageList(string(out)),
		}, nil
	}
	out, err := p.run(ctx, "rpm", "-qa", "--qf", "%{NAME}\t%{VERSION}-%{RELEASE}\n")
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "no supported package manager responded", err)
	}
	return map[string]interface{}{
		"manager":  "rpm",
		"packages": parsePackageList(string(out)),
	}, nil
}

func parsePackageList(out string) []PackageInfo {
	var packages []PackageInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		name, version, found := strings.Cut(line, "\t")
		if !found || name == "" {
			continue
		}
		packages = append(packages, PackageInfo{Name: name, Version: version})
	}
	return packages
}

func (p *PackagesPlugin) Diff(ctx context.Context, current, desired map[string]interface{}) ([]Change, error) {
	currentVersions := make(map[string]string)
	if typed, ok := current["packages"].([]PackageInfo); ok {
		for _, pkg := range typed {
			currentVersions[pkg.Name] = pkg.Version
		}
	}
	var changes []Change
	for _, want := range desiredPackages(desired) {
		have, installed := currentVersions[want.Name]
		if installed && (want.Version == "" || have == want.Version) {
			continue
		}
		action := "update"
		if !installed {
			action = "create"
		}
		changes = append(changes, Change{
			Resource:    "packages." + want.Name,
			Action:      action,
			Current:     have,
			Desired:     want.Version,
			Description: "package " + want.Name + " would need installation or upgrade",
		})
	}
	return changes, nil
}

// ApplyState always refuses: the plugin declares can_write=false.
func (p *PackagesPlugin) ApplyState(ctx context.Context, desired map[string]interface{}) error {
	return errors.New(errors.CodePermissionDenied, "packages plugin is read-only", nil)
}

func (p *PackagesPlugin) Validate(ctx context.Context, config map[string]interface{}) (ValidationResult, error) {
	if len(desiredPackages(config)) == 0 {
		return Invalid("config must carry a packages list"), nil
	}
	return ValidOK(), nil
}

func desiredPackages(state map[string]interface{}) []PackageInfo {
	var packages []PackageInfo
	if typed, ok := state["packages"].([]PackageInfo); ok {
		packages = append(packages, typed...)
	}
	raw, _ := state["packages"].([]interface{})
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		version, _ := entry["version"].(string)
		packages = append(packages, PackageInfo{Name: name, Version: version})
	}
	return packages
}
