// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/busbridge/busbridge/pkg/errors"
)

// NetworkPlugin reads interface and route state via iproute2 and can toggle
// link administrative state.
type NetworkPlugin struct {
	run commandRunner
}

// NewNetworkPlugin creates the plugin.
func NewNetworkPlugin() *NetworkPlugin {
	return &NetworkPlugin{run: execRunner}
}

func (p *NetworkPlugin) Name() string        { return "network" }
func (p *NetworkPlugin) Description() string { return "Network interface and route state via iproute2" }
func (p *NetworkPlugin) Version() string     { return "1.0.0" }

func (p *NetworkPlugin) ManagedResources() []string { return []string{"links", "routes"} }

func (p *NetworkPlugin) Capabilities() Capabilities {
	return Capabilities{
		CanRead:            true,
		CanWrite:           true,
		SupportsDryRun:     true,
		RequiresRoot:       true,
		SupportedPlatforms: []string{"linux"},
	}
}

// LinkState is one interface snapshot.
type LinkState struct {
	Name      string   `json:"name"`
	OperState string   `json:"oper_state"`
	MTU       int      `json:"mtu"`
	Addresses []string `json:"addresses,omitempty"`
}

func (p *NetworkPlugin) GetState(ctx context.Context) (map[string]interface{}, error) {
	out, err := p.run(ctx, "ip", "-json", "addr", "show")
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "interface listing failed", err)
	}

	var raw []struct {
		IfName    string `json:"ifname"`
		OperState string `json:"operstate"`
		MTU       int    `json:"mtu"`
		AddrInfo  []struct {
			Local     string `json:"local"`
			PrefixLen int    `json:"prefixlen"`
		} `json:"addr_info"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, errors.New(errors.CodeParseError, "interface listing decode failed", err)
	}

	var links []LinkState
	for _, entry := range raw {
		link := LinkState{
			Name:      entry.IfName,
			OperState: strings.ToLower(entry.OperState),
			MTU:       entry.MTU,
		}
		for _, addr := range entry.AddrInfo {
			link.Addresses = append(link.Addresses, fmt.Sprintf("%s/%d", addr.Local, addr.PrefixLen))
		}
		links = append(links, link)
	}

	routes := []interface{}{}
	if routeOut, err := p.run(ctx, "ip", "-json", "route", "show"); err == nil {
		var decoded []interface{}
		if json.Unmarshal(routeOut, &decoded) == nil {
			routes = decoded
		}
	}

	return map[string]interface{}{
		"interfaces": links,
		"routes":     routes,
	}, nil
}

func (p *NetworkPlugin) Diff(ctx context.Context, current, desired map[string]interface{}) ([]Change, error) {
	currentLinks := linksByName(current)
	var changes []Change
	for _, want := range desiredLinks(desired) {
		have, known := currentLinks[want.Name]
		if known && have.OperState == want.OperState {
			continue
		}
		changes = append(changes, Change{
			Resource:    "network." + want.Name,
			Action:      "update",
			Current:     have,
			Desired:     want,
			Description: fmt.Sprintf("link %s: %s -> %s", want.Name, have.OperState, want.OperState),
		})
	}
	return changes, nil
}

func (p *NetworkPlugin) ApplyState(ctx context.Context, desired map[string]interface{}) error {
	links := desiredLinks(desired)
	if len(links) == 0 {
		return errors.New(errors.CodeInvalidParams, "desired state carries no interfaces", nil)
	}
	for _, want := range links {
		var verb string
		switch want.OperState {
		case "up":
			verb = "up"
		case "down":
			verb = "down"
		default:
			return errors.New(errors.CodeInvalidParams, "unsupported oper_state", nil).
				WithContext("interface", want.Name).
				WithContext("oper_state", want.OperState)
		}
		if _, err := p.run(ctx, "ip", "link", "set", want.Name, verb); err != nil {
			// No rollback capability: report exactly where it stopped.
			return errors.New(errors.CodeInternal,
				fmt.Sprintf("link %s set %s failed; earlier links in this apply were already changed and remain so", want.Name, verb), err)
		}
	}
	return nil
}

func (p *NetworkPlugin) Validate(ctx context.Context, config map[string]interface{}) (ValidationResult, error) {
	links := desiredLinks(config)
	if len(links) == 0 {
		return Invalid("config must carry an interfaces list"), nil
	}
	var problems []string
	for _, link := range links {
		if link.Name == "" {
			problems = append(problems, "interface entry missing name")
		}
		if link.OperState != "up" && link.OperState != "down" {
			problems = append(problems, fmt.Sprintf("interface %s: oper_state must be up or down", link.Name))
		}
	}
	if len(problems) > 0 {
		return Invalid(problems...), nil
	}
	return ValidOK(), nil
}

func desiredLinks(state map[string]interface{}) []LinkState {
	var links []LinkState
	if typed, ok := state["interfaces"].([]LinkState); ok {
		links = append(links, typed...)
	}
	raw, _ := state["interfaces"].([]interface{})
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		oper, _ := entry["oper_state"].(string)
		links = append(links, LinkState{Name: name, OperState: strings.ToLower(oper)})
	}
	return links
}

func linksByName(state map[string]interface{}) map[string]LinkState {
	out := make(map[string]LinkState)
	for _, link := range desiredLinks(state) {
		out[link.Name] = link
	}
	return out
}
