// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package inspector

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/busbridge/busbridge/pkg/errors"
	"github.com/busbridge/busbridge/pkg/knowledge"
)

// ContainerReport is the specialized inspection of one container.
type ContainerReport struct {
	Name               string              `json:"name"`
	ID                 string              `json:"id"`
	Image              string              `json:"image"`
	Status             string              `json:"status"`
	Mounts             []ContainerMount    `json:"mounts"`
	Processes          []ContainerProcess  `json:"processes"`
	Ports              map[string][]string `json:"ports"`
	Environment        map[string]string   `json:"environment"`
	Labels             map[string]string   `json:"labels"`
	KnowledgeBaseEntry string              `json:"knowledge_base_entry"`
}

// ContainerMount is one bind or volume mount.
type ContainerMount struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Mode        string `json:"mode"`
	RW          bool   `json:"rw"`
}

// ContainerProcess is one row from the container's process table.
type ContainerProcess struct {
	User    string `json:"user"`
	PID     int    `json:"pid"`
	PPID    int    `json:"ppid"`
	Command string `json:"command"`
}

// InspectContainer reads container metadata and its process table, infers a
// schema from the metadata, and records everything in the knowledge base.
func (i *Inspector) InspectContainer(ctx context.Context, name string) (*ContainerReport, error) {
	out, err := i.run(ctx, "docker", "inspect", name)
	if err != nil {
		return nil, errors.New(errors.CodeNotFound, "container inspection failed", err).
			WithContext("container", name)
	}

	var entries []map[string]interface{}
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, errors.New(errors.CodeParseError, "container metadata decode failed", err)
	}
	if len(entries) == 0 {
		return nil, errors.New(errors.CodeNotFound, "container not found", nil).
			WithContext("container", name)
	}
	meta := entries[0]

	report := &ContainerReport{
		Name:        name,
		ID:          stringField(meta, "Id"),
		Ports:       make(map[string][]string),
		Environment: make(map[string]string),
		Labels:      make(map[string]string),
	}

	if state, ok := meta["State"].(map[string]interface{}); ok {
		report.Status = stringField(state, "Status")
	}
	if config, ok := meta["Config"].(map[string]interface{}); ok {
		report.Image = stringField(config, "Image")
		if env, ok := config["Env"].([]interface{}); ok {
			for _, item := range env {
				if s, ok := item.(string); ok {
					if k, v, found := strings.Cut(s, "="); found {
						report.Environment[k] = v
					}
				}
			}
		}
		if labels, ok := config["Labels"].(map[string]interface{}); ok {
			for k, v := range labels {
				if s, ok := v.(string); ok {
					report.Labels[k] = s
				}
			}
		}
	}
	if netSettings, ok := meta["NetworkSettings"].(map[string]interface{}); ok {
		if ports, ok := netSettings["Ports"].(map[string]interface{}); ok {
			for port, bindings := range ports {
				list, _ := bindings.([]interface{})
				for _, b := range list {
					if binding, ok := b.(map[string]interface{}); ok {
						hostPort := stringField(binding, "HostPort")
						hostIP := stringField(binding, "HostIp")
						report.Ports[port] = append(report.Ports[port], hostIP+":"+hostPort)
					}
				}
				if len(list) == 0 {
					report.Ports[port] = nil
				}
			}
		}
	}
	if mounts, ok := meta["Mounts"].([]interface{}); ok {
		for _, m := range mounts {
			if mount, ok := m.(map[string]interface{}); ok {
				rw, _ := mount["RW"].(bool)
				report.Mounts = append(report.Mounts, ContainerMount{
					Source:      stringField(mount, "Source"),
					Destination: stringField(mount, "Destination"),
					Mode:        stringField(mount, "Mode"),
					RW:          rw,
				})
			}
		}
	}

	// The process table is best-effort; a stopped container has none.
	if topOut, err := i.run(ctx, "docker", "top", name); err == nil {
		report.Processes = parseProcessTable(string(topOut))
	}

	report.KnowledgeBaseEntry = "docker_container_" + name
	if i.kb != nil {
		def := knowledge.Definition{
			Name:       report.KnowledgeBaseEntry,
			SourceType: knowledge.SourceDocker,
			SourceData: map[string]interface{}{
				"container": name,
				"image":     report.Image,
				"status":    report.Status,
			},
			GeneratedSchemas: []interface{}{analyzeValue(meta)},
			Examples:         []interface{}{report},
		}
		if err := i.kb.Put(ctx, def); err != nil {
			i.log.Warn("knowledge base write failed", "entry", def.Name, "error", err)
		}
	}

	return report, nil
}

// parseProcessTable reads `docker top` output: a header row followed by
// whitespace-separated columns, command last.
func parseProcessTable(out string) []ContainerProcess {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return nil
	}
	var processes []ContainerProcess
	for _, line := range lines[1:] {
		parts := strings.Fields(line)
		if len(parts) < 4 {
			continue
		}
		pid, _ := strconv.Atoi(parts[1])
		ppid, _ := strconv.Atoi(parts[2])
		processes = append(processes, ContainerProcess{
			User:    parts[0],
			PID:     pid,
			PPID:    ppid,
			Command: strings.Join(parts[3:], " "),
		})
	}
	return processes
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
