// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery maps the service/object/interface graph of a D-Bus bus.
// Services that expose the ObjectManager aggregation capability are read in
// one round trip; everything else is walked recursively with a visited-path
// bound. Partial failures degrade individual records, never the sweep.
package discovery

import "time"

// Discovery methods recorded on a Service.
const (
	MethodObjectManager = "ObjectManager"
	MethodRecursive     = "recursive"
)

// Report is the result of one full sweep across the configured buses.
type Report struct {
	Timestamp time.Time             `json:"timestamp"`
	Buses     map[string]*BusReport `json:"buses"`
	Stats     Stats                 `json:"stats"`
}

// BusReport covers a single bus.
type BusReport struct {
	BusType  string              `json:"bus_type"`
	Services map[string]*Service `json:"services"`
	Unknown  []UnknownObject     `json:"unknown_objects"`
}

// Service is a named endpoint on a bus. Re-discovery replaces the record.
type Service struct {
	Name            string             `json:"name"`
	Owner           string             `json:"owner,omitempty"`
	DiscoveryMethod string             `json:"discovery_method"`
	LastSeen        time.Time          `json:"last_seen"`
	Objects         map[string]*Object `json:"objects"`
	// Error carries the degradation reason when the service could not be
	// introspected at all. The record is still kept.
	Error string `json:"error,omitempty"`
}

// Object is a path within a service. Objects that fail introspection are
// recorded with Introspectable=false and empty interfaces, never dropped.
type Object struct {
	Path            string                `json:"path"`
	Interfaces      map[string]*Interface `json:"interfaces"`
	ManagedChildren []string              `json:"managed_children,omitempty"`
	Introspectable  bool                  `json:"introspectable"`
	XML             string                `json:"xml_introspection,omitempty"`
}

// Interface groups the methods, properties, and signals of one D-Bus
// interface on one object.
type Interface struct {
	Name       string              `json:"name"`
	Methods    map[string]Method   `json:"methods,omitempty"`
	Properties map[string]Property `json:"properties,omitempty"`
	Signals    map[string]Signal   `json:"signals,omitempty"`
}

// Method carries the typed call signature.
type Method struct {
	Name    string     `json:"name"`
	Inputs  []Argument `json:"inputs,omitempty"`
	Outputs []Argument `json:"outputs,omitempty"`
}

// Property access values follow the introspection DTD: "read", "write",
// "readwrite".
type Property struct {
	Name            string `json:"name"`
	Signature       string `json:"signature"`
	Access          string `json:"access"`
	TypeDescription string `json:"type_description"`
}

// Signal carries the emitted argument signature.
type Signal struct {
	Name      string     `json:"name"`
	Arguments []Argument `json:"arguments,omitempty"`
}

// Argument is one typed method/signal argument.
type Argument struct {
	Name            string `json:"name,omitempty"`
	Signature       string `json:"signature"`
	TypeDescription string `json:"type_description"`
}

// UnknownObject records a path that could not be attributed to any service
// record at all, as opposed to an introspection failure on a known service.
type UnknownObject struct {
	BusType string `json:"bus_type"`
	Service string `json:"service"`
	Path    string `json:"path"`
	Error   string `json:"error"`
}

// Stats aggregates sweep totals.
type Stats struct {
	TotalServices   int           `json:"total_services"`
	TotalObjects    int           `json:"total_objects"`
	TotalInterfaces int           `json:"total_interfaces"`
	TotalMethods    int           `json:"total_methods"`
	TotalProperties int           `json:"total_properties"`
	TotalSignals    int           `json:"total_signals"`
	UnknownObjects  int           `json:"unknown_objects"`
	Elapsed         time.Duration `json:"elapsed"`
	BusesScanned    []string      `json:"buses_scanned"`
}

func (s *Stats) addService(svc *Service) {
	s.TotalServices++
	s.TotalObjects += len(svc.Objects)
	for _, obj := range svc.Objects {
		s.TotalInterfaces += len(obj.Interfaces)
		for _, iface := range obj.Interfaces {
			s.TotalMethods += len(iface.Methods)
			s.TotalProperties += len(iface.Properties)
			s.TotalSignals += len(iface.Signals)
		}
	}
}
