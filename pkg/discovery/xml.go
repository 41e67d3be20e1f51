// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"encoding/xml"
	"strings"

	"github.com/busbridge/busbridge/pkg/errors"
)

// introspection XML shapes per the D-Bus introspection DTD.
type xmlNode struct {
	Name       string         `xml:"name,attr"`
	Interfaces []xmlInterface `xml:"interface"`
	Children   []xmlNode      `xml:"node"`
}

type xmlInterface struct {
	Name       string        `xml:"name,attr"`
	Methods    []xmlMethod   `xml:"method"`
	Properties []xmlProperty `xml:"property"`
	Signals    []xmlSignal   `xml:"signal"`
}

type xmlMethod struct {
	Name string   `xml:"name,attr"`
	Args []xmlArg `xml:"arg"`
}

type xmlProperty struct {
	Name   string `xml:"name,attr"`
	Type   string `xml:"type,attr"`
	Access string `xml:"access,attr"`
}

type xmlSignal struct {
	Name string   `xml:"name,attr"`
	Args []xmlArg `xml:"arg"`
}

type xmlArg struct {
	Name      string `xml:"name,attr"`
	Type      string `xml:"type,attr"`
	Direction string `xml:"direction,attr"`
}

// parseIntrospection decodes introspection XML into interface records and the
// declared child node names.
func parseIntrospection(data string) (map[string]*Interface, []string, error) {
	var node xmlNode
	if err := xml.Unmarshal([]byte(data), &node); err != nil {
		return nil, nil, errors.New(errors.CodeParseError, "introspection XML parse failed", err)
	}

	interfaces := make(map[string]*Interface, len(node.Interfaces))
	for _, xi := range node.Interfaces {
		iface := &Interface{
			Name:       xi.Name,
			Methods:    make(map[string]Method, len(xi.Methods)),
			Properties: make(map[string]Property, len(xi.Properties)),
			Signals:    make(map[string]Signal, len(xi.Signals)),
		}
		for _, xm := range xi.Methods {
			m := Method{Name: xm.Name}
			for _, arg := range xm.Args {
				a := Argument{
					Name:            arg.Name,
					Signature:       arg.Type,
					TypeDescription: DescribeSignature(arg.Type),
				}
				// Method args default to "in" per the DTD.
				if arg.Direction == "out" {
					m.Outputs = append(m.Outputs, a)
				} else {
					m.Inputs = append(m.Inputs, a)
				}
			}
			iface.Methods[m.Name] = m
		}
		for _, xp := range xi.Properties {
			iface.Properties[xp.Name] = Property{
				Name:            xp.Name,
				Signature:       xp.Type,
				Access:          xp.Access,
				TypeDescription: DescribeSignature(xp.Type),
			}
		}
		for _, xs := range xi.Signals {
			sig := Signal{Name: xs.Name}
			for _, arg := range xs.Args {
				sig.Arguments = append(sig.Arguments, Argument{
					Name:            arg.Name,
					Signature:       arg.Type,
					TypeDescription: DescribeSignature(arg.Type),
				})
			}
			iface.Signals[sig.Name] = sig
		}
		interfaces[iface.Name] = iface
	}

	var children []string
	for _, child := range node.Children {
		name := strings.TrimSpace(child.Name)
		if name != "" && !strings.HasPrefix(name, "/") {
			children = append(children, name)
		}
	}

	return interfaces, children, nil
}

// joinPath builds a child object path.
func joinPath(parent, child string) string {
	if parent == "/" {
		return "/" + child
	}
	return parent + "/" + child
}

// DescribeSignature renders a D-Bus type signature as a human-readable type
// description, e.g. "a{sv}" -> "array of dict of (string -> variant)".
func DescribeSignature(sig string) string {
	if sig == "" {
		return "none"
	}
	desc, rest := describeOne(sig)
	if rest != "" {
		// Multi-type signature; describe each element.
		parts := []string{desc}
		for rest != "" {
			desc, rest = describeOne(rest)
			parts = append(parts, desc)
		}
		return strings.Join(parts, ", ")
	}
	return desc
}

func describeOne(sig string) (string, string) {
	if sig == "" {
		return "none", ""
	}
	switch sig[0] {
	case 'y':
		return "byte", sig[1:]
	case 'b':
		return "boolean", sig[1:]
	case 'n':
		return "int16", sig[1:]
	case 'q':
		return "uint16", sig[1:]
	case 'i':
		return "int32", sig[1:]
	case 'u':
		return "uint32", sig[1:]
	case 'x':
		return "int64", sig[1:]
	case 't':
		return "uint64", sig[1:]
	case 'd':
		return "double", sig[1:]
	case 's':
		return "string", sig[1:]
	case 'o':
		return "object path", sig[1:]
	case 'g':
		return "signature", sig[1:]
	case 'v':
		return "variant", sig[1:]
	case 'h':
		return "file descriptor", sig[1:]
	case 'a':
		if len(sig) > 1 && sig[1] == '{' {
			key, rest := describeOne(sig[2:])
			val, rest := describeOne(rest)
			rest = strings.TrimPrefix(rest, "}")
			return "dict of (" + key + " -> " + val + ")", rest
		}
		item, rest := describeOne(sig[1:])
		return "array of " + item, rest
	case '(':
		var parts []string
		rest := sig[1:]
		for rest != "" && rest[0] != ')' {
			var part string
			part, rest = describeOne(rest)
			parts = append(parts, part)
		}
		rest = strings.TrimPrefix(rest, ")")
		return "struct of (" + strings.Join(parts, ", ") + ")", rest
	default:
		return "unknown(" + string(sig[0]) + ")", sig[1:]
	}
}
