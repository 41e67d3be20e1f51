// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import "testing"

func TestDescribeSignature(t *testing.T) {
	tests := []struct {
		sig  string
		want string
	}{
		{"", "none"},
		{"s", "string"},
		{"b", "boolean"},
		{"a{sv}", "dict of (string -> variant)"},
		{"as", "array of string"},
		{"a(iu)", "array of struct of (int32, uint32)"},
		{"aa{sa{sv}}", "array of dict of (string -> dict of (string -> variant))"},
		{"so", "string, object path"},
		{"h", "file descriptor"},
		{"z", "unknown(z)"},
	}
	for _, tt := range tests {
		if got := DescribeSignature(tt.sig); got != tt.want {
			t.Errorf("DescribeSignature(%q) = %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestParseIntrospectionRejectsMalformedXML(t *testing.T) {
	if _, _, err := parseIntrospection("<node><interface"); err == nil {
		t.Error("expected parse error")
	}
}

func TestParseIntrospectionFiltersChildren(t *testing.T) {
	xml := `<node><node name="ok"/><node name=""/><node name="/abs"/></node>`
	_, children, err := parseIntrospection(xml)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0] != "ok" {
		t.Errorf("children = %v", children)
	}
}
