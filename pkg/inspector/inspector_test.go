// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package inspector

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/busbridge/busbridge/pkg/errors"
	"github.com/busbridge/busbridge/pkg/knowledge"
)

func newTestKB(t *testing.T) *knowledge.Base {
	t.Helper()
	kb, err := knowledge.New(32)
	if err != nil {
		t.Fatal(err)
	}
	return kb
}

func TestInspectNestedJSONSchema(t *testing.T) {
	insp := New(newTestKB(t))

	result, err := insp.Inspect(context.Background(), Input{
		Kind: SourceRawData,
		Name: "nested sample",
		Data: []byte(`{"a": {"b": 1}}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	a, ok := result.Schema.Properties["a"]
	if !ok {
		t.Fatal("property a missing")
	}
	if a.DataType != "object" || a.NestedSchema == nil {
		t.Fatalf("property a = %+v", a)
	}
	b, ok := a.NestedSchema.Properties["b"]
	if !ok {
		t.Fatal("nested property b missing")
	}
	if b.DataType != "number" {
		t.Errorf("nested data type = %q, want number", b.DataType)
	}
}

func TestInspectFileDetectsFormatAndWritesKnowledge(t *testing.T) {
	kb := newTestKB(t)
	insp := New(kb)

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"port": 8090, "host": "localhost"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	result, err := insp.Inspect(context.Background(), Input{Kind: SourceFile, Name: path})
	if err != nil {
		t.Fatal(err)
	}
	if result.DetectedFormat != "json" {
		t.Errorf("detected format = %q", result.DetectedFormat)
	}
	if result.KnowledgeBaseEntry != "file_config" {
		t.Errorf("entry name = %q", result.KnowledgeBaseEntry)
	}
	if _, ok := kb.Get("file_config"); !ok {
		t.Error("knowledge base entry not written")
	}
}

func TestInspectYAMLStructured(t *testing.T) {
	insp := New(nil)
	result, err := insp.Inspect(context.Background(), Input{
		Kind:       SourceRawData,
		Name:       "service manifest",
		FormatHint: "yaml",
		Data:       []byte("name: web\nreplicas: 3\n"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Schema.Properties["replicas"].DataType != "number" {
		t.Errorf("replicas type = %q", result.Schema.Properties["replicas"].DataType)
	}
}

func TestInspectPlainTextFallsBackToBinary(t *testing.T) {
	insp := New(nil)
	result, err := insp.Inspect(context.Background(), Input{
		Kind: SourceRawData,
		Name: "notes",
		Data: []byte("just some plain prose, no structure here"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Schema.ObjectPatterns) == 0 || result.Schema.ObjectPatterns[0] != "binary_blob" {
		t.Errorf("patterns = %v", result.Schema.ObjectPatterns)
	}
}

func TestInspectExhaustionAggregatesErrors(t *testing.T) {
	insp := New(nil)
	_, err := insp.Inspect(context.Background(), Input{Kind: SourceRawData, Name: "empty"})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if errors.Code(err) != errors.CodeInspectionExhausted {
		t.Errorf("code = %q", errors.Code(err))
	}
	// Every parser in the chain contributes its own failure message,
	// including the last-resort phase that tries the remaining parsers.
	for _, name := range []string{"auto", "json", "xml", "yaml", "docker", "binary", "text"} {
		if !strings.Contains(err.Error(), name+" parser failed") {
			t.Errorf("aggregated error missing %s parser message: %v", name, err)
		}
	}
}

func TestComplexityScoreWeights(t *testing.T) {
	schema := &ObjectSchema{
		SchemaType: "object",
		Properties: map[string]SchemaProperty{
			"a": {DataType: "string"},
			"b": {DataType: "number"},
		},
		Required:       []string{"a"},
		ObjectPatterns: []string{"x", "y"},
	}
	if got := schema.ComplexityScore(); got != 2*10+1*5+2*3 {
		t.Errorf("score = %d", got)
	}
}

func TestPatternExtractionRanksRepeats(t *testing.T) {
	pattern := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}
	var buf []byte
	for i := 0; i < 5; i++ {
		buf = append(buf, pattern...)
	}
	// Trailing noise without 8-byte repeats.
	buf = append(buf, 0x11, 0x99, 0x42, 0x7f, 0xa3, 0x5c, 0xe8, 0x0d, 0x66)

	patterns := extractPatterns(buf)
	if len(patterns) == 0 {
		t.Fatal("no patterns found")
	}
	first := patterns[0]
	if !bytes.Equal(first.Pattern, pattern) {
		t.Errorf("top pattern = %x", first.Pattern)
	}
	if first.Count < 5 {
		t.Errorf("count = %d, want >= 5", first.Count)
	}
}

func TestShannonEntropyBounds(t *testing.T) {
	if got := shannonEntropy(bytes.Repeat([]byte{0x00}, 1024)); got != 0 {
		t.Errorf("uniform data entropy = %f", got)
	}
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	if got := shannonEntropy(all); math.Abs(got-8.0) > 1e-9 {
		t.Errorf("max entropy = %f, want 8", got)
	}
}

func TestExtractStringsMinimumRun(t *testing.T) {
	data := append([]byte{0x00, 0x01}, []byte("config")...)
	data = append(data, 0xff, 'a', 'b', 0xff)
	strs := extractStrings(data)
	if len(strs) != 1 || strs[0] != "config" {
		t.Errorf("strings = %v", strs)
	}
}

func TestInspectBinaryReport(t *testing.T) {
	kb := newTestKB(t)
	insp := New(kb)

	report, err := insp.InspectBinary(context.Background(), "legacy dump", []byte("ABCDABCDABCDABCDmagic-string\x00\x01"))
	if err != nil {
		t.Fatal(err)
	}
	if report.Size == 0 || report.Entropy <= 0 {
		t.Errorf("report = %+v", report)
	}
	if len(report.StringsFound) == 0 {
		t.Error("expected extracted strings")
	}
	if _, ok := kb.Get("raw_data_legacy_dump"); !ok {
		t.Error("binary inspection should write a knowledge base entry")
	}
}

const dockerInspectJSON = `[{
	"Id": "abc123",
	"State": {"Status": "running"},
	"Config": {
		"Image": "nginx:latest",
		"Env": ["PATH=/usr/bin", "MODE=prod"],
		"Labels": {"team": "infra"}
	},
	"NetworkSettings": {
		"Ports": {"80/tcp": [{"HostIp": "0.0.0.0", "HostPort": "8080"}]}
	},
	"Mounts": [{"Source": "/data", "Destination": "/var/lib/data", "Mode": "rw", "RW": true}]
}]`

const dockerTopOutput = `UID   PID   PPID  CMD
root  100   1     nginx: master process
www   101   100   nginx: worker process`

func TestInspectContainer(t *testing.T) {
	kb := newTestKB(t)
	runner := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if args[0] == "inspect" {
			return []byte(dockerInspectJSON), nil
		}
		return []byte(dockerTopOutput), nil
	}
	insp := New(kb, withCommandRunner(runner))

	report, err := insp.InspectContainer(context.Background(), "web")
	if err != nil {
		t.Fatal(err)
	}
	if report.Image != "nginx:latest" || report.Status != "running" {
		t.Errorf("report = %+v", report)
	}
	if report.Environment["MODE"] != "prod" {
		t.Errorf("environment = %v", report.Environment)
	}
	if got := report.Ports["80/tcp"]; len(got) != 1 || got[0] != "0.0.0.0:8080" {
		t.Errorf("ports = %v", report.Ports)
	}
	if len(report.Processes) != 2 || report.Processes[0].PID != 100 {
		t.Errorf("processes = %+v", report.Processes)
	}
	if _, ok := kb.Get("docker_container_web"); !ok {
		t.Error("knowledge base entry missing")
	}
}

func TestKnowledgeKeyDerivation(t *testing.T) {
	tests := []struct {
		in   Input
		want string
	}{
		{Input{Kind: SourceFile, Name: "/etc/app/config.yaml"}, "file_config"},
		{Input{Kind: SourceDocker, Name: "web"}, "docker_container_web"},
		{Input{Kind: SourceRawData, Name: "sensor payload"}, "raw_data_sensor_payload"},
		{Input{Kind: SourceURL, Name: "https://api.test/v1"}, "url_https___api.test_v1"},
	}
	for _, tt := range tests {
		if got := knowledgeKey(tt.in); got != tt.want {
			t.Errorf("knowledgeKey(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
