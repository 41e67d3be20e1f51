// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package inspector infers schemas from arbitrary data: files, raw payloads,
// container metadata, and opaque binary blobs. A chain of format parsers is
// tried in order; the richest resulting schema wins and is recorded in the
// knowledge base.
package inspector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/busbridge/busbridge/pkg/errors"
	"github.com/busbridge/busbridge/pkg/knowledge"
	"github.com/busbridge/busbridge/pkg/telemetry"
)

// Input source kinds.
const (
	SourceFile    = "file"
	SourceDocker  = "docker"
	SourceRawData = "raw_data"
	SourceURL     = "url"
)

// Input identifies what to inspect. Name is the file path, container name,
// payload description, or URL depending on Kind. Data carries the payload
// for raw and URL sources; file sources are read from disk.
type Input struct {
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	FormatHint string `json:"format_hint,omitempty"`
	Data       []byte `json:"data,omitempty"`
}

// Result is the outcome of one inspection.
type Result struct {
	Input              Input         `json:"input"`
	DetectedFormat     string        `json:"detected_format"`
	ParsedData         interface{}   `json:"parsed_data"`
	Schema             *ObjectSchema `json:"schema"`
	KnowledgeBaseEntry string        `json:"knowledge_base_entry"`
	Elapsed            time.Duration `json:"elapsed"`
	ParseErrors        []string      `json:"parse_errors,omitempty"`
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Inspector runs the parser chain and writes winning schemas to the
// knowledge base.
type Inspector struct {
	kb      *knowledge.Base
	log     *slog.Logger
	run     commandRunner
	parsers []namedParser
}

type namedParser struct {
	name string
	p    parser
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(i *Inspector) { i.log = log }
}

// withCommandRunner substitutes the process runner in tests.
func withCommandRunner(run commandRunner) Option {
	return func(i *Inspector) { i.run = run }
}

// New creates an inspector. kb may be nil to skip knowledge base writes.
func New(kb *knowledge.Base, opts ...Option) *Inspector {
	i := &Inspector{
		kb:  kb,
		log: slog.Default(),
		run: execRunner,
	}
	for _, opt := range opts {
		opt(i)
	}
	// Trial order breaks complexity-score ties.
	i.parsers = []namedParser{
		{"json", jsonParser{}},
		{"xml", xmlParser{}},
		{"yaml", yamlParser{}},
		{"docker", dockerParser{run: i.run}},
		{"binary", binaryParser{}},
		{"text", textParser{}},
		{"auto", autoParser{}},
	}
	return i
}

// Inspect parses the input, keeps the richest schema any parser produced,
// and records it. Only total parser-chain exhaustion is an error.
func (i *Inspector) Inspect(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()

	if in.Kind == SourceFile && len(in.Data) == 0 {
		data, err := os.ReadFile(in.Name)
		if err != nil {
			return nil, errors.New(errors.CodeNotFound, "inspection target unreadable", err).
				WithContext("path", in.Name)
		}
		in.Data = data
	}

	detected := i.detectFormat(in)

	var results []parsed
	var parseErrors []string

	if p, ok := i.parserFor(detected); ok {
		if result, err := p.parse(ctx, in); err == nil {
			results = append(results, result)
		} else {
			parseErrors = append(parseErrors, fmt.Sprintf("%s parser failed: %v", detected, err))
		}
	}

	if len(results) == 0 {
		if result, err := (autoParser{}).parse(ctx, in); err == nil {
			results = append(results, result)
		} else {
			parseErrors = append(parseErrors, fmt.Sprintf("auto parser failed: %v", err))
		}
	}

	if len(results) == 0 {
		for _, np := range i.parsers {
			if np.name == detected || np.name == "auto" {
				continue
			}
			if result, err := np.p.parse(ctx, in); err == nil {
				results = append(results, result)
			} else {
				parseErrors = append(parseErrors, fmt.Sprintf("%s parser failed: %v", np.name, err))
			}
		}
	}

	if len(results) == 0 {
		return nil, errors.New(errors.CodeInspectionExhausted,
			"no parser could interpret the input: "+strings.Join(parseErrors, "; "), nil).
			WithContext("kind", in.Kind).
			WithContext("name", in.Name)
	}

	best := results[0]
	for _, r := range results[1:] {
		if r.schema.ComplexityScore() > best.schema.ComplexityScore() {
			best = r
		}
	}

	entryName := knowledgeKey(in)
	if i.kb != nil {
		def := knowledge.Definition{
			Name:       entryName,
			SourceType: sourceType(in.Kind),
			SourceData: map[string]interface{}{
				"kind":            in.Kind,
				"name":            in.Name,
				"detected_format": detected,
				"size":            len(in.Data),
			},
			GeneratedSchemas: []interface{}{best.schema},
			ValidationRules:  best.schema.ValidationRules(),
			Examples:         []interface{}{best.data},
		}
		if err := i.kb.Put(ctx, def); err != nil {
			i.log.Warn("knowledge base write failed", "entry", entryName, "error", err)
		}
	}

	if m, err := telemetry.GetMetrics(); err == nil {
		m.RecordInspection(ctx, detected)
	}

	return &Result{
		Input:              in,
		DetectedFormat:     detected,
		ParsedData:         best.data,
		Schema:             best.schema,
		KnowledgeBaseEntry: entryName,
		Elapsed:            time.Since(start),
		ParseErrors:        parseErrors,
	}, nil
}

// InspectBinary runs the binary specialization directly and records the
// findings under a raw_data knowledge base entry.
func (i *Inspector) InspectBinary(ctx context.Context, description string, data []byte) (*BinaryReport, error) {
	if len(data) == 0 {
		return nil, errors.New(errors.CodeInvalidParams, "no data provided", nil)
	}
	report := analyzeBinary(description, data)

	if i.kb != nil {
		def := knowledge.Definition{
			Name:       "raw_data_" + strings.ReplaceAll(description, " ", "_"),
			SourceType: knowledge.SourceRawData,
			SourceData: map[string]interface{}{
				"description": description,
				"size":        report.Size,
				"entropy":     report.Entropy,
			},
			GeneratedSchemas: []interface{}{&ObjectSchema{
				SchemaType:     "object",
				ObjectPatterns: []string{"binary_blob"},
			}},
		}
		if err := i.kb.Put(ctx, def); err != nil {
			i.log.Warn("knowledge base write failed", "entry", def.Name, "error", err)
		}
	}

	if m, err := telemetry.GetMetrics(); err == nil {
		m.RecordInspection(ctx, "binary")
	}
	return &report, nil
}

func (i *Inspector) parserFor(name string) (parser, bool) {
	for _, np := range i.parsers {
		if np.name == name {
			return np.p, true
		}
	}
	return nil, false
}

func (i *Inspector) detectFormat(in Input) string {
	if in.FormatHint != "" {
		return in.FormatHint
	}
	switch in.Kind {
	case SourceFile:
		switch strings.TrimPrefix(strings.ToLower(filepath.Ext(in.Name)), ".") {
		case "json":
			return "json"
		case "xml":
			return "xml"
		case "yaml", "yml":
			return "yaml"
		}
		return "auto"
	case SourceDocker:
		return "docker"
	default:
		return "auto"
	}
}

// knowledgeKey derives the deterministic knowledge base entry name for an
// input, so re-inspection overwrites the prior entry.
func knowledgeKey(in Input) string {
	switch in.Kind {
	case SourceFile:
		base := filepath.Base(in.Name)
		return "file_" + strings.TrimSuffix(base, filepath.Ext(base))
	case SourceDocker:
		return "docker_container_" + in.Name
	case SourceURL:
		sanitized := strings.NewReplacer("/", "_", ":", "_").Replace(in.Name)
		return "url_" + sanitized
	default:
		return "raw_data_" + strings.ReplaceAll(in.Name, " ", "_")
	}
}

func sourceType(kind string) string {
	switch kind {
	case SourceFile:
		return knowledge.SourceFile
	case SourceDocker:
		return knowledge.SourceDocker
	case SourceURL:
		return knowledge.SourceURL
	default:
		return knowledge.SourceRawData
	}
}
