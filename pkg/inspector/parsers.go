// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package inspector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/busbridge/busbridge/pkg/errors"
)

// parsed is one successful parse attempt.
type parsed struct {
	data   interface{}
	schema *ObjectSchema
}

// parser turns raw input into structured data plus an inferred schema.
type parser interface {
	parse(ctx context.Context, in Input) (parsed, error)
}

type jsonParser struct{}

func (jsonParser) parse(_ context.Context, in Input) (parsed, error) {
	if len(in.Data) == 0 {
		return parsed{}, errors.New(errors.CodeInvalidParams, "no data provided for JSON parsing", nil)
	}
	var value interface{}
	if err := json.Unmarshal(in.Data, &value); err != nil {
		return parsed{}, errors.New(errors.CodeParseError, "JSON decode failed", err)
	}
	return parsed{data: value, schema: analyzeValue(value)}, nil
}

type xmlParser struct{}

func (xmlParser) parse(_ context.Context, in Input) (parsed, error) {
	trimmed := strings.TrimSpace(string(in.Data))
	if !strings.HasPrefix(trimmed, "<") {
		return parsed{}, errors.New(errors.CodeParseError, "input is not XML", nil)
	}
	// Token-walk the document to verify well-formedness.
	dec := xml.NewDecoder(strings.NewReader(trimmed))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return parsed{}, errors.New(errors.CodeParseError, "XML decode failed", err)
		}
	}

	minLen := 1.0
	schema := &ObjectSchema{
		SchemaType: "object",
		Properties: map[string]SchemaProperty{
			"xml_content": {
				DataType:    "string",
				Description: "Raw XML content",
				Pattern:     "^<.*>$",
				Minimum:     &minLen,
			},
		},
		Required:       []string{"xml_content"},
		ObjectPatterns: []string{"xml_structure"},
	}
	return parsed{data: map[string]interface{}{"xml": trimmed}, schema: schema}, nil
}

type yamlParser struct{}

func (yamlParser) parse(_ context.Context, in Input) (parsed, error) {
	if len(in.Data) == 0 {
		return parsed{}, errors.New(errors.CodeInvalidParams, "no data provided for YAML parsing", nil)
	}
	var value interface{}
	if err := yaml.Unmarshal(in.Data, &value); err != nil {
		return parsed{}, errors.New(errors.CodeParseError, "YAML decode failed", err)
	}
	// A bare scalar round-trips through YAML; only structured documents
	// count as a YAML parse so plain text falls through the chain.
	switch value.(type) {
	case map[string]interface{}, []interface{}:
	default:
		return parsed{}, errors.New(errors.CodeParseError, "YAML input is not structured", nil)
	}
	value = normalizeYAML(value)
	return parsed{data: value, schema: analyzeValue(value)}, nil
}

// normalizeYAML rewrites decoded YAML so downstream schema analysis and JSON
// encoding see the same shapes JSON decoding produces.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if ks, ok := k.(string); ok {
				out[ks] = normalizeYAML(item)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}

type dockerParser struct {
	run commandRunner
}

func (p dockerParser) parse(ctx context.Context, in Input) (parsed, error) {
	if in.Kind != SourceDocker {
		return parsed{}, errors.New(errors.CodeInvalidParams, "docker parser requires a container source", nil)
	}
	out, err := p.run(ctx, "docker", "inspect", in.Name)
	if err != nil {
		return parsed{}, errors.New(errors.CodeInternal, "docker inspect failed", err).
			WithContext("container", in.Name)
	}
	var value interface{}
	if err := json.Unmarshal(out, &value); err != nil {
		return parsed{}, errors.New(errors.CodeParseError, "docker inspect output decode failed", err)
	}
	schema := analyzeValue(value)
	schema.ObjectPatterns = append(schema.ObjectPatterns, "docker_container")
	return parsed{data: value, schema: schema}, nil
}

type binaryParser struct{}

func (binaryParser) parse(_ context.Context, in Input) (parsed, error) {
	if len(in.Data) == 0 {
		return parsed{}, errors.New(errors.CodeInvalidParams, "no data provided for binary parsing", nil)
	}
	data := map[string]interface{}{
		"binary_data": base64.StdEncoding.EncodeToString(in.Data),
		"size":        len(in.Data),
		"entropy":     shannonEntropy(in.Data),
	}
	schema := &ObjectSchema{
		SchemaType:     "object",
		ObjectPatterns: []string{"binary_blob"},
	}
	return parsed{data: data, schema: schema}, nil
}

type textParser struct{}

func (textParser) parse(_ context.Context, in Input) (parsed, error) {
	if len(in.Data) == 0 {
		return parsed{}, errors.New(errors.CodeInvalidParams, "no data provided for text parsing", nil)
	}
	schema := &ObjectSchema{
		SchemaType:     "object",
		ObjectPatterns: []string{"plain_text"},
	}
	return parsed{data: map[string]interface{}{"text": string(in.Data)}, schema: schema}, nil
}

// autoParser tries JSON, XML, YAML, then binary, returning the first success.
type autoParser struct{}

func (autoParser) parse(ctx context.Context, in Input) (parsed, error) {
	for _, p := range []parser{jsonParser{}, xmlParser{}, yamlParser{}, binaryParser{}} {
		if result, err := p.parse(ctx, in); err == nil {
			return result, nil
		}
	}
	return parsed{}, errors.New(errors.CodeParseError, "no auto-detection strategy matched", nil)
}
