// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package inspector

import (
	"bytes"
	"math"
	"sort"
)

// BinaryPattern is a repeating 8-byte window found in opaque data.
type BinaryPattern struct {
	Pattern []byte `json:"pattern"`
	Count   int    `json:"count"`
	Offset  int    `json:"offset"`
}

// BinaryReport is the specialized analysis for binary/legacy payloads.
type BinaryReport struct {
	Description  string          `json:"description"`
	Size         int             `json:"size"`
	Header       []byte          `json:"header,omitempty"`
	StringsFound []string        `json:"strings_found"`
	Patterns     []BinaryPattern `json:"patterns"`
	Entropy      float64         `json:"entropy"`
}

const patternWindow = 8

// shannonEntropy measures byte-level entropy in bits per byte.
func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	entropy := 0.0
	for _, count := range counts {
		if count > 0 {
			p := float64(count) / total
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// extractStrings pulls maximal runs of 4 or more printable characters.
func extractStrings(data []byte) []string {
	var out []string
	var current []byte
	flush := func() {
		if len(current) >= 4 {
			out = append(out, string(current))
		}
		current = current[:0]
	}
	for _, b := range data {
		if b >= 0x20 && b < 0x7f {
			current = append(current, b)
		} else {
			flush()
		}
	}
	flush()
	return out
}

// extractPatterns scans all fixed-size windows, counts non-overlapping
// repeats of each, and keeps the ten most frequent sorted by count.
func extractPatterns(data []byte) []BinaryPattern {
	if len(data) < patternWindow {
		return nil
	}

	seen := make(map[string]bool)
	var patterns []BinaryPattern
	for i := 0; i+patternWindow <= len(data); i++ {
		window := data[i : i+patternWindow]
		key := string(window)
		if seen[key] {
			continue
		}
		seen[key] = true

		count := 0
		for pos := 0; pos+patternWindow <= len(data); {
			idx := bytes.Index(data[pos:], window)
			if idx < 0 {
				break
			}
			count++
			pos += idx + patternWindow
		}
		if count > 1 {
			patterns = append(patterns, BinaryPattern{
				Pattern: append([]byte(nil), window...),
				Count:   count,
				Offset:  i,
			})
		}
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Count > patterns[j].Count
	})
	if len(patterns) > 10 {
		patterns = patterns[:10]
	}
	return patterns
}

// analyzeBinary runs the full binary specialization over a payload.
func analyzeBinary(description string, data []byte) BinaryReport {
	report := BinaryReport{
		Description:  description,
		Size:         len(data),
		StringsFound: extractStrings(data),
		Patterns:     extractPatterns(data),
		Entropy:      shannonEntropy(data),
	}
	if len(data) >= 16 {
		report.Header = append([]byte(nil), data[:16]...)
	} else if len(data) > 0 {
		report.Header = append([]byte(nil), data...)
	}
	return report
}
