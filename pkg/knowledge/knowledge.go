// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package knowledge accumulates schema definitions inferred by the discovery
// engine and the object inspector. The in-memory base is LRU-bounded; an
// optional SQLite store persists entries across restarts.
package knowledge

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/busbridge/busbridge/pkg/errors"
)

// Source types for definitions.
const (
	SourceDBus    = "dbus"
	SourceFile    = "file"
	SourceDocker  = "docker"
	SourceRawData = "raw_data"
	SourceURL     = "url"
)

// Definition is one knowledge base entry: a named schema inferred from a
// source, together with the raw payload it was inferred from. Re-inspecting
// the same source overwrites the prior entry (last write wins).
type Definition struct {
	Name             string        `json:"name"`
	SourceType       string        `json:"source_type"`
	SourceData       interface{}   `json:"source_data"`
	GeneratedSchemas []interface{} `json:"generated_schemas"`
	ValidationRules  []string      `json:"validation_rules"`
	Examples         []interface{} `json:"examples"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Base is the bounded in-memory knowledge base with optional write-through
// persistence. The LRU cache is safe for concurrent use.
type Base struct {
	cache *lru.Cache[string, Definition]
	store *Store
	log   *slog.Logger
}

// Option configures a Base.
type Option func(*Base)

// WithStore enables write-through persistence. Eviction from the in-memory
// LRU never deletes persisted rows; the store only grows or overwrites.
func WithStore(store *Store) Option {
	return func(b *Base) { b.store = store }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Base) { b.log = log }
}

// New creates a knowledge base bounded to capacity entries.
func New(capacity int, opts ...Option) (*Base, error) {
	if capacity <= 0 {
		capacity = 512
	}
	cache, err := lru.New[string, Definition](capacity)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "knowledge base init failed", err)
	}
	b := &Base{cache: cache, log: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Put records a definition under its name, overwriting any prior entry.
func (b *Base) Put(ctx context.Context, def Definition) error {
	if def.Name == "" {
		return errors.New(errors.CodeInvalidParams, "definition name is required", nil)
	}
	if def.UpdatedAt.IsZero() {
		def.UpdatedAt = time.Now().UTC()
	}
	evicted := b.cache.Add(def.Name, def)
	if evicted {
		b.log.Debug("knowledge base evicted oldest entry", "added", def.Name)
	}
	if b.store != nil {
		if err := b.store.Save(ctx, def); err != nil {
			return errors.New(errors.CodeInternal, "knowledge base persistence failed", err).
				WithContext("name", def.Name)
		}
	}
	return nil
}

// Get returns the definition stored under name.
func (b *Base) Get(name string) (Definition, bool) {
	return b.cache.Get(name)
}

// Names lists the entry names currently held in memory, oldest first.
func (b *Base) Names() []string {
	return b.cache.Keys()
}

// Len reports the number of in-memory entries.
func (b *Base) Len() int {
	return b.cache.Len()
}

// Warm loads persisted definitions into the in-memory cache. Entries beyond
// the LRU capacity evict in load order, keeping the most recently saved.
func (b *Base) Warm(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	defs, err := b.store.All(ctx)
	if err != nil {
		return err
	}
	for _, def := range defs {
		b.cache.Add(def.Name, def)
	}
	b.log.Info("knowledge base warmed from store", "entries", len(defs))
	return nil
}
