// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/busbridge/busbridge/pkg/bus"
	"github.com/busbridge/busbridge/pkg/knowledge"
	"github.com/busbridge/busbridge/pkg/resilience"
	"github.com/busbridge/busbridge/pkg/telemetry"
)

const (
	defaultMaxVisited = 1000
	defaultFanOut     = 8

	// walkWorkers bounds concurrent introspection calls within one
	// service's walk. The workers share the visited set behind a mutex so
	// the visited cap holds across branches.
	walkWorkers = 4
)

// Engine discovers the service/object/interface graph of one or more buses.
type Engine struct {
	maxVisited int
	fanOut     int
	retry      resilience.RetryConfig
	kb         *knowledge.Base
	log        *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxVisited caps the number of paths walked per service.
func WithMaxVisited(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxVisited = n
		}
	}
}

// WithFanOut limits how many services are swept concurrently.
func WithFanOut(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.fanOut = n
		}
	}
}

// WithRetry overrides the introspection retry policy.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(e *Engine) { e.retry = rc }
}

// WithKnowledgeBase makes the engine write one schema definition per
// discovered service into kb.
func WithKnowledgeBase(kb *knowledge.Base) Option {
	return func(e *Engine) { e.kb = kb }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates a discovery engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		maxVisited: defaultMaxVisited,
		fanOut:     defaultFanOut,
		// One retry for dropped replies; addressing errors fail fast so a
		// service that refuses introspection does not slow the walk.
		retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(2).
			WithInitialDelay(50 * time.Millisecond).
			WithIsRecoverable(bus.IsTransient),
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover sweeps every provided bus. Individual service failures degrade
// their records; the sweep itself always produces a report.
func (e *Engine) Discover(ctx context.Context, conns ...bus.Conn) *Report {
	start := time.Now()
	report := &Report{
		Timestamp: start.UTC(),
		Buses:     make(map[string]*BusReport, len(conns)),
	}

	for _, conn := range conns {
		if conn == nil {
			continue
		}
		busReport := e.discoverBus(ctx, conn)
		report.Buses[busReport.BusType] = busReport
		report.Stats.BusesScanned = append(report.Stats.BusesScanned, busReport.BusType)
		for _, svc := range busReport.Services {
			report.Stats.addService(svc)
		}
		report.Stats.UnknownObjects += len(busReport.Unknown)

		if m, err := telemetry.GetMetrics(); err == nil {
			objects := 0
			for _, svc := range busReport.Services {
				objects += len(svc.Objects)
			}
			m.RecordDiscovery(ctx, busReport.BusType, objects)
		}
	}
	sort.Strings(report.Stats.BusesScanned)
	report.Stats.Elapsed = time.Since(start)

	e.log.Info("discovery sweep complete",
		"services", report.Stats.TotalServices,
		"objects", report.Stats.TotalObjects,
		"unknown", report.Stats.UnknownObjects,
		"elapsed", report.Stats.Elapsed)

	return report
}

func (e *Engine) discoverBus(ctx context.Context, conn bus.Conn) *BusReport {
	busReport := &BusReport{
		BusType:  conn.BusType(),
		Services: make(map[string]*Service),
	}

	names, err := conn.ListNames(ctx)
	if err != nil {
		e.log.Warn("bus name listing failed", "bus", conn.BusType(), "error", err)
		return busReport
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fanOut)

	for _, name := range names {
		// Skip unique connection names (":1.42"); only well-known
		// names are services.
		if strings.HasPrefix(name, ":") || !strings.Contains(name, ".") {
			continue
		}
		name := name
		g.Go(func() error {
			svc, unknown := e.discoverService(gctx, conn, name)
			mu.Lock()
			busReport.Services[svc.Name] = svc
			busReport.Unknown = append(busReport.Unknown, unknown...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if e.kb != nil {
		for _, svc := range busReport.Services {
			if err := e.kb.Put(ctx, serviceDefinition(conn.BusType(), svc)); err != nil {
				e.log.Warn("knowledge base write failed", "service", svc.Name, "error", err)
			}
		}
	}

	return busReport
}

// discoverService maps one service. The aggregator result is authoritative
// when present; the recursive walk is only a fallback.
func (e *Engine) discoverService(ctx context.Context, conn bus.Conn, name string) (*Service, []UnknownObject) {
	svc := &Service{
		Name:     name,
		LastSeen: time.Now().UTC(),
		Objects:  make(map[string]*Object),
	}
	if owner, err := conn.NameOwner(ctx, name); err == nil {
		svc.Owner = owner
	}

	roots := candidateRoots(name)

	for _, root := range roots {
		managed, err := conn.ManagedObjects(ctx, name, root)
		if err != nil {
			continue
		}
		svc.DiscoveryMethod = MethodObjectManager
		for path, ifaceNames := range managed {
			obj := &Object{
				Path:           path,
				Interfaces:     make(map[string]*Interface, len(ifaceNames)),
				Introspectable: true,
			}
			for _, ifaceName := range ifaceNames {
				obj.Interfaces[ifaceName] = &Interface{Name: ifaceName}
			}
			svc.Objects[path] = obj
		}
		return svc, nil
	}

	svc.DiscoveryMethod = MethodRecursive
	w := &walker{
		conn:    conn,
		service: name,
		max:     e.maxVisited,
		retry:   e.retry,
		visited: make(map[string]bool),
		objects: make(map[string]*Object),
	}
	w.walk(ctx, roots)

	svc.Objects = w.objects
	introspectable := 0
	for _, obj := range svc.Objects {
		if obj.Introspectable {
			introspectable++
		}
	}
	if introspectable == 0 && w.firstErr != "" {
		svc.Error = w.firstErr
	}

	var unknown []UnknownObject
	for _, path := range w.overflow {
		unknown = append(unknown, UnknownObject{
			BusType: conn.BusType(),
			Service: name,
			Path:    path,
			Error:   "visited cap reached",
		})
	}
	return svc, unknown
}

// candidateRoots returns the paths where discovery starts: "/" and the path
// derived from the service name, e.g. org.freedesktop.UPower ->
// /org/freedesktop/UPower.
func candidateRoots(service string) []string {
	derived := "/" + strings.ReplaceAll(service, ".", "/")
	if derived == "/" {
		return []string{"/"}
	}
	return []string{"/", derived}
}

// walker performs the bounded recursive walk for one service. Workers share
// the visited set and counter behind one mutex so each (service, path) pair
// is introspected at most once and the cap holds bus-wide pathologies down.
type walker struct {
	conn    bus.Conn
	service string
	max     int
	retry   resilience.RetryConfig

	mu       sync.Mutex
	visited  map[string]bool
	objects  map[string]*Object
	overflow []string
	firstErr string
}

func (w *walker) walk(ctx context.Context, roots []string) {
	// Each path is enqueued at most once, so the buffer bounds the queue.
	work := make(chan string, w.max+len(roots))
	var pending sync.WaitGroup

	var enqueue func(path string)
	enqueue = func(path string) {
		w.mu.Lock()
		if w.visited[path] {
			w.mu.Unlock()
			return
		}
		if len(w.visited) >= w.max {
			w.overflow = append(w.overflow, path)
			w.mu.Unlock()
			return
		}
		w.visited[path] = true
		w.mu.Unlock()
		pending.Add(1)
		work <- path
	}

	for _, root := range roots {
		enqueue(root)
	}

	done := make(chan struct{})
	for i := 0; i < walkWorkers; i++ {
		go func() {
			for {
				select {
				case <-done:
					return
				case path := <-work:
					w.visit(ctx, path, enqueue)
					pending.Done()
				}
			}
		}()
	}

	pending.Wait()
	close(done)
}

// visit introspects one path, retrying transient broker failures. Failures
// still emit an Object record with Introspectable=false rather than aborting
// the walk.
func (w *walker) visit(ctx context.Context, path string, enqueue func(string)) {
	var xmlData string
	err := w.retry.Do(ctx, func() error {
		var callErr error
		xmlData, callErr = w.conn.Introspect(ctx, w.service, path)
		return callErr
	})
	if err != nil {
		w.record(&Object{
			Path:           path,
			Interfaces:     make(map[string]*Interface),
			Introspectable: false,
		}, err.Error())
		return
	}

	interfaces, children, err := parseIntrospection(xmlData)
	if err != nil {
		w.record(&Object{
			Path:           path,
			Interfaces:     make(map[string]*Interface),
			Introspectable: false,
			XML:            xmlData,
		}, err.Error())
		return
	}

	obj := &Object{
		Path:           path,
		Interfaces:     interfaces,
		Introspectable: true,
		XML:            xmlData,
	}
	for _, child := range children {
		obj.ManagedChildren = append(obj.ManagedChildren, joinPath(path, child))
	}
	w.record(obj, "")

	for _, childPath := range obj.ManagedChildren {
		enqueue(childPath)
	}
}

func (w *walker) record(obj *Object, errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.objects[obj.Path] = obj
	if errMsg != "" && w.firstErr == "" {
		w.firstErr = errMsg
	}
}

// serviceDefinition converts a discovered service into a knowledge base
// entry describing its object layout.
func serviceDefinition(busType string, svc *Service) knowledge.Definition {
	properties := make(map[string]interface{}, len(svc.Objects))
	for path, obj := range svc.Objects {
		ifaceNames := make([]string, 0, len(obj.Interfaces))
		for name := range obj.Interfaces {
			ifaceNames = append(ifaceNames, name)
		}
		sort.Strings(ifaceNames)
		properties[path] = map[string]interface{}{
			"type":           "object",
			"interfaces":     ifaceNames,
			"introspectable": obj.Introspectable,
		}
	}

	return knowledge.Definition{
		Name:       "dbus_" + busType + "_" + strings.ReplaceAll(svc.Name, ".", "_"),
		SourceType: knowledge.SourceDBus,
		SourceData: map[string]interface{}{
			"service":          svc.Name,
			"bus":              busType,
			"discovery_method": svc.DiscoveryMethod,
			"object_count":     len(svc.Objects),
		},
		GeneratedSchemas: []interface{}{
			map[string]interface{}{
				"type":       "object",
				"properties": properties,
			},
		},
		ValidationRules: []string{"service_name_format", "object_path_format"},
	}
}
