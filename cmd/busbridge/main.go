// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/busbridge/busbridge/pkg/bus"
	"github.com/busbridge/busbridge/pkg/config"
	"github.com/busbridge/busbridge/pkg/discovery"
	"github.com/busbridge/busbridge/pkg/inspector"
	"github.com/busbridge/busbridge/pkg/knowledge"
	"github.com/busbridge/busbridge/pkg/mcpfront"
	"github.com/busbridge/busbridge/pkg/plugin"
	"github.com/busbridge/busbridge/pkg/registry"
	"github.com/busbridge/busbridge/pkg/rpc"
	"github.com/busbridge/busbridge/pkg/telemetry"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	stdio := flag.Bool("stdio", false, "serve MCP on stdin/stdout instead of HTTP")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("busbridge " + version)
		return
	}

	if err := run(*configPath, *stdio); err != nil {
		fmt.Fprintln(os.Stderr, "busbridge:", err)
		os.Exit(1)
	}
}

func run(configPath string, stdio bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	shutdownTelemetry, err := telemetry.InitWithConfig("busbridge", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown", "error", err)
		}
	}()

	kb, err := openKnowledgeBase(ctx, cfg, log)
	if err != nil {
		return err
	}

	conns := connectBuses(cfg, log)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()

	engine := discovery.NewEngine(
		discovery.WithMaxVisited(cfg.Discovery.MaxVisited),
		discovery.WithFanOut(cfg.Discovery.FanOut),
		discovery.WithKnowledgeBase(kb),
		discovery.WithLogger(log),
	)
	insp := inspector.New(kb, inspector.WithLogger(log))

	reg := registry.New(log)
	reg.Use(registry.NewSecurityMiddleware(log))
	reg.Use(registry.NewAuditMiddleware(log))
	reg.Use(registry.NewLoggingMiddleware(log))

	if err := registry.RegisterBuiltins(reg, registry.BuiltinDeps{
		Conns:     conns,
		Discovery: engine,
		Inspector: insp,
		Knowledge: kb,
	}); err != nil {
		return fmt.Errorf("register builtins: %w", err)
	}

	for _, p := range []plugin.Plugin{
		plugin.NewSystemdPlugin(),
		plugin.NewNetworkPlugin(),
		plugin.NewPackagesPlugin(),
	} {
		if err := reg.RegisterPlugin(p); err != nil {
			return fmt.Errorf("register plugin %s: %w", p.Name(), err)
		}
	}
	registerAutoPlugins(ctx, reg, conns, log)

	if stdio {
		log.Info("serving MCP on stdio", "tools", len(reg.List()))
		front := mcpfront.NewServer("busbridge", version, reg, mcpfront.WithSecurityContext(registry.SecurityContext{
			UserID:        "local",
			Authenticated: true,
			Permissions:   []string{"admin"},
		}))
		return front.ServeStdio()
	}

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: rpc.New(reg,
			rpc.WithRequestTimeout(cfg.Server.RequestTimeout),
			rpc.WithLogger(log)),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving JSON-RPC", "addr", cfg.Server.Addr, "tools", len(reg.List()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openKnowledgeBase(ctx context.Context, cfg *config.Config, log *slog.Logger) (*knowledge.Base, error) {
	opts := []knowledge.Option{knowledge.WithLogger(log)}
	if cfg.Knowledge.CachePath != "" {
		store, err := knowledge.OpenStore(cfg.Knowledge.CachePath)
		if err != nil {
			return nil, fmt.Errorf("open knowledge store: %w", err)
		}
		opts = append(opts, knowledge.WithStore(store))
	}
	kb, err := knowledge.New(cfg.Knowledge.Capacity, opts...)
	if err != nil {
		return nil, fmt.Errorf("create knowledge base: %w", err)
	}
	if cfg.Knowledge.CachePath != "" {
		if err := kb.Warm(ctx); err != nil {
			log.Warn("knowledge base warm-up failed", "error", err)
		}
	}
	return kb, nil
}

// connectBuses opens the configured buses. A machine without one of them is
// not an error; discovery simply has less to sweep.
func connectBuses(cfg *config.Config, log *slog.Logger) []bus.Conn {
	var conns []bus.Conn

	system, err := bus.ConnectSystem(bus.Options{
		Addr:        cfg.Bus.SystemAddr,
		CallTimeout: cfg.Bus.CallTimeout,
	})
	if err != nil {
		log.Warn("system bus unavailable", "error", err)
	} else {
		conns = append(conns, system)
	}

	if cfg.Bus.SessionBus {
		session, err := bus.ConnectSession(bus.Options{CallTimeout: cfg.Bus.CallTimeout})
		if err != nil {
			log.Warn("session bus unavailable", "error", err)
		} else {
			conns = append(conns, session)
		}
	}
	return conns
}

// autoPluginTargets are well-known services worth a read-only state plugin
// when present on the bus.
var autoPluginTargets = []struct {
	service, path, iface string
}{
	{"org.freedesktop.NetworkManager", "/org/freedesktop/NetworkManager", "org.freedesktop.NetworkManager"},
	{"org.freedesktop.UPower", "/org/freedesktop/UPower", "org.freedesktop.UPower"},
	{"org.freedesktop.login1", "/org/freedesktop/login1", "org.freedesktop.login1.Manager"},
	{"org.freedesktop.hostname1", "/org/freedesktop/hostname1", "org.freedesktop.hostname1"},
}

// registerAutoPlugins synthesizes read-only plugins for well-known services
// currently owned on one of the connected buses.
func registerAutoPlugins(ctx context.Context, reg *registry.Registry, conns []bus.Conn, log *slog.Logger) {
	for _, conn := range conns {
		for _, target := range autoPluginTargets {
			if _, err := conn.NameOwner(ctx, target.service); err != nil {
				continue
			}
			p := plugin.NewBusAutoPlugin(conn, target.service, target.path, target.iface)
			if err := reg.RegisterPlugin(p); err != nil {
				// Already registered from the other bus.
				log.Debug("auto plugin skipped", "service", target.service, "error", err)
				continue
			}
			log.Info("auto plugin registered", "service", target.service, "bus", conn.BusType())
		}
	}
}
