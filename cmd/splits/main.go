package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"tailscale.com/tsnet"

	"github.com/claude/splits/internal/clock"
	"github.com/claude/splits/internal/config"
	"github.com/claude/splits/internal/fallback"
	"github.com/claude/splits/internal/mcp"
	"github.com/claude/splits/internal/recovery"
	"github.com/claude/splits/internal/server"
	"github.com/claude/splits/internal/storage"
	"github.com/claude/splits/internal/timer"
	"github.com/claude/splits/internal/workout"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	log.Info("Splits starting", "version", Version)

	// Open database and run migrations
	ctx := context.Background()
	db, err := storage.OpenAndMigrate(ctx, cfg.Storage.Path)
	if err != nil {
		log.Error("failed to open database", "path", cfg.Storage.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database ready", "path", cfg.Storage.Path)

	if *migrateOnly {
		log.Info("migrate-only: exiting")
		return
	}

	// Timer engine and workout service
	sched := timer.NewFrameScheduler(clock.System, cfg.Timer.FrameInterval())
	eng := timer.New(timer.Options{
		Clock:          clock.System,
		Gateway:        db,
		Scheduler:      sched,
		DebounceWindow: cfg.Timer.DebounceWindow(),
		Logger:         log.With("component", "timer"),
	})
	svc := workout.New(eng, db, clock.System, log.With("component", "workout"))

	// Recovery: fold in any teardown fallback, then look for an interrupted session
	fb := fallback.NewFileStore(cfg.Storage.FallbackPath)
	coord := recovery.New(eng, db, fb, sched, log.With("component", "recovery"))
	offer, err := coord.Boot(ctx)
	if err != nil {
		log.Warn("recovery boot failed; fallback kept for next start", "error", err)
	}
	if offer != nil {
		log.Info("resumable session waiting", "session_id", offer.SessionID, "route", offer.Route,
			"run_state", offer.RunState, "block", offer.BlockIndex, "blocks", offer.BlockCount)
	} else if svc.RecoverFinished(ctx) {
		log.Info("unsaved session from a previous run handed to history")
	}

	// Create server
	srv := server.New(db, svc, coord, log)
	if cfg.MCPEnabled() {
		mcpSrv := mcp.New(db, Version, log.With("component", "mcp"))
		srv.SetMCP(mcpserver.NewStreamableHTTPServer(mcpSrv))
		log.Info("mcp endpoint enabled", "path", "/mcp")
	}

	// Start server over tsnet or plain HTTP
	var listener net.Listener
	var tsServer *tsnet.Server

	if cfg.Tailscale.Enabled {
		tsServer = &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		lc, err := tsServer.LocalClient()
		if err != nil {
			log.Error("tsnet local client failed", "error", err)
			os.Exit(1)
		}
		srv.SetTailscale(lc)

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "local (no tailscale)")
	}

	// Event streams never end on their own; cancel them when shutdown starts.
	streamCtx, stopStreams := context.WithCancel(context.Background())
	httpSrv := &http.Server{
		Handler:     srv,
		BaseContext: func(net.Listener) context.Context { return streamCtx },
	}
	httpSrv.RegisterOnShutdown(stopStreams)

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", "signal", sig)

	// The fallback write must land before the store goes away.
	coord.Teardown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	eng.Flush()
	log.Info("server stopped")
}
