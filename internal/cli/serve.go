// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - HTTP/websocket API command for lark.
//
// Command: serve
// Short:   Expose the orchestrator to a UI over HTTP
//
// Examples:
//   lark serve                       Listen on server.addr (127.0.0.1:8790)
//   lark serve --addr :8790          Listen on every interface
//   LARK_SERVER_TOKEN=s3cret lark serve
//
// Flags:
//   -a, --addr ADDR     Listen address (overrides server.addr)
//
// SIGINT or SIGTERM shuts down gracefully: in-flight requests finish,
// websocket subscribers get a close frame and queued messages stay on disk.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/lark/internal/offline"
	"github.com/jeranaias/lark/internal/server"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// HandleServe runs the API server until interrupted.
func HandleServe(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	addr := cfg.Server.Addr
	if args.Addr != "" {
		addr = args.Addr
	}

	app, err := NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Start(ctx); err != nil {
		return err
	}

	srv := server.New(addr, app.Orchestrator).
		WithWorker(app.Worker).
		WithMetrics(app.Metrics, app.Registry).
		WithAllowedOrigins(cfg.Server.AllowedOrigins).
		WithToken(cfg.Server.Token).
		WithRateLimit(cfg.Server.RequestsPerMinute)

	// SECURITY: an unauthenticated API should not leave the machine
	if cfg.Server.Token == "" {
		if !offline.IsLocalhost(addr) {
			log.Printf("SERVER: WARNING listening on %s without server.token; anyone who can reach it can read the conversation", addr)
		}
	}

	if !args.Quiet {
		fmt.Fprintf(os.Stderr, "%s listening on http://%s %s\n",
			TitleStyle.UnsetMarginBottom().Render("lark"), addr, RenderStatus(app.Monitor.Online()))
	}

	started := time.Now()
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Printf("SERVER: shutdown error: %v", err)
	}
	log.Printf("SERVER_STOP | uptime=%s queued=%d", formatDuration(time.Since(started)), app.Queue.Len())
	return nil
}
