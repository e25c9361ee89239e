// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

// Command server runs the Newsrelay daemon: the chat session lifecycle,
// delivery queue, directory reconciler, relay watcher, and the dashboard
// bridge, all under one supervisor tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tomtom215/newsrelay/internal/api"
	"github.com/tomtom215/newsrelay/internal/config"
	"github.com/tomtom215/newsrelay/internal/content"
	"github.com/tomtom215/newsrelay/internal/directory"
	"github.com/tomtom215/newsrelay/internal/logging"
	"github.com/tomtom215/newsrelay/internal/queue"
	"github.com/tomtom215/newsrelay/internal/relay"
	"github.com/tomtom215/newsrelay/internal/scheduler"
	"github.com/tomtom215/newsrelay/internal/session"
	"github.com/tomtom215/newsrelay/internal/supervisor"
	"github.com/tomtom215/newsrelay/internal/transport"
	"github.com/tomtom215/newsrelay/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("configuration load failed")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("newsrelay exited with error")
	}
	logging.Info().Msg("newsrelay stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	hub := websocket.NewHub()

	creds := session.NewCredentialStore(cfg.Transport.SessionDir)
	qrArtifacts := session.NewQRArtifacts(cfg.Data.Dir)
	mgr := session.NewManager(session.Config{
		ReconnectBase: cfg.Session.ReconnectBase,
		ReconnectMax:  cfg.Session.ReconnectMax,
		ReinitDelay:   cfg.Session.ReinitDelay,
	}, newDialer(cfg), creds, qrArtifacts, hub)

	reconciler, err := directory.NewReconciler(directory.Config{
		DataDir:          cfg.Data.Dir,
		SeedPlaceholders: cfg.Directory.SeedPlaceholders,
	}, mgr.LiveHandle)
	if err != nil {
		return fmt.Errorf("directory init: %w", err)
	}

	contents, err := content.NewStore(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("content store init: %w", err)
	}

	deliveryQueue, err := queue.New(queue.Config{
		DataDir:     cfg.Data.Dir,
		SendTimeout: cfg.Queue.SendTimeout,
	}, contents, mgr.LiveHandle, hub)
	if err != nil {
		return fmt.Errorf("delivery queue init: %w", err)
	}

	watcher, err := relay.New(relay.Config{
		SourceGroup:       cfg.Relay.SourceGroup,
		ScriptTargetGroup: cfg.Relay.ScriptTargetGroup,
		VisualTargetGroup: cfg.Relay.VisualTargetGroup,
		DataDir:           cfg.Data.Dir,
	}, relay.TemplateGenerator{}, contents, deliveryQueue, reconciler)
	if err != nil {
		return fmt.Errorf("relay init: %w", err)
	}

	refresh := func() {
		refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := reconciler.Refresh(refreshCtx); err != nil {
			logging.Warn().Err(err).Msg("directory refresh skipped")
		}
	}
	mgr.SetOnOpen(refresh)
	mgr.SetOnRosterChanged(func() { go refresh() })
	mgr.SetOnMessage(func(msg transport.Message) {
		reconciler.Observe(msg)
		watcher.HandleMessage(msg)
	})

	sched := scheduler.New(
		scheduler.Task{
			Name:     "delivery-pass",
			Interval: cfg.Queue.PassInterval,
			Run:      deliveryQueue.ProcessPending,
		},
		scheduler.Task{
			Name:     "directory-refresh",
			Interval: cfg.Directory.RefreshInterval,
			Run: func(taskCtx context.Context) {
				if err := reconciler.Refresh(taskCtx); err != nil {
					logging.Debug().Err(err).Msg("scheduled directory refresh skipped")
				}
			},
		},
		scheduler.Task{
			Name:     "manual-topic-poll",
			Interval: cfg.Relay.TopicPollInterval,
			Run:      watcher.PollManualTopics,
		},
	)

	handler := api.NewHandler(mgr, reconciler, deliveryQueue, contents, watcher,
		hub, qrArtifacts.ImagePath(), cfg.Security.CORSOrigins)
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(handler, cfg.Security),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(
		slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		supervisor.DefaultTreeConfig(),
	)
	tree.AddSessionService(mgr)
	tree.AddMessagingService(hub)
	tree.AddMessagingService(sched)
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.Timeout))

	logging.Info().
		Str("addr", addr).
		Str("transport_mode", cfg.Transport.Mode).
		Str("data_dir", cfg.Data.Dir).
		Msg("newsrelay starting")
	return tree.Serve(ctx)
}

// newDialer selects the transport. Only the in-process simulated
// transport ships today; real wire transports plug in behind the same
// Dialer boundary. The simulator immediately issues a pairing payload
// so the dashboard QR flow is exercisable end to end.
func newDialer(cfg *config.Config) transport.Dialer {
	d := transport.NewMemoryDialer()
	d.OnConnect = func(h *transport.MemoryHandle) {
		h.EmitQR(fmt.Sprintf("newsrelay-pairing-%d", time.Now().UnixNano()))
	}
	return d
}
