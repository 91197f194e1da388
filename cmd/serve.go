package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/warelay/internal/backend"
	"github.com/nextlevelbuilder/warelay/internal/config"
	"github.com/nextlevelbuilder/warelay/internal/meta"
	"github.com/nextlevelbuilder/warelay/internal/relay"
	"github.com/nextlevelbuilder/warelay/internal/telemetry"
	"github.com/nextlevelbuilder/warelay/internal/webhook"
)

func runServe() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	store := config.NewStore(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	var be backend.Client
	if cfg.Backend.Mock {
		slog.Warn("using mock backend")
		be = backend.NewMockClient()
	} else {
		be = backend.NewHTTPClient(cfg.Backend.BaseURL, backend.WithBaseURLFunc(func() string {
			return store.Current().Backend.BaseURL
		}))
	}

	var sender meta.Sender
	if cfg.Meta.Mock {
		slog.Warn("using mock whatsapp sender")
		sender = meta.MockSender{}
	} else {
		sender = meta.NewClient(store)
	}

	dedup := webhook.NewDedupCache(cfg.Chat.DedupWindow())
	classifier := webhook.NewClassifier(store)
	gate := webhook.NewGate(store, dedup)
	pipeline := relay.NewPipeline(store, be, sender)
	server := webhook.NewServer(store, classifier, gate, pipeline, pipeline)

	// SIGINT/SIGTERM trigger a graceful drain.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error {
		watcher, err := config.NewWatcher(cfgPath, store)
		if err != nil {
			slog.Warn("config watcher unavailable", "error", err)
			return nil
		}
		return watcher.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("gateway stopped", "error", err)
	}

	// Let in-flight relays finish, but not forever.
	done := make(chan struct{})
	go func() {
		pipeline.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		slog.Warn("shutdown timed out waiting for in-flight relays")
	}
	slog.Info("goodbye")
}
