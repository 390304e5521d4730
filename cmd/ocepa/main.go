// Command ocepa is the entry point for the Ocepa lecture-capture service.
//
// Usage:
//
//	ocepa [-config config.yaml] [serve]
//	ocepa [-config config.yaml] transcribe [-title T] [-no-pace] lecture.wav
//
// serve runs the HTTP API with the live capture WebSocket. transcribe plays a
// WAV file through the live pipeline as if it were a microphone, prints the
// transcript and notes as they arrive, and saves the lecture when the file
// ends or on Ctrl+C.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ocepa/internal/app"
	"github.com/MrWong99/ocepa/internal/config"
	"github.com/MrWong99/ocepa/internal/observe"
	"github.com/MrWong99/ocepa/internal/web"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("ocepa", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cmd, rest := "serve", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ocepa: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "ocepa: %v\n", err)
		}
		return 1
	}

	// reloadOnHangup re-reads the config file on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := w.Reload(); err != nil {
				slog.Error("config reload on SIGHUP failed", "err", err)
			}
		}
	}
}

// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		return serve(ctx, *configPath, cfg, level)
	case "transcribe":
		return transcribe(ctx, cfg, rest)
	default:
		fmt.Fprintf(os.Stderr, "ocepa: unknown command %q (want serve or transcribe)\n", cmd)
		return 2
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serve(ctx context.Context, configPath string, cfg *config.Config, level *slog.LevelVar) int {
	slog.Info("ocepa starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// Telemetry must be installed before app.New picks up the default metrics.
	tel, err := observe.Setup(observe.TelemetryConfig{
		ServiceName:      cfg.Telemetry.ServiceName,
		ServiceVersion:   version,
		TraceSampleRatio: cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	tel.Install()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(configPath, func(ch config.Change) {
		if ch.Diff.LogLevelChanged {
			level.Set(slogLevel(ch.Diff.NewLogLevel))
			slog.Info("log level changed", "level", ch.Diff.NewLogLevel)
		}
		if ch.Diff.InsightsChanged {
			if err := application.ReloadInsights(ch.New.Insights); err != nil {
				slog.Error("config reload: insights", "err", err)
			}
		}
		for _, section := range ch.Diff.RestartRequired {
			slog.Warn("config change takes effect after restart", "section", section)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
		go reloadOnHangup(ctx, watcher)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	api := web.New(application.Store(), application.Sessions(),
		web.WithMetrics(application.Metrics()),
		web.WithMetricsHandler(tel.MetricsHandler()),
	)
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready; press Ctrl+C to shut down", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")
		api.Health().SetDraining(true)

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Live sessions are stopped and saved first so their sockets can send
		// the final event before the listener goes away.
		appErr := application.Shutdown(sctx)
		httpErr := httpSrv.Shutdown(sctx)
		return errors.Join(appErr, httpErr)
	})

	if err := g.Wait(); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := w.Reload(); err != nil {
				slog.Error("config reload on SIGHUP failed", "err", err)
			}
		}
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
