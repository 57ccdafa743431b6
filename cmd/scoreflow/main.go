// Command scoreflow is the main entry point for the scoreflow audio server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/scoreflow/internal/app"
	"github.com/MrWong99/scoreflow/internal/config"
	"github.com/MrWong99/scoreflow/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watchInterval := flag.Duration("watch", 5*time.Second, "config reload poll interval")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Load configuration ────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, config.WithInterval(*watchInterval))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "scoreflow: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "scoreflow: %v\n", err)
		}
		return 1
	}

	cfg := watcher.Current()
	level.Set(app.ParseLevel(cfg.Server.LogLevel))

	slog.Info("scoreflow starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "scoreflow",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg,
		app.WithLogLevel(&level),
		app.WithWatcher(watcher),
		app.WithMetricsHandler(provider.Handler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// SIGHUP forces a config reload without waiting for the next poll.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if _, err := watcher.Check(true); err != nil {
					slog.Warn("config reload failed", "err", err)
				}
			}
		}
	}()

	slog.Info("server ready, press Ctrl+C to shut down")

	exit := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if exit == 0 {
		slog.Info("goodbye")
	}
	return exit
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	device := cfg.Output.Device
	if device == "" {
		device = app.DefaultDevice
	}
	listen := cfg.Server.ListenAddr
	if listen == "" {
		listen = "(disabled)"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       scoreflow startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Output", device)
	printRow("Listen addr", listen)
	printRow("Bundles", fmt.Sprint(len(cfg.Bundles)))
	printRow("Sounds", fmt.Sprint(len(cfg.Sounds)))
	printRow("Music states", fmt.Sprint(len(cfg.Music.States)))
	printRow("Sequences", fmt.Sprint(len(cfg.Music.Sequences)))
	printRow("Scripts", fmt.Sprint(len(cfg.Server.Scripts)))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}
