// Command voxscribe transcribes long recordings in overlapping chunks and
// prints running transcripts of a live audio stream.
//
// Usage:
//
//	voxscribe [-config path] transcribe [-dir d] [-out d] [files...]
//	voxscribe [-config path] live [-source ffmpeg|stdin|ws] [flags]
//	voxscribe [-config path] search [-limit n] <query>
//	voxscribe version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxscribe/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("voxscribe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "voxscribe.yaml", "path to the YAML configuration file")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: voxscribe [-config path] <transcribe|live|search|version> [flags]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	name := fs.Arg(0)
	if name == "version" {
		fmt.Fprintf(stdout, "voxscribe %s\n", version)
		return exitOK
	}
	cmd := lookupCommand(name, stdout)
	if cmd == nil {
		fmt.Fprintf(stderr, "voxscribe: unknown command %q\n", name)
		fs.Usage()
		return exitUsage
	}
	cmd.flags.SetOutput(stderr)
	if err := cmd.flags.Parse(fs.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "voxscribe: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
			return exitUsage
		}
		fmt.Fprintf(stderr, "voxscribe: %v\n", err)
		return exitError
	}
	if err := cmd.prepare(cfg); err != nil {
		fmt.Fprintf(stderr, "voxscribe %s: %v\n", name, err)
		return exitUsage
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voxscribe starting",
		"version", version,
		"command", name,
		"config", *configPath,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, name, cfg)
	if err != nil {
		slog.Error("failed to initialise", "err", err)
		return exitError
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}()

	if err := a.health.Ready(ctx); err != nil {
		slog.Warn("readiness check failed", "err", err)
	}
	watchConfig(ctx, *configPath, level)

	return cmd.run(ctx, a)
}

// watchConfig reloads the config file in the background for the lifetime of
// ctx. A new log level is applied immediately; other changes are only
// reported.
func watchConfig(ctx context.Context, path string, level *slog.LevelVar) {
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("configuration changed, restart to apply", "sections", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
		return
	}
	go w.Run(ctx)
}

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
