package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/realtime"
	"github.com/MrWong99/voxscribe/internal/transcribe"
	"github.com/MrWong99/voxscribe/pkg/audio"
)

// command is one subcommand. Flags are parsed before the config is loaded;
// prepare then applies them to the config and rejects combinations that
// cannot work, before any provider is built.
type command struct {
	flags   *flag.FlagSet
	prepare func(cfg *config.Config) error
	run     func(ctx context.Context, a *app) int
}

func lookupCommand(name string, stdout io.Writer) *command {
	switch name {
	case "transcribe":
		return transcribeCommand()
	case "live":
		return liveCommand(stdout)
	case "search":
		return searchCommand(stdout)
	}
	return nil
}

// ── transcribe ───────────────────────────────────────────────────────────────

func transcribeCommand() *command {
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	dir := fs.String("dir", "", "transcribe every audio file in this directory")
	out := fs.String("out", "", "transcript directory (default: output.dir or <dir>/transcripts)")
	concurrency := fs.Int("concurrency", 0, "parallel chunk transcriptions (default: transcription.concurrency)")

	var paths []string
	cmd := &command{flags: fs}
	cmd.prepare = func(cfg *config.Config) error {
		if *concurrency < 0 {
			return fmt.Errorf("-concurrency must be positive, got %d", *concurrency)
		}
		if *concurrency > 0 {
			cfg.Transcription.Concurrency = *concurrency
		}
		if *out != "" {
			cfg.Output.Dir = *out
		}

		paths = fs.Args()
		if *dir != "" {
			found, err := transcribe.FindRecordings(*dir)
			if err != nil {
				return err
			}
			paths = append(paths, found...)
			if cfg.Output.Dir == "" {
				cfg.Output.Dir = filepath.Join(*dir, "transcripts")
			}
		}
		if len(paths) == 0 {
			return errors.New("no recordings: pass files or -dir")
		}
		return nil
	}
	cmd.run = func(ctx context.Context, a *app) int {
		svc, err := a.newService(a.cfg.Output.Dir, a.cfg.Transcription.Concurrency)
		if err != nil {
			slog.Error("failed to build transcription service", "err", err)
			return exitError
		}

		start := time.Now()
		results, err := svc.TranscribeAll(ctx, paths)
		var chunks, failed int
		for _, r := range results {
			chunks += r.Summary.Chunks
			failed += r.Summary.Failed
		}
		slog.Info("batch finished",
			"recordings", len(results),
			"requested", len(paths),
			"chunks", chunks,
			"failed_chunks", failed,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		if err != nil {
			slog.Error("batch incomplete", "err", err)
			return exitError
		}
		return exitOK
	}
	return cmd
}

// ── live ─────────────────────────────────────────────────────────────────────

func liveCommand(stdout io.Writer) *command {
	fs := flag.NewFlagSet("live", flag.ContinueOnError)
	source := fs.String("source", "", "audio source: ffmpeg, stdin or ws (default: live.source)")
	device := fs.String("device", "", "ffmpeg capture device (default: live.device)")
	inputFormat := fs.String("input-format", "", "ffmpeg capture format, e.g. alsa or pulse (default: live.input_format)")
	url := fs.String("url", "", "websocket relay URL (default: live.url)")
	token := fs.String("token", "", "bearer token sent to the websocket relay")

	cmd := &command{flags: fs}
	cmd.prepare = func(cfg *config.Config) error {
		if fs.NArg() > 0 {
			return fmt.Errorf("unexpected arguments %v", fs.Args())
		}
		live := &cfg.Live
		if *source != "" {
			live.Source = *source
		}
		if *device != "" {
			live.Device = *device
		}
		if *inputFormat != "" {
			live.InputFormat = *inputFormat
		}
		if *url != "" {
			live.URL = *url
		}
		switch live.Source {
		case realtime.SourceFFmpeg:
			if live.Device == "" {
				return errors.New("live source ffmpeg needs -device or live.device")
			}
		case realtime.SourceWebSocket:
			if live.URL == "" {
				return errors.New("live source ws needs -url or live.url")
			}
		case realtime.SourceStdin:
		default:
			return fmt.Errorf("unknown live source %q", live.Source)
		}
		return nil
	}
	cmd.run = func(ctx context.Context, a *app) int {
		live := a.cfg.Live
		scfg := realtime.SourceConfig{
			Kind:        live.Source,
			InputFormat: live.InputFormat,
			Device:      live.Device,
			URL:         live.URL,
			Format:      audio.Format{SampleRate: live.SampleRate, Channels: live.Channels},
		}
		if *token != "" {
			scfg.Header = http.Header{"Authorization": {"Bearer " + *token}}
		}

		src, format, err := realtime.OpenSource(ctx, scfg, a.tool)
		if err != nil {
			slog.Error("failed to open live source", "source", live.Source, "err", err)
			return exitError
		}
		consumer := realtime.NewConsumer(a.stt,
			realtime.WithOptions(a.sttOptions()),
			realtime.WithTimeout(a.cfg.Transcription.Timeout),
			realtime.WithProviderName("stt"),
			realtime.WithMetrics(a.metrics),
		)
		pcfg := realtime.ProducerConfig{
			Input:   format,
			Window:  seconds(live.ChunkSeconds),
			Overlap: seconds(live.OverlapSeconds),
		}

		slog.Info("live transcription started",
			"source", live.Source,
			"window", pcfg.Window,
			"overlap", pcfg.Overlap,
			"queue", live.QueueSize,
		)
		err = realtime.RunSource(ctx, src, pcfg, consumer, live.QueueSize, realtime.Printer(stdout))
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("live transcription stopped", "err", err)
			return exitError
		}
		slog.Info("live transcription stopped")
		return exitOK
	}
	return cmd
}

// ── search ───────────────────────────────────────────────────────────────────

func searchCommand(stdout io.Writer) *command {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	limit := fs.Int("limit", 10, "maximum number of transcripts to list")

	var query string
	cmd := &command{flags: fs}
	cmd.prepare = func(cfg *config.Config) error {
		if cfg.Output.PostgresDSN == "" {
			return errors.New("search needs output.postgres_dsn")
		}
		if fs.NArg() != 1 {
			return errors.New("search takes exactly one query argument")
		}
		if *limit < 1 {
			return fmt.Errorf("-limit must be positive, got %d", *limit)
		}
		query = fs.Arg(0)
		return nil
	}
	cmd.run = func(ctx context.Context, a *app) int {
		found, err := a.pg.Search(ctx, query, *limit)
		if err != nil {
			slog.Error("search failed", "err", err)
			return exitError
		}
		for _, s := range found {
			fmt.Fprintf(stdout, "%d\t%s\t%s\tchunks=%d failed=%d\n",
				s.ID, s.CreatedAt.Format(time.RFC3339), s.Recording, s.Chunks, s.Failed)
		}
		if len(found) == 0 {
			fmt.Fprintln(stdout, "no matches")
		}
		return exitOK
	}
	return cmd
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
