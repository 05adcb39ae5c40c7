package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/resilience"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
	"github.com/MrWong99/voxscribe/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/voxscribe/pkg/provider/stt/openai"
	"github.com/MrWong99/voxscribe/pkg/provider/stt/whisper"
)

// registerBuiltinProviders wires the shipped STT factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// openai also covers OpenAI-compatible servers such as faster-whisper-server
	// through base_url.
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if org := entry.StringOption("organization", ""); org != "" {
			opts = append(opts, oaistt.WithOrganization(org))
		}
		if format := entry.StringOption("response_format", ""); format != "" {
			opts = append(opts, oaistt.WithResponseFormat(format))
		}
		if d := entry.DurationOption("timeout", 0); d > 0 {
			opts = append(opts, oaistt.WithTimeout(d))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.StringOption("model_path", "")
		}
		var opts []whisper.NativeOption
		if n := entry.IntOption("threads", 0); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// buildSTT creates the primary provider and every fallback and puts them
// behind per-backend circuit breakers. Providers holding resources, such as
// a loaded whisper model, are returned as closers.
func buildSTT(cfg *config.Config, reg *config.Registry) (*resilience.STTFallback, []io.Closer, error) {
	var closers []io.Closer
	create := func(entry config.ProviderEntry) (stt.Provider, error) {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, err
		}
		if c, ok := p.(io.Closer); ok {
			closers = append(closers, c)
		}
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "model", entry.Model)
		return p, nil
	}
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Resilience.MaxFailures,
			ResetTimeout: cfg.Resilience.ResetTimeout,
		},
	}

	primary, err := create(cfg.Providers.STT)
	if err != nil {
		return nil, nil, err
	}
	fb := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, fbCfg)

	seen := map[string]bool{cfg.Providers.STT.Name: true}
	for i, entry := range cfg.Providers.STTFallbacks {
		p, err := create(entry)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("stt fallback %d: %w", i, err)
		}
		label := entry.Name
		if seen[label] {
			label = fmt.Sprintf("%s-%d", entry.Name, i+1)
		}
		seen[label] = true
		fb.AddFallback(label, p)
	}
	return fb, closers, nil
}
