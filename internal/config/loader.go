package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/MrWong99/voxscribe/internal/realtime"
	"github.com/MrWong99/voxscribe/pkg/chunk"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the STT provider names known to the CLI.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openai", "whisper", "whisper-native", "deepgram"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment references
// in secrets, applies defaults and validates the result. Omitted sections take
// their defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}

	if cfg.Chunking.ChunkSeconds == 0 {
		cfg.Chunking.ChunkSeconds = DefaultChunkSeconds
		if cfg.Chunking.OverlapSeconds == 0 {
			cfg.Chunking.OverlapSeconds = DefaultOverlapSeconds
		}
	}

	if cfg.Transcription.Concurrency == 0 {
		cfg.Transcription.Concurrency = DefaultConcurrency
	}
	if cfg.Transcription.Timeout == 0 {
		cfg.Transcription.Timeout = DefaultCallTimeout
	}

	if cfg.Media.Timeout == 0 {
		cfg.Media.Timeout = DefaultMediaTimeout
	}
	if cfg.Media.SampleRate == 0 {
		cfg.Media.SampleRate = DefaultSampleRate
	}

	if cfg.Resilience.MaxFailures == 0 {
		cfg.Resilience.MaxFailures = DefaultMaxFailures
	}
	if cfg.Resilience.ResetTimeout == 0 {
		cfg.Resilience.ResetTimeout = DefaultResetTimeout
	}

	if cfg.Live.ChunkSeconds == 0 {
		cfg.Live.ChunkSeconds = DefaultLiveChunkSeconds
		if cfg.Live.OverlapSeconds == 0 {
			cfg.Live.OverlapSeconds = DefaultLiveOverlap
		}
	}
	if cfg.Live.QueueSize == 0 {
		cfg.Live.QueueSize = DefaultLiveQueueSize
	}
	if cfg.Live.Source == "" {
		cfg.Live.Source = realtime.SourceFFmpeg
	}
	if cfg.Live.SampleRate == 0 {
		cfg.Live.SampleRate = DefaultSampleRate
	}
	if cfg.Live.Channels == 0 {
		cfg.Live.Channels = 1
	}
}

// expandSecrets replaces ${VAR} references in provider API keys with the
// value of the environment variable.
func expandSecrets(cfg *Config) {
	cfg.Providers.STT.APIKey = expandEnv(cfg.Providers.STT.APIKey)
	for i := range cfg.Providers.STTFallbacks {
		cfg.Providers.STTFallbacks[i].APIKey = expandEnv(cfg.Providers.STTFallbacks[i].APIKey)
	}
	cfg.Output.PostgresDSN = expandEnv(cfg.Output.PostgresDSN)
}

func expandEnv(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.ExpandEnv(s)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if _, err := chunk.NewPlan(0, cfg.Chunking.ChunkSeconds, cfg.Chunking.OverlapSeconds); err != nil {
		errs = append(errs, fmt.Errorf("chunking: %w", err))
	}

	if cfg.Transcription.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("transcription.concurrency %d must be at least 1", cfg.Transcription.Concurrency))
	}
	if cfg.Transcription.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.timeout %s must not be negative", cfg.Transcription.Timeout))
	}
	for i, v := range cfg.Transcription.RetryVariations {
		if v.Temperature < 0 || v.Temperature > 1 {
			errs = append(errs, fmt.Errorf("transcription.retry_variations[%d].temperature %.2f is out of range [0, 1]", i, v.Temperature))
		}
	}

	if cfg.Media.Timeout < 0 {
		errs = append(errs, fmt.Errorf("media.timeout %s must not be negative", cfg.Media.Timeout))
	}
	if cfg.Media.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("media.sample_rate %d must be positive", cfg.Media.SampleRate))
	}

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("providers.stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		prefix := fmt.Sprintf("providers.stt_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(prefix, fb.Name)
	}

	if cfg.Resilience.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must be at least 1", cfg.Resilience.MaxFailures))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.reset_timeout %s must not be negative", cfg.Resilience.ResetTimeout))
	}

	errs = append(errs, validateLive(&cfg.Live)...)

	if r := cfg.Admin.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("admin.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

func validateLive(l *LiveConfig) []error {
	var errs []error
	if _, err := chunk.NewPlan(0, l.ChunkSeconds, l.OverlapSeconds); err != nil {
		errs = append(errs, fmt.Errorf("live: %w", err))
	}
	if l.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("live.queue_size %d must be at least 1", l.QueueSize))
	}
	switch l.Source {
	case realtime.SourceFFmpeg, realtime.SourceStdin, realtime.SourceWebSocket:
	default:
		errs = append(errs, fmt.Errorf("live.source %q is invalid; valid values: ffmpeg, stdin, ws", l.Source))
	}
	if l.SampleRate < 1 {
		errs = append(errs, fmt.Errorf("live.sample_rate %d must be positive", l.SampleRate))
	}
	if l.Channels < 1 || l.Channels > 2 {
		errs = append(errs, fmt.Errorf("live.channels %d is out of range [1, 2]", l.Channels))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
