// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across all calls; every call gets its own context.
type NativeProvider struct {
	model   whisperlib.Model
	threads uint
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeThreads sets the number of CPU threads used per inference. Zero
// keeps the whisper.cpp default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{model: model}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe decodes the WAV audio, converts it to 16 kHz mono float32 and runs
// whisper.cpp inference. Inference itself cannot be interrupted; ctx is checked
// before and after.
func (p *NativeProvider) Transcribe(ctx context.Context, a stt.Audio, opts stt.Options) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}

	samples, dur, err := speechSamples(a.Data)
	if err != nil {
		return stt.Result{}, err
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = autoLanguage
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using auto-detect", "language", lang, "error", err)
	}
	wctx.SetTemperature(float32(opts.Temperature))
	if opts.Prompt != "" {
		wctx.SetInitialPrompt(opts.Prompt)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	return stt.Result{
		Text:     strings.Join(parts, " "),
		Language: wctx.DetectedLanguage(),
		Duration: dur,
	}, nil
}

// speechSamples decodes a WAV file into the 16 kHz mono float32 samples
// whisper.cpp expects.
func speechSamples(wav []byte) ([]float32, time.Duration, error) {
	frame, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, 0, fmt.Errorf("whisper: decode audio: %w", err)
	}
	conv := audio.Converter{SampleRate: audio.SpeechFormat.SampleRate}
	speech := conv.Convert(frame)
	if len(speech.Data) == 0 {
		return nil, 0, errors.New("whisper: decode audio: no samples")
	}
	return audio.Float32(speech.Data, 1), speech.Duration(), nil
}
