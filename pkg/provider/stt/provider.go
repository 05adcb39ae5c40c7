// Package stt defines the Provider interface for batch Speech-to-Text backends.
//
// An STT provider wraps a transcription service (an OpenAI-compatible
// /v1/audio/transcriptions endpoint such as faster-whisper-server, a whisper.cpp
// server, Deepgram's pre-recorded API, or an in-process whisper.cpp model) and
// exposes a uniform request/response call: one WAV-encoded chunk in, one
// transcript out.
//
// Implementations must be safe for concurrent use. The bounded-parallel driver
// issues several Transcribe calls at once against the same Provider.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/voxscribe/pkg/audio"
)

// ErrEmptyResult is returned when a provider produced no text for a chunk. The
// transcription driver treats it as a failed attempt and moves on to the next
// retry variation.
var ErrEmptyResult = errors.New("stt: empty transcription result")

// Audio is one self-contained audio file submitted for transcription.
type Audio struct {
	// Data is the encoded file content, normally a RIFF/WAV container.
	Data []byte

	// Name is the file name reported to the service (e.g., "chunk.wav").
	Name string

	// ContentType is the MIME type of Data (e.g., "audio/wav").
	ContentType string
}

// WAV wraps raw PCM in a WAV container ready for submission.
func WAV(pcm []byte, f audio.Format) Audio {
	return Audio{Data: audio.EncodeWAV(pcm, f), Name: "chunk.wav", ContentType: "audio/wav"}
}

// Options carries the per-request recognition hints. Zero values mean "let the
// provider decide".
type Options struct {
	// Model overrides the provider's configured model for this request.
	Model string

	// Language is the ISO-639-1 / BCP-47 language hint (e.g., "en", "de"). An
	// empty string asks the service to auto-detect.
	Language string

	// Temperature is the sampling temperature. 0 selects greedy decoding.
	Temperature float64

	// Prompt is optional context text that biases recognition towards the
	// vocabulary and style of previous chunks.
	Prompt string
}

// Result is the outcome of one transcription request.
type Result struct {
	// Text is the recognised speech, surrounding whitespace trimmed.
	Text string

	// Language is the language reported by the service. May be empty.
	Language string

	// Duration is the audio duration reported by the service. May be zero.
	Duration time.Duration
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe submits a and returns the recognised text. The call must honour
	// ctx cancellation and deadlines.
	//
	// Providers return a Result with empty Text rather than an error when the
	// service answered successfully but recognised nothing; callers decide
	// whether that constitutes a failure (see ErrEmptyResult).
	Transcribe(ctx context.Context, a Audio, opts Options) (Result, error)
}
