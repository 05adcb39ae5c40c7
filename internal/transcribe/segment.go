// Package transcribe turns a long recording into one ordered transcript.
//
// A [Driver] walks a chunk.Plan, materializes each span through an
// [Extractor], sends it to an stt.Provider with a list of retry
// [Variation]s and records the outcome as a [Segment]. Chunk failures never
// abort the run; [Assemble] renders them as visible placeholders so the
// transcript stays aligned with the audio. [Service] wires probing, planning,
// the driver and assembly together for a whole file.
package transcribe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voxscribe/pkg/chunk"
)

// Extractor materializes one span of a recording as a WAV byte slice.
// media.Tool implements it with ffmpeg.
type Extractor interface {
	ExtractSegment(ctx context.Context, path string, start, length float64) ([]byte, error)
}

// Prober reports the duration of a recording in seconds.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Recording is the read-only input of a run.
type Recording struct {
	// Path is the file handed to the [Extractor].
	Path string

	// Source is the input as given by the caller. It differs from Path when
	// the input had to be normalized first.
	Source string

	// Name identifies the recording in logs and sinks. Defaults to the base
	// name of Path.
	Name string

	// Duration is the probed total length in seconds.
	Duration float64
}

// Status is the outcome of one chunk.
type Status int

const (
	// StatusOK means the chunk produced a transcript.
	StatusOK Status = iota

	// StatusFailed means extraction or every transcription attempt failed.
	StatusFailed
)

// String returns "ok" or "failed".
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Chunk holds the materialized audio of one plan entry. Its bytes live only
// while the chunk is being transcribed.
type Chunk struct {
	chunk.Entry
	Data []byte
}

// Release drops the audio buffer. Safe to call more than once.
func (c *Chunk) Release() { c.Data = nil }

// Segment is the result for one plan entry. Exactly one Segment exists per
// entry, with the same Index.
type Segment struct {
	Index  int
	Start  float64
	Length float64

	Status Status

	// Text is the trimmed transcript. Empty when Status is StatusFailed.
	Text string

	// Language is the language reported by the provider, if any.
	Language string

	// Err explains a failure: a *media.ConversionError, a
	// *TranscriptionError or a context error.
	Err error

	// Attempts is the number of transcription calls made for the chunk.
	Attempts int

	// Confidence is a heuristic in [0.5, 1]: later retry variations and very
	// short texts lower it. Zero for failed segments.
	Confidence float64

	// Elapsed is the wall time spent on the chunk.
	Elapsed time.Duration
}

// OK reports whether the segment carries a transcript.
func (s Segment) OK() bool { return s.Status == StatusOK }

// Placeholder returns the inline marker that stands in for a failed segment.
// The error is folded onto one line so a multi-line ffmpeg stderr cannot
// break the marker apart.
func (s Segment) Placeholder() string {
	reason := "unknown error"
	if s.Err != nil {
		if r := strings.Join(strings.Fields(s.Err.Error()), " "); r != "" {
			reason = r
		}
	}
	return fmt.Sprintf("[ERROR chunk %d: %s]", s.Index+1, reason)
}

func failedSegment(e chunk.Entry, err error) Segment {
	return Segment{
		Index:  e.Index,
		Start:  e.Start,
		Length: e.Length,
		Status: StatusFailed,
		Err:    err,
	}
}
