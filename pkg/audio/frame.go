// Package audio holds the 16-bit PCM primitives shared by the batch and live
// transcription pipelines: the Frame type, RIFF/WAV encoding and decoding, and
// sample-rate / channel conversion.
//
// All PCM in this package is signed 16-bit little-endian, interleaved when more
// than one channel is present.
package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is the width of one 16-bit PCM sample.
const BytesPerSample = 2

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is the 16 kHz mono format expected by whisper-family models.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// FrameSize returns the number of bytes in one multi-channel sample frame.
func (f Format) FrameSize() int { return f.Channels * BytesPerSample }

// BytesPerSecond returns the PCM byte rate of the format.
func (f Format) BytesPerSecond() int { return f.SampleRate * f.FrameSize() }

// Bytes returns the number of PCM bytes covering d, rounded down to a whole
// sample frame.
func (f Format) Bytes(d time.Duration) int {
	if f.SampleRate <= 0 || f.Channels <= 0 || d <= 0 {
		return 0
	}
	frames := int(int64(d) * int64(f.SampleRate) / int64(time.Second))
	return frames * f.FrameSize()
}

// Duration returns the playback duration of n PCM bytes.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// String returns a human-readable description, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Frame is a contiguous block of PCM audio flowing through the live pipeline.
type Frame struct {
	// Data is the raw PCM payload.
	Data []byte

	Format

	// Offset is the position of the first sample relative to stream start.
	Offset time.Duration
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration { return f.Format.Duration(len(f.Data)) }
