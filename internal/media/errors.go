package media

import (
	"errors"
	"fmt"
)

// ErrEmptyOutput is wrapped by a [ConversionError] when ffmpeg exited cleanly
// but produced no audio.
var ErrEmptyOutput = errors.New("media: empty output")

// ProbeError reports that the duration of a recording could not be determined.
// It is fatal for that recording.
type ProbeError struct {
	Path   string
	Stderr string
	Err    error
}

// Error implements error.
func (e *ProbeError) Error() string {
	msg := fmt.Sprintf("media: probe %q: %v", e.Path, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ProbeError) Unwrap() error { return e.Err }

// ConversionError reports that ffmpeg failed to produce audio for one segment or
// for a whole-file conversion. For segments it is fatal for that chunk only.
type ConversionError struct {
	Path   string
	Start  float64
	Length float64
	Stderr string
	Err    error
}

// Error implements error.
func (e *ConversionError) Error() string {
	var msg string
	if e.Length > 0 {
		msg = fmt.Sprintf("media: convert %q [%.3fs +%.3fs]: %v", e.Path, e.Start, e.Length, e.Err)
	} else {
		msg = fmt.Sprintf("media: convert %q: %v", e.Path, e.Err)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ConversionError) Unwrap() error { return e.Err }
