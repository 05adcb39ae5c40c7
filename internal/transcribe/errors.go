package transcribe

import "fmt"

// TranscriptionError reports a chunk for which every retry variation failed.
type TranscriptionError struct {
	// Index is the plan index of the chunk.
	Index int

	// Attempts is the number of calls made.
	Attempts int

	// Err joins the error of every attempt in order.
	Err error
}

// Error implements error. Only the last attempt's error is spelled out so the
// placeholder in the transcript stays readable.
func (e *TranscriptionError) Error() string {
	last := e.Err
	if j, ok := e.Err.(interface{ Unwrap() []error }); ok {
		if errs := j.Unwrap(); len(errs) > 0 {
			last = errs[len(errs)-1]
		}
	}
	return fmt.Sprintf("transcribe: chunk %d: %d attempts failed, last: %v", e.Index+1, e.Attempts, last)
}

// Unwrap returns the joined attempt errors.
func (e *TranscriptionError) Unwrap() error { return e.Err }
