package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several
// transcription backends, each behind its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in failover order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// Check fails when every backend's circuit breaker is open, meaning no
// transcription request would currently be attempted. Used as a readiness
// check.
func (f *STTFallback) Check(context.Context) error {
	names := f.group.Names()
	for _, name := range names {
		if f.group.Breaker(name).State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("resilience: circuit open for every backend %v", names)
}

// Transcribe sends a to the first healthy backend. A backend error, including
// one from an open breaker, moves on to the next backend. An empty transcript
// is a valid answer and is returned as is.
func (f *STTFallback) Transcribe(ctx context.Context, a stt.Audio, opts stt.Options) (stt.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, a, opts)
	})
}
