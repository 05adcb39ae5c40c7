// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to script transcription outcomes and to inspect which audio and
// options the caller submitted.
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []mock.Response{
//	        {Err: errors.New("timeout")},
//	        {Result: stt.Result{Text: "hello"}},
//	    },
//	}
//	res, _ := p.Transcribe(ctx, audio, stt.Options{})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// Response is one scripted outcome of Provider.Transcribe.
type Response struct {
	Result stt.Result
	Err    error
}

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Audio is a copy of the audio passed to Transcribe.
	Audio stt.Audio
	// Opts is the Options value passed to Transcribe.
	Opts stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Func, if non-nil, computes every response and takes precedence over
	// Responses, Result and Err.
	Func func(ctx context.Context, a stt.Audio, opts stt.Options) (stt.Result, error)

	// Responses are returned in call order. Once exhausted, Result and Err are
	// returned for every further call.
	Responses []Response

	// Result is the default result returned by Transcribe.
	Result stt.Result

	// Err, if non-nil, is the default error returned by Transcribe.
	Err error

	// Delay, if positive, blocks each call for the given duration or until ctx is
	// done, whichever comes first.
	Delay time.Duration

	// --- Call records ---

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	inFlight    int
	maxInFlight int
}

// Transcribe records the call and returns the next scripted response.
func (p *Provider) Transcribe(ctx context.Context, a stt.Audio, opts stt.Options) (stt.Result, error) {
	p.mu.Lock()
	cp := a
	cp.Data = append([]byte(nil), a.Data...)
	call := len(p.TranscribeCalls)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Audio: cp, Opts: opts})
	p.inFlight++
	p.maxInFlight = max(p.maxInFlight, p.inFlight)
	fn, delay := p.Func, p.Delay
	var resp Response
	if call < len(p.Responses) {
		resp = p.Responses[call]
	} else {
		resp = Response{Result: p.Result, Err: p.Err}
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, a, opts)
	}
	return resp.Result, resp.Err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Calls returns a snapshot of the recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.TranscribeCalls...)
}

// MaxConcurrent returns the highest number of simultaneous Transcribe calls
// observed. Thread-safe.
func (p *Provider) MaxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInFlight
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.maxInFlight = 0
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
