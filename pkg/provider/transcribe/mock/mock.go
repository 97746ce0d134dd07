// Package mock provides a test double for the transcribe.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/whitelam-dev/debateauditor/pkg/provider/transcribe"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Audio is the clip passed to Transcribe.
	Audio transcribe.Audio
}

// Provider is a mock implementation of transcribe.Provider.
// Set Text/Err for canned behaviour, or TranscribeFunc for per-call control.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe when TranscribeFunc is nil.
	Text string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if non-nil, is invoked instead of the canned fields.
	TranscribeFunc func(ctx context.Context, audio transcribe.Audio) (string, error)

	// TranscribeCalls records every invocation in order.
	TranscribeCalls []TranscribeCall
}

var _ transcribe.Provider = (*Provider)(nil)

// Transcribe implements transcribe.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio transcribe.Audio) (string, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Audio: audio})
	fn := p.TranscribeFunc
	text := p.Text
	err := p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio)
	}
	return text, err
}

// Calls returns a snapshot of recorded Transcribe calls.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.TranscribeCalls))
	copy(out, p.TranscribeCalls)
	return out
}
