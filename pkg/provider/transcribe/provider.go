// Package transcribe defines the Provider interface for batch audio
// transcription backends.
//
// Unlike a streaming STT session, a transcribe provider takes one complete
// audio clip (a recorded capture segment) and returns its text. Adapters
// normalise whatever the underlying service expects — the OpenAI backend
// wraps the PCM in a WAV container, the native whisper.cpp backend resamples
// and converts to float32 — so callers only ever hand over raw mono PCM.
//
// Implementations must be safe for concurrent use; one segment may fan out
// into several simultaneous per-speaker Transcribe calls.
package transcribe

import "context"

// Audio is one clip of raw audio to transcribe.
type Audio struct {
	// PCM is 16-bit signed little-endian mono PCM data.
	PCM []byte

	// SampleRate is the sample rate of PCM in Hz (48000 for Discord capture).
	SampleRate int
}

// Provider is the abstraction over any batch transcription backend.
type Provider interface {
	// Transcribe converts the audio clip to text. Returns an error if the
	// backend call fails or ctx is cancelled.
	Transcribe(ctx context.Context, audio Audio) (string, error)
}
