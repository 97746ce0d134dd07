// Package whisper provides a transcription provider backed by the
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
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/whitelam-dev/debateauditor/pkg/audio"
	"github.com/whitelam-dev/debateauditor/pkg/provider/transcribe"
)

// whisper.cpp expects 16 kHz mono float32 input.
const whisperSampleRate = 16000

// Compile-time interface assertion.
var _ transcribe.Provider = (*Provider)(nil)

// Provider implements transcribe.Provider using the whisper.cpp Go bindings
// (CGO), eliminating network overhead entirely. The model is loaded once at
// construction and shared across all calls.
type Provider struct {
	model    whisperlib.Model
	language string

	// Whisper contexts are not thread-safe and creating one per call is
	// expensive enough to serialise inference instead.
	mu sync.Mutex
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New creates a Provider that loads the whisper.cpp model from the given
// file path. The caller must call Close when the provider is no longer
// needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{model: model, language: "en"}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements transcribe.Provider. The clip is resampled to 16 kHz,
// converted to float32, and run through a fresh whisper context.
func (p *Provider) Transcribe(ctx context.Context, clip transcribe.Audio) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if len(clip.PCM) == 0 {
		return "", nil
	}

	rate := clip.SampleRate
	if rate <= 0 {
		rate = whisperSampleRate
	}
	pcm := audio.ResampleMono16(clip.PCM, rate, whisperSampleRate)
	samples := audio.PCMToFloat32(pcm)

	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "err", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
