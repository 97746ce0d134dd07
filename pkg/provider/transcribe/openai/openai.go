// Package openai provides a transcription provider backed by the OpenAI
// audio API (Whisper).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/whitelam-dev/debateauditor/pkg/audio"
	"github.com/whitelam-dev/debateauditor/pkg/provider/transcribe"
)

// Compile-time interface assertion.
var _ transcribe.Provider = (*Provider)(nil)

// Provider implements transcribe.Provider using the OpenAI audio
// transcription endpoint.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout. Transcription uploads can be
// large; the default client has no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI transcription Provider. model defaults to
// "whisper-1" when empty.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = "whisper-1"
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Transcribe implements transcribe.Provider. The mono PCM clip is wrapped in
// a WAV container and uploaded to the transcription endpoint.
func (p *Provider) Transcribe(ctx context.Context, clip transcribe.Audio) (string, error) {
	if len(clip.PCM) == 0 {
		return "", nil
	}
	rate := clip.SampleRate
	if rate <= 0 {
		rate = 48000
	}

	wav := audio.EncodeWAV(clip.PCM, rate, 1)

	resp, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	})
	if err != nil {
		return "", fmt.Errorf("openai: transcribe audio: %w", err)
	}

	return strings.TrimSpace(resp.Text), nil
}
