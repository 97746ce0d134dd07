// Package live implements the live voice debate session: one capture
// session per guild that records a voice channel in fixed-length segments,
// transcribes each speaker, posts rolling summaries to a notes thread, and
// delivers a final verdict when the session ends.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/whitelam-dev/debateauditor/internal/config"
	"github.com/whitelam-dev/debateauditor/internal/observe"
	"github.com/whitelam-dev/debateauditor/pkg/provider/llm"
	"github.com/whitelam-dev/debateauditor/pkg/provider/transcribe"
)

// captureSampleRate is the PCM sample rate capture sinks deliver.
const captureSampleRate = 48000

// ErrSessionActive is returned by Start when the guild already has a live
// session running.
var ErrSessionActive = errors.New("live: a session is already active in this guild")

// ErrNoSession is returned by Stop when the guild has no live session.
var ErrNoSession = errors.New("live: no active session in this guild")

// Sink is one capture window. Stop ends the window; Buffers then yields the
// per-speaker mono PCM captured during it, keyed by user ID.
type Sink interface {
	Stop()
	Buffers() map[string][]byte
}

// Connection is an established voice-channel capture connection.
type Connection interface {
	StartSink() (Sink, error)
	Disconnect() error
}

// Capture joins voice channels for recording.
type Capture interface {
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}

// Notifier posts session output to text channels.
type Notifier interface {
	Send(ctx context.Context, channelID, content string) (messageID string, err error)
	SendChunked(ctx context.Context, channelID, content string) error
	CreateThread(ctx context.Context, channelID, messageID, name string) (threadID string, err error)
}

// Roster resolves guild member details the session needs: display names for
// transcript attribution and the voice channel the initiator is in.
type Roster interface {
	DisplayName(guildID, userID string) string
	VoiceChannelID(guildID, userID string) (string, error)
}

// Manager owns at most one live session per guild.
type Manager struct {
	capture     Capture
	llm         llm.Provider
	transcriber transcribe.Provider
	notifier    Notifier
	roster      Roster
	metrics     *observe.Metrics
	cfg         config.LiveConfig

	verdictMaxTokens int

	mu       sync.Mutex
	sessions map[string]*session // guild ID -> session
}

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	Capture     Capture
	LLM         llm.Provider        // may be nil when no credentials are configured
	Transcriber transcribe.Provider // may be nil when no backend is configured
	Notifier    Notifier
	Roster      Roster
	Metrics     *observe.Metrics
	Live        config.LiveConfig

	// VerdictMaxTokens bounds the final analysis; use the same budget as
	// the text-audit workflow.
	VerdictMaxTokens int
}

// NewManager creates a Manager from cfg.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		capture:          cfg.Capture,
		llm:              cfg.LLM,
		transcriber:      cfg.Transcriber,
		notifier:         cfg.Notifier,
		roster:           cfg.Roster,
		metrics:          cfg.Metrics,
		cfg:              cfg.Live,
		verdictMaxTokens: cfg.VerdictMaxTokens,
		sessions:         make(map[string]*session),
	}
}

// Start begins a live session for guildID: it joins the initiator's current
// voice channel, opens a notes thread off the triggering message, and starts
// the segment recorder. It returns [ErrSessionActive] if the guild already
// has a session, and an error when the initiator is not in a voice channel
// or a required provider is missing.
func (m *Manager) Start(ctx context.Context, guildID, textChannelID, messageID, initiatorID string) error {
	if m.transcriber == nil {
		return errors.New("live: no transcription provider is configured")
	}

	voiceChannelID, err := m.roster.VoiceChannelID(guildID, initiatorID)
	if err != nil {
		return fmt.Errorf("live: you must be in a voice channel to start a recording: %w", err)
	}

	m.mu.Lock()
	if _, ok := m.sessions[guildID]; ok {
		m.mu.Unlock()
		return ErrSessionActive
	}
	// Reserve the slot before the (slow) voice join so concurrent starts
	// cannot race past the check.
	m.sessions[guildID] = nil
	m.mu.Unlock()

	conn, err := m.capture.Connect(ctx, guildID, voiceChannelID)
	if err != nil {
		m.remove(guildID)
		return fmt.Errorf("live: join voice channel: %w", err)
	}

	notesID, err := m.notifier.CreateThread(ctx, textChannelID, messageID, "Live Debate Notes")
	if err != nil {
		slog.Warn("live: create notes thread, falling back to channel", "guild", guildID, "err", err)
		notesID = textChannelID
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:             uuid.NewString(),
		guildID:        guildID,
		voiceChannelID: voiceChannelID,
		notesChannelID: notesID,
		conn:           conn,
		manager:        m,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[guildID] = s
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActiveLiveSessions.Add(ctx, 1)
	}

	slog.Info("live: session started",
		"session", s.id, "guild", guildID, "voice_channel", voiceChannelID)
	if _, err := m.notifier.Send(ctx, notesID,
		"Recording started. I'll post rolling debate notes here and a full verdict when the recording stops."); err != nil {
		slog.Warn("live: announce session start", "session", s.id, "err", err)
	}

	go s.run(runCtx)
	return nil
}

// Stop ends the guild's live session and blocks until the final verdict has
// been delivered. It returns [ErrNoSession] when nothing is recording.
func (m *Manager) Stop(ctx context.Context, guildID string) error {
	m.mu.Lock()
	s := m.sessions[guildID]
	m.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}

	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("live: waiting for session to finish: %w", ctx.Err())
	}
}

// Shutdown stops every active session and waits for their final verdicts,
// bounded by ctx. Used during process shutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	var all []*session
	for _, s := range m.sessions {
		if s != nil {
			all = append(all, s)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range all {
		s.cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("live: session %s did not finish: %w", s.id, ctx.Err()))
		}
	}
	return errors.Join(errs...)
}

// Active reports whether guildID has a live session.
func (m *Manager) Active(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[guildID] != nil
}

func (m *Manager) remove(guildID string) {
	m.mu.Lock()
	delete(m.sessions, guildID)
	m.mu.Unlock()
}
