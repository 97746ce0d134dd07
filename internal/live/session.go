package live

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/whitelam-dev/debateauditor/internal/audit"
	"github.com/whitelam-dev/debateauditor/pkg/provider/llm"
	"github.com/whitelam-dev/debateauditor/pkg/provider/transcribe"
)

// transcribeConcurrency bounds parallel per-speaker transcription calls
// within one segment.
const transcribeConcurrency = 4

// session is one in-progress live recording.
type session struct {
	id             string
	guildID        string
	voiceChannelID string
	notesChannelID string

	conn    Connection
	manager *Manager
	cancel  context.CancelFunc
	done    chan struct{}

	// fullTranscript accumulates rendered segment transcripts in order.
	// Only the run goroutine touches it.
	fullTranscript []string
	segments       int
}

// run records fixed-length segments until ctx is cancelled, then delivers
// the final verdict and unregisters the session. It owns conn and always
// disconnects it.
func (s *session) run(ctx context.Context) {
	defer close(s.done)
	defer s.manager.remove(s.guildID)
	defer func() {
		if s.manager.metrics != nil {
			s.manager.metrics.ActiveLiveSessions.Add(context.Background(), -1)
		}
	}()
	defer func() {
		if err := s.conn.Disconnect(); err != nil {
			slog.Warn("live: disconnect voice", "session", s.id, "err", err)
		}
	}()

	timer := time.NewTimer(s.manager.cfg.SegmentDuration)
	defer timer.Stop()

	for {
		sink, err := s.conn.StartSink()
		if err != nil {
			slog.Error("live: start capture sink", "session", s.id, "err", err)
			s.notify(ctx, fmt.Sprintf("Recording stopped: could not capture audio (%v).", err))
			break
		}

		stopped := false
		select {
		case <-timer.C:
		case <-ctx.Done():
			stopped = true
		}
		sink.Stop()

		s.processSegment(sink.Buffers())

		if stopped {
			break
		}
		timer.Reset(s.manager.cfg.SegmentDuration)
	}

	s.finalize()
}

// processSegment transcribes one capture window per speaker, appends the
// rendered segment to the full transcript, and posts a rolling summary. A
// speaker whose transcription fails is reported and skipped; the segment
// still counts.
func (s *session) processSegment(buffers map[string][]byte) {
	// Segment work continues even while the session is shutting down, so it
	// runs on its own context rather than the (possibly cancelled) run one.
	ctx := context.Background()

	s.segments++
	if s.manager.metrics != nil {
		s.manager.metrics.SegmentsProcessed.Add(ctx, 1)
	}

	userIDs := make([]string, 0, len(buffers))
	for id, pcm := range buffers {
		if len(pcm) > 0 {
			userIDs = append(userIDs, id)
		}
	}
	if len(userIDs) == 0 {
		slog.Debug("live: silent segment", "session", s.id, "segment", s.segments)
		return
	}
	// Deterministic speaker order keeps transcripts stable across runs.
	sort.Strings(userIDs)

	lines := make([]string, len(userIDs))
	g := new(errgroup.Group)
	g.SetLimit(transcribeConcurrency)
	for i, userID := range userIDs {
		g.Go(func() error {
			text, err := s.manager.transcriber.Transcribe(ctx, transcribe.Audio{
				PCM:        buffers[userID],
				SampleRate: captureSampleRate,
			})
			s.recordSpeaker(ctx, err)
			if err != nil {
				name := s.manager.roster.DisplayName(s.guildID, userID)
				slog.Warn("live: transcribe speaker", "session", s.id, "user", userID, "err", err)
				s.notify(ctx, fmt.Sprintf("Could not transcribe %s in this segment; skipping them.", name))
				return nil
			}
			if text = strings.TrimSpace(text); text != "" {
				lines[i] = s.manager.roster.DisplayName(s.guildID, userID) + ": " + text
			}
			return nil
		})
	}
	_ = g.Wait()

	segment := joinNonEmpty(lines)
	if segment == "" {
		return
	}
	s.fullTranscript = append(s.fullTranscript, segment)

	s.postRollingSummary(ctx)
}

// postRollingSummary summarises the transcript so far into the notes thread.
// Summary failures are logged and skipped; the transcript is already saved.
func (s *session) postRollingSummary(ctx context.Context) {
	if s.manager.llm == nil {
		return
	}

	start := time.Now()
	resp, err := s.manager.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: liveSummarySystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: liveSummaryUserPrompt(s.transcript())}},
		MaxTokens:    s.manager.cfg.SummaryMaxTokens,
	})
	s.manager.metrics.RecordLLM(ctx, "live_summary", time.Since(start).Seconds(), err)
	if err != nil {
		slog.Warn("live: rolling summary", "session", s.id, "err", err)
		return
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return
	}
	s.notify(ctx, fmt.Sprintf("Debate notes after segment %d:\n\n%s", s.segments, summary))
}

// finalize delivers the closing verdict over everything captured.
func (s *session) finalize() {
	ctx := context.Background()

	text := s.transcript()
	if text == "" {
		s.notify(ctx, "Recording stopped. Nothing was said, so there is nothing to analyze.")
		return
	}
	if s.manager.llm == nil {
		s.notify(ctx, "Recording stopped. No LLM provider is configured, so I can only give you the raw transcript:\n\n"+text)
		return
	}

	start := time.Now()
	resp, err := s.manager.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: audit.AnalysisSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: audit.AnalysisUserPrompt(text)}},
		MaxTokens:    s.manager.verdictMaxTokens,
	})
	s.manager.metrics.RecordLLM(ctx, "live_analysis", time.Since(start).Seconds(), err)
	if err != nil {
		s.notify(ctx, fmt.Sprintf("Recording stopped, but the final analysis failed: %v", err))
		return
	}

	if err := s.manager.notifier.SendChunked(ctx, s.notesChannelID, strings.TrimSpace(resp.Content)); err != nil {
		slog.Warn("live: deliver final verdict", "session", s.id, "err", err)
	}
	slog.Info("live: session finished", "session", s.id, "segments", s.segments)
}

func (s *session) transcript() string {
	return strings.TrimSpace(strings.Join(s.fullTranscript, "\n"))
}

func (s *session) notify(ctx context.Context, content string) {
	if _, err := s.manager.notifier.Send(ctx, s.notesChannelID, content); err != nil {
		slog.Warn("live: send note", "session", s.id, "err", err)
	}
}

func (s *session) recordSpeaker(ctx context.Context, err error) {
	if s.manager.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.manager.metrics.SpeakersTranscribed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
}

func joinNonEmpty(lines []string) string {
	kept := lines[:0:0]
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}
