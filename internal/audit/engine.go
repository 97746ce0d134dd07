package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/whitelam-dev/debateauditor/internal/config"
	"github.com/whitelam-dev/debateauditor/internal/observe"
	"github.com/whitelam-dev/debateauditor/internal/transcript"
	"github.com/whitelam-dev/debateauditor/pkg/provider/llm"
)

// Replier sends output back to the chat platform on behalf of the engine.
// Implementations live in the platform layer (internal/discord) so the
// engine stays testable without a gateway connection.
type Replier interface {
	// Send posts content to channelID and returns the new message's ID.
	Send(ctx context.Context, channelID, content string) (messageID string, err error)

	// SendChunked posts content to channelID, split into platform-safe
	// chunks, in order.
	SendChunked(ctx context.Context, channelID, content string) error

	// CreateThread starts a thread off the message identified by messageID
	// in channelID and returns the thread's channel ID.
	CreateThread(ctx context.Context, channelID, messageID, name string) (threadID string, err error)
}

// AttachmentFetcher downloads attachment payloads.
type AttachmentFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Attachment is a file attached to an inbound message.
type Attachment struct {
	Filename string
	URL      string
}

// Event is one inbound message, normalised away from the platform SDK.
type Event struct {
	// ChannelID is the channel or thread the message was posted in.
	ChannelID string

	// MessageID identifies the message itself.
	MessageID string

	// AuthorID and AuthorName identify the author.
	AuthorID   string
	AuthorName string

	// AuthorBot reports whether the author is an automated participant.
	AuthorBot bool

	// Content is the message text.
	Content string

	// MentionsBot reports whether the message mentions this bot.
	MentionsBot bool

	// ReferenceID is the ID of the message this one replies to, if any.
	ReferenceID string

	// Attachments lists any file attachments.
	Attachments []Attachment
}

// User-facing messages. Kept as constants so tests can assert on them.
const (
	msgReplyRequired = "Please reply to the last message of the debate you want audited and include the trigger phrase."

	msgNoDebate = "I didn't detect an actual debate in those messages.\n\n" +
		"What would you like to do next?\n" +
		"- Reply `ANALYZE` to analyze the current transcript as-is.\n" +
		"- Reply `EXPAND` to fetch more messages for broader context.\n" +
		"If it still isn't a debate after expansion, you can paste a manual transcript."

	msgChoices = "What would you like to do next?\n" +
		"- Reply `ANALYZE` to perform a full debate analysis on this transcript.\n" +
		"- Reply `EXPAND` to fetch more messages for additional context."

	msgManualPrompt = "You indicated the context is still wrong. " +
		"Please reply directly to this message with the full debate transcript, " +
		"either pasted as text or attached as a .txt file. I will read only a direct reply."

	msgNoAPIKey = "ERROR: no LLM provider is configured (OPENAI_API_KEY not set)."
)

// EngineConfig holds all dependencies for an [Engine].
type EngineConfig struct {
	Store       *Store
	LLM         llm.Provider // may be nil when no credentials are configured
	Assembler   *transcript.Assembler
	Replier     Replier
	Attachments AttachmentFetcher
	Metrics     *observe.Metrics

	// TriggerPhrase starts an audit when present in a bot mention.
	TriggerPhrase string

	Workflow config.WorkflowConfig
}

// Engine drives the audit workflow state machine. One Engine serves all
// channels; per-audit state lives in the [Store].
type Engine struct {
	store       *Store
	llm         llm.Provider
	assembler   *transcript.Assembler
	replier     Replier
	attachments AttachmentFetcher
	metrics     *observe.Metrics
	trigger     string
	wf          config.WorkflowConfig
}

// NewEngine creates an Engine from cfg.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		store:       cfg.Store,
		llm:         cfg.LLM,
		assembler:   cfg.Assembler,
		replier:     cfg.Replier,
		attachments: cfg.Attachments,
		metrics:     cfg.Metrics,
		trigger:     strings.ToLower(cfg.TriggerPhrase),
		wf:          cfg.Workflow,
	}
}

// HandleMessage advances the workflow for one inbound message: it may start
// a new audit, advance an existing session, or do nothing. Every failure
// path reports to the user and returns; nothing here is fatal.
func (e *Engine) HandleMessage(ctx context.Context, ev Event) {
	if ev.AuthorBot {
		return
	}

	// A trigger always starts a fresh audit, even mid-session: the newer
	// audit replaces the older one for its key.
	if ev.MentionsBot && strings.Contains(strings.ToLower(ev.Content), e.trigger) {
		e.startAudit(ctx, ev)
		return
	}

	key := Key{ChannelID: ev.ChannelID, UserID: ev.AuthorID}
	if sess, ok := e.store.Get(key); ok {
		switch sess.State {
		case StateAwaitingConfirmation:
			e.handleConfirmation(ctx, key, sess, ev)
		case StateAwaitingManualTranscript:
			e.handleManualTranscript(ctx, key, sess, ev)
		}
	}
}

// startAudit runs the trigger step: assemble the transcript before the
// anchor, classify it, optionally summarise, open a thread, and create the
// session in StateAwaitingConfirmation.
func (e *Engine) startAudit(ctx context.Context, ev Event) {
	if ev.ReferenceID == "" {
		e.send(ctx, ev.ChannelID, msgReplyRequired)
		return
	}

	text, err := e.assembler.Assemble(ctx, ev.ChannelID, ev.ReferenceID, e.wf.HistoryLimit)
	if err != nil {
		slog.Warn("audit: assemble transcript", "channel", ev.ChannelID, "err", err)
		e.send(ctx, ev.ChannelID, "Could not fetch the conversation history. Please try again.")
		return
	}

	if e.llm == nil {
		e.send(ctx, ev.ChannelID, msgNoAPIKey)
		return
	}

	// Preliminary check: is this actually a debate? The classifier fails
	// open — an LLM error counts as "yes" so the audit can proceed.
	isDebate := true
	answer, err := e.complete(ctx, "classify", assessSystemPrompt, assessUserPrompt(text), e.wf.ClassifierMaxTokens)
	if err != nil {
		slog.Warn("audit: debate classification failed, assuming debate", "err", err)
	} else if strings.HasPrefix(strings.ToLower(answer), "n") {
		isDebate = false
	}

	summary := ""
	if isDebate {
		summary, err = e.complete(ctx, "summary", summarySystemPrompt, summaryUserPrompt(text), e.wf.SummaryMaxTokens)
		if err != nil {
			e.send(ctx, ev.ChannelID, fmt.Sprintf("LLM error during summary: %v", err))
			return
		}
	}

	// A dedicated thread keeps the audit out of the main conversation;
	// fall back to the originating channel when thread creation fails.
	threadID, err := e.replier.CreateThread(ctx, ev.ChannelID, ev.MessageID, "Audit - "+ev.AuthorName)
	if err != nil {
		slog.Warn("audit: create thread, falling back to channel", "channel", ev.ChannelID, "err", err)
		threadID = ev.ChannelID
	}

	key := Key{ChannelID: threadID, UserID: ev.AuthorID}
	replaced := e.store.Delete(key)
	e.store.Put(key, &Session{
		State:           StateAwaitingConfirmation,
		Transcript:      text,
		AnchorMessageID: ev.ReferenceID,
		OriginChannelID: ev.ChannelID,
		Summary:         summary,
	})
	if e.metrics != nil {
		e.metrics.AuditsStarted.Add(ctx, 1)
		if !replaced {
			e.metrics.ActiveAudits.Add(ctx, 1)
		}
	}

	if summary == "" {
		e.send(ctx, threadID, msgNoDebate)
		return
	}
	e.send(ctx, threadID, fmt.Sprintf("Here is a brief summary of the key points and disagreements:\n\n%s\n\n%s", summary, msgChoices))
}

// handleConfirmation processes ANALYZE/EXPAND replies in
// StateAwaitingConfirmation. Any other content is ignored and the session
// persists.
func (e *Engine) handleConfirmation(ctx context.Context, key Key, sess *Session, ev Event) {
	switch strings.ToUpper(strings.TrimSpace(ev.Content)) {
	case "ANALYZE":
		e.runAnalysis(ctx, key, sess.Transcript, ev.ChannelID)

	case "EXPAND":
		if sess.ExpansionCount == 0 {
			e.expand(ctx, key, sess, ev)
			return
		}
		// Already expanded once; ask for a manual transcript instead.
		promptID, err := e.replier.Send(ctx, ev.ChannelID, msgManualPrompt)
		if err != nil {
			slog.Warn("audit: send manual-transcript prompt", "channel", ev.ChannelID, "err", err)
			return
		}
		sess.State = StateAwaitingManualTranscript
		sess.PendingPromptMessageID = promptID
		e.store.Put(key, sess)
	}
}

// expand refetches a larger window before the original anchor, regenerates
// the summary, and keeps the session in StateAwaitingConfirmation. The
// session is only mutated once both the refetch and the summary succeed.
func (e *Engine) expand(ctx context.Context, key Key, sess *Session, ev Event) {
	text, err := e.assembler.Assemble(ctx, sess.OriginChannelID, sess.AnchorMessageID, e.wf.ExpandLimit)
	if err != nil {
		slog.Warn("audit: expand transcript", "channel", sess.OriginChannelID, "err", err)
		e.send(ctx, ev.ChannelID, "Could not fetch the conversation history for expansion.")
		return
	}

	if e.llm == nil {
		e.send(ctx, ev.ChannelID, msgNoAPIKey)
		return
	}
	summary, err := e.complete(ctx, "summary", summarySystemPrompt, summaryUserPrompt(text), e.wf.SummaryMaxTokens)
	if err != nil {
		e.send(ctx, ev.ChannelID, fmt.Sprintf("LLM error during re-summary: %v", err))
		return
	}

	sess.Transcript = text
	sess.ExpansionCount++
	sess.Summary = summary
	e.store.Put(key, sess)

	e.send(ctx, ev.ChannelID, fmt.Sprintf(
		"Here is an expanded summary of the key points and disagreements:\n\n%s\n\n%s\n"+
			"If the context is still wrong, reply `EXPAND` again to provide a manual transcript.",
		summary, msgChoices))
}

// handleManualTranscript accepts only a direct reply to the pending prompt
// message; everything else leaves the session untouched. The reply's .txt
// attachment, when present and readable, wins over the message body.
func (e *Engine) handleManualTranscript(ctx context.Context, key Key, sess *Session, ev Event) {
	if ev.ReferenceID == "" || ev.ReferenceID != sess.PendingPromptMessageID {
		return
	}

	text := ev.Content
	for _, att := range ev.Attachments {
		if !strings.HasSuffix(strings.ToLower(att.Filename), ".txt") {
			continue
		}
		data, err := e.attachments.Fetch(ctx, att.URL)
		if err != nil {
			slog.Warn("audit: fetch transcript attachment, using message body", "filename", att.Filename, "err", err)
			break
		}
		if decoded := strings.ToValidUTF8(string(data), ""); decoded != "" {
			text = decoded
		}
		break
	}

	e.runAnalysis(ctx, key, text, ev.ChannelID)
}

// runAnalysis performs the full analysis over text and always ends the
// session: the verdict path and the error path are both terminal, because
// there is no further fallback after analysis.
func (e *Engine) runAnalysis(ctx context.Context, key Key, text, channelID string) {
	if e.llm == nil {
		e.send(ctx, channelID, msgNoAPIKey)
		return
	}

	verdict, err := e.complete(ctx, "analysis", AnalysisSystemPrompt, AnalysisUserPrompt(text), e.wf.AnalysisMaxTokens)
	if err != nil {
		e.send(ctx, channelID, fmt.Sprintf("LLM analysis error: %v", err))
		e.endSession(ctx, key, "error")
		return
	}

	if sendErr := e.replier.SendChunked(ctx, channelID, verdict); sendErr != nil {
		slog.Warn("audit: deliver verdict", "channel", channelID, "err", sendErr)
	}
	e.endSession(ctx, key, "verdict")
}

// endSession removes the session and records the terminal outcome.
func (e *Engine) endSession(ctx context.Context, key Key, outcome string) {
	if !e.store.Delete(key) {
		return
	}
	if e.metrics != nil {
		e.metrics.AuditsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		e.metrics.ActiveAudits.Add(ctx, -1)
	}
}

// complete wraps one LLM call with metrics and trims the response.
func (e *Engine) complete(ctx context.Context, op, system, user string, maxTokens int) (string, error) {
	start := time.Now()
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: "user", Content: user}},
		MaxTokens:    maxTokens,
	})
	e.metrics.RecordLLM(ctx, op, time.Since(start).Seconds(), err)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// send posts a plain message, logging delivery failures.
func (e *Engine) send(ctx context.Context, channelID, content string) {
	if _, err := e.replier.Send(ctx, channelID, content); err != nil {
		slog.Warn("audit: send message", "channel", channelID, "err", err)
	}
}
