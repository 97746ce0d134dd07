package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/whitelam-dev/debateauditor/internal/config"
	"github.com/whitelam-dev/debateauditor/internal/transcript"
	"github.com/whitelam-dev/debateauditor/pkg/provider/llm"
	llmmock "github.com/whitelam-dev/debateauditor/pkg/provider/llm/mock"
)

type sentMessage struct {
	channelID string
	content   string
}

type fakeReplier struct {
	mu      sync.Mutex
	sent    []sentMessage
	chunked []sentMessage
	threads []sentMessage // channelID + thread name

	threadID  string
	threadErr error
	sendErr   error
	nextID    int
}

func (r *fakeReplier) Send(_ context.Context, channelID, content string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return "", r.sendErr
	}
	r.nextID++
	r.sent = append(r.sent, sentMessage{channelID, content})
	return fmt.Sprintf("sent-%d", r.nextID), nil
}

func (r *fakeReplier) SendChunked(_ context.Context, channelID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunked = append(r.chunked, sentMessage{channelID, content})
	return nil
}

func (r *fakeReplier) CreateThread(_ context.Context, channelID, _, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads = append(r.threads, sentMessage{channelID, name})
	if r.threadErr != nil {
		return "", r.threadErr
	}
	return r.threadID, nil
}

func (r *fakeReplier) lastSent(t *testing.T) sentMessage {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return r.sent[len(r.sent)-1]
}

type historyQuery struct {
	channelID string
	beforeID  string
	limit     int
}

type fakeHistory struct {
	msgs    []transcript.Message
	err     error
	queries []historyQuery
}

func (h *fakeHistory) MessagesBefore(_ context.Context, channelID, beforeID string, limit int) ([]transcript.Message, error) {
	h.queries = append(h.queries, historyQuery{channelID, beforeID, limit})
	if h.err != nil {
		return nil, h.err
	}
	return h.msgs, nil
}

type fakeFetcher struct {
	data []byte
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.urls = append(f.urls, url)
	return f.data, f.err
}

type engineFixture struct {
	engine  *Engine
	store   *Store
	llm     *llmmock.Provider
	replier *fakeReplier
	history *fakeHistory
	fetcher *fakeFetcher
}

// dispatchLLM answers each workflow stage by its system prompt.
func dispatchLLM(classify, summary, verdict string) func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch req.SystemPrompt {
		case assessSystemPrompt:
			return &llm.CompletionResponse{Content: classify}, nil
		case summarySystemPrompt:
			return &llm.CompletionResponse{Content: summary}, nil
		case AnalysisSystemPrompt:
			return &llm.CompletionResponse{Content: verdict}, nil
		}
		return nil, fmt.Errorf("unexpected system prompt %q", req.SystemPrompt)
	}
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:   NewStore(time.Hour),
		llm:     &llmmock.Provider{CompleteFunc: dispatchLLM("Yes", "the summary", "the verdict")},
		replier: &fakeReplier{threadID: "thread-1"},
		history: &fakeHistory{msgs: []transcript.Message{
			{AuthorID: "u2", AuthorName: "Bob", Content: "no it isn't"},
			{AuthorID: "u1", AuthorName: "Alice", Content: "yes it is"},
		}},
		fetcher: &fakeFetcher{},
	}
	wf := config.WorkflowConfig{}
	cfg := config.Config{Workflow: wf}
	cfg.ApplyDefaults()
	f.engine = NewEngine(EngineConfig{
		Store:         f.store,
		LLM:           f.llm,
		Assembler:     transcript.NewAssembler(f.history),
		Replier:       f.replier,
		Attachments:   f.fetcher,
		TriggerPhrase: "audit please",
		Workflow:      cfg.Workflow,
	})
	return f
}

func triggerEvent() Event {
	return Event{
		ChannelID:   "chan",
		MessageID:   "trigger-msg",
		AuthorID:    "u1",
		AuthorName:  "Alice",
		Content:     "@auditor audit please",
		MentionsBot: true,
		ReferenceID: "anchor",
	}
}

// startSession drives the trigger step and returns the session key.
func startSession(t *testing.T, f *engineFixture) Key {
	t.Helper()
	f.engine.HandleMessage(context.Background(), triggerEvent())
	key := Key{ChannelID: "thread-1", UserID: "u1"}
	if _, ok := f.store.Get(key); !ok {
		t.Fatal("no session created by trigger")
	}
	return key
}

func TestBotAuthorsAreIgnored(t *testing.T) {
	f := newFixture(t)
	ev := triggerEvent()
	ev.AuthorBot = true
	f.engine.HandleMessage(context.Background(), ev)

	if len(f.replier.sent) != 0 || f.store.Len() != 0 {
		t.Error("bot-authored trigger was processed")
	}
}

func TestTriggerRequiresMentionAndPhrase(t *testing.T) {
	f := newFixture(t)

	ev := triggerEvent()
	ev.MentionsBot = false
	f.engine.HandleMessage(context.Background(), ev)

	ev = triggerEvent()
	ev.Content = "@auditor what do you think?"
	f.engine.HandleMessage(context.Background(), ev)

	if len(f.replier.sent) != 0 || f.store.Len() != 0 {
		t.Error("message without mention+phrase started an audit")
	}
}

func TestTriggerWithoutReplyReference(t *testing.T) {
	f := newFixture(t)
	ev := triggerEvent()
	ev.ReferenceID = ""
	f.engine.HandleMessage(context.Background(), ev)

	if got := f.replier.lastSent(t); got.content != msgReplyRequired {
		t.Errorf("sent %q, want reply-required guidance", got.content)
	}
	if f.store.Len() != 0 {
		t.Error("session created without a reply reference")
	}
}

func TestTriggerCreatesSessionInThread(t *testing.T) {
	f := newFixture(t)
	key := startSession(t, f)

	if len(f.history.queries) != 1 {
		t.Fatalf("history queried %d times, want 1", len(f.history.queries))
	}
	if q := f.history.queries[0]; q.channelID != "chan" || q.beforeID != "anchor" || q.limit != 100 {
		t.Errorf("history query = %+v", q)
	}
	if len(f.replier.threads) != 1 || f.replier.threads[0].content != "Audit - Alice" {
		t.Errorf("threads = %+v", f.replier.threads)
	}

	sess, _ := f.store.Get(key)
	if sess.State != StateAwaitingConfirmation {
		t.Errorf("State = %q", sess.State)
	}
	if sess.OriginChannelID != "chan" || sess.AnchorMessageID != "anchor" {
		t.Errorf("origin/anchor = %q/%q", sess.OriginChannelID, sess.AnchorMessageID)
	}
	if sess.Summary != "the summary" || sess.ExpansionCount != 0 {
		t.Errorf("summary/expansions = %q/%d", sess.Summary, sess.ExpansionCount)
	}

	got := f.replier.lastSent(t)
	if got.channelID != "thread-1" || !strings.Contains(got.content, "the summary") {
		t.Errorf("summary reply = %+v", got)
	}
}

func TestRetriggerReplacesExistingSession(t *testing.T) {
	f := newFixture(t)
	// With thread creation failing, both audits key on the originating
	// channel, so the second trigger targets the same session slot.
	f.replier.threadErr = errors.New("missing permission")
	key := Key{ChannelID: "chan", UserID: "u1"}

	f.engine.HandleMessage(context.Background(), triggerEvent())
	first, ok := f.store.Get(key)
	if !ok {
		t.Fatal("no session created by first trigger")
	}
	if first.ExpansionCount != 0 {
		t.Fatalf("ExpansionCount = %d before re-trigger", first.ExpansionCount)
	}

	// Advance the first session so the replacement is observable.
	f.engine.HandleMessage(context.Background(), Event{
		ChannelID: "chan", AuthorID: "u1", Content: "EXPAND",
	})

	f.llm.CompleteFunc = dispatchLLM("Yes", "the newer summary", "the verdict")
	ev := triggerEvent()
	ev.ReferenceID = "newer-anchor"
	f.engine.HandleMessage(context.Background(), ev)

	if got := f.store.Len(); got != 1 {
		t.Fatalf("store holds %d sessions after re-trigger, want exactly 1", got)
	}
	sess, ok := f.store.Get(key)
	if !ok {
		t.Fatal("no session for the key after re-trigger")
	}
	if sess.Summary != "the newer summary" {
		t.Errorf("Summary = %q, want the newer audit's summary", sess.Summary)
	}
	if sess.AnchorMessageID != "newer-anchor" || sess.ExpansionCount != 0 {
		t.Errorf("anchor/expansions = %q/%d, want a fresh session", sess.AnchorMessageID, sess.ExpansionCount)
	}
}

func TestClassifierNoSkipsSummary(t *testing.T) {
	f := newFixture(t)
	f.llm.CompleteFunc = dispatchLLM("No.", "unreachable", "unreachable")
	f.engine.HandleMessage(context.Background(), triggerEvent())

	if calls := f.llm.Calls(); len(calls) != 1 {
		t.Fatalf("LLM called %d times, want classification only", len(calls))
	}
	sess, ok := f.store.Get(Key{ChannelID: "thread-1", UserID: "u1"})
	if !ok {
		t.Fatal("no session created on classifier no")
	}
	if sess.Summary != "" {
		t.Errorf("Summary = %q, want empty", sess.Summary)
	}
	if got := f.replier.lastSent(t); got.content != msgNoDebate {
		t.Errorf("sent %q, want no-debate choices", got.content)
	}
}

func TestClassifierErrorFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.llm.CompleteFunc = func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if req.SystemPrompt == assessSystemPrompt {
			return nil, errors.New("upstream timeout")
		}
		return &llm.CompletionResponse{Content: "the summary"}, nil
	}
	f.engine.HandleMessage(context.Background(), triggerEvent())

	sess, ok := f.store.Get(Key{ChannelID: "thread-1", UserID: "u1"})
	if !ok {
		t.Fatal("classifier error aborted the audit")
	}
	if sess.Summary != "the summary" {
		t.Errorf("Summary = %q, want summary despite classifier failure", sess.Summary)
	}
}

func TestSummaryErrorAbortsWithoutSession(t *testing.T) {
	f := newFixture(t)
	f.llm.CompleteFunc = func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if req.SystemPrompt == summarySystemPrompt {
			return nil, errors.New("rate limited")
		}
		return &llm.CompletionResponse{Content: "Yes"}, nil
	}
	f.engine.HandleMessage(context.Background(), triggerEvent())

	if f.store.Len() != 0 {
		t.Error("session created despite summary failure")
	}
	if got := f.replier.lastSent(t); !strings.Contains(got.content, "rate limited") {
		t.Errorf("sent %q, want the LLM error surfaced", got.content)
	}
}

func TestNoProviderConfigured(t *testing.T) {
	f := newFixture(t)
	f.engine.llm = nil
	f.engine.HandleMessage(context.Background(), triggerEvent())

	if got := f.replier.lastSent(t); got.content != msgNoAPIKey {
		t.Errorf("sent %q, want missing-credentials error", got.content)
	}
	if f.store.Len() != 0 {
		t.Error("session created without a provider")
	}
}

func TestThreadFailureFallsBackToChannel(t *testing.T) {
	f := newFixture(t)
	f.replier.threadErr = errors.New("missing permission")
	f.engine.HandleMessage(context.Background(), triggerEvent())

	if _, ok := f.store.Get(Key{ChannelID: "chan", UserID: "u1"}); !ok {
		t.Fatal("session not keyed on the originating channel after thread failure")
	}
	if got := f.replier.lastSent(t); got.channelID != "chan" {
		t.Errorf("summary sent to %q, want originating channel", got.channelID)
	}
}

func TestAnalyzeDeliversVerdictAndEndsSession(t *testing.T) {
	f := newFixture(t)
	key := startSession(t, f)

	f.engine.HandleMessage(context.Background(), Event{
		ChannelID: "thread-1", AuthorID: "u1", Content: " analyze \n",
	})

	if len(f.replier.chunked) != 1 {
		t.Fatalf("chunked sends = %d, want 1", len(f.replier.chunked))
	}
	if got := f.replier.chunked[0]; got.channelID != "thread-1" || got.content != "the verdict" {
		t.Errorf("verdict = %+v", got)
	}
	if _, ok := f.store.Get(key); ok {
		t.Error("session survived analysis")
	}

	calls := f.llm.Calls()
	last := calls[len(calls)-1].Req
	if last.SystemPrompt != AnalysisSystemPrompt || last.MaxTokens != 500 {
		t.Errorf("analysis request = system %q, max tokens %d", last.SystemPrompt, last.MaxTokens)
	}
}

func TestUnrecognisedReplyKeepsSession(t *testing.T) {
	f := newFixture(t)
	key := startSession(t, f)

	f.engine.HandleMessage(context.Background(), Event{
		ChannelID: "thread-1", AuthorID: "u1", Content: "hmm let me think",
	})

	sess, ok := f.store.Get(key)
	if !ok || sess.State != StateAwaitingConfirmation {
		t.Error("chatter in the thread changed the session")
	}
	if len(f.llm.Calls()) != 2 {
		t.Errorf("LLM calls = %d, want no extra calls", len(f.llm.Calls()))
	}
}

func TestExpandRefetchesFromOrigin(t *testing.T) {
	f := newFixture(t)
	key := startSession(t, f)
	f.llm.CompleteFunc = dispatchLLM("Yes", "the broader summary", "the verdict")

	f.engine.HandleMessage(context.Background(), Event{
		ChannelID: "thread-1", AuthorID: "u1", Content: "EXPAND",
	})

	q := f.history.queries[len(f.history.queries)-1]
	if q.channelID != "chan" || q.beforeID != "anchor" || q.limit != 300 {
		t.Errorf("expansion query = %+v, want origin channel before anchor with the wider window", q)
	}

	sess, _ := f.store.Get(key)
	if sess.ExpansionCount != 1 {
		t.Errorf("ExpansionCount = %d, want 1", sess.ExpansionCount)
	}
	if sess.State != StateAwaitingConfirmation {
		t.Errorf("State = %q, want confirmation to continue", sess.State)
	}
	if sess.Summary != "the broader summary" {
		t.Errorf("Summary = %q, want regenerated summary", sess.Summary)
	}
}

func TestExpandFailureLeavesSessionUnchanged(t *testing.T) {
	f := newFixture(t)
	key := startSession(t, f)
	before, _ := f.store.Get(key)
	transcriptBefore := before.Transcript

	f.history.err = errors.New("gateway down")
	f.engine.HandleMessage(context.Background(), Event{
		ChannelID: "thread-1", AuthorID: "u1", Content: "EXPAND",
	})

	sess, ok := f.store.Get(key)
	if !ok {
		t.Fatal("session dropped on expansion failure")
	}
	if sess.Transcript != transcriptBefore || sess.ExpansionCount != 0 {
		t.Error("expansion failure mutated the session")
	}
}

func TestSecondExpandRequestsManualTranscript(t *testing.T) {
	f := newFixture(t)
	key := startSession(t, f)
	f.engine.HandleMessage(context.Background(), Event{
		ChannelID: "thread-1", AuthorID: "u1", Content: "EXPAND",
	})
	f.engine.HandleMessage(context.Background(), Event{
		ChannelID: "thread-1", AuthorID: "u1", Content: "EXPAND",
	})

	if got := f.replier.lastSent(t); got.content != msgManualPrompt {
		t.Fatalf("sent %q, want the manual-transcript prompt", got.content)
	}
	sess, _ := f.store.Get(key)
	if sess.State != StateAwaitingManualTranscript {
		t.Errorf("State = %q", sess.State)
	}
	if sess.PendingPromptMessageID == "" {
		t.Error("prompt message ID not recorded")
	}
}

// manualSession fast-forwards a fixture to StateAwaitingManualTranscript and
// returns the key plus the prompt message ID replies must reference.
func manualSession(t *testing.T, f *engineFixture) (Key, string) {
	t.Helper()
	key := startSession(t, f)
	for i := 0; i < 2; i++ {
		f.engine.HandleMessage(context.Background(), Event{
			ChannelID: "thread-1", AuthorID: "u1", Content: "EXPAND",
		})
	}
	sess, _ := f.store.Get(key)
	if sess.State != StateAwaitingManualTranscript {
		t.Fatalf("State = %q, want manual transcript", sess.State)
	}
	return key, sess.PendingPromptMessageID
}

func TestManualTranscriptRequiresDirectReply(t *testing.T) {
	f := newFixture(t)
	key, _ := manualSession(t, f)
	callsBefore := len(f.llm.Calls())

	f.engine.HandleMessage(context.Background(), Event{
		ChannelID: "thread-1", AuthorID: "u1", Content: "full transcript here",
		ReferenceID: "some-other-message",
	})

	if _, ok := f.store.Get(key); !ok {
		t.Error("non-reply ended the session")
	}
	if len(f.llm.Calls()) != callsBefore {
		t.Error("non-reply triggered an LLM call")
	}
}

func TestManualTranscriptBodyAnalyzed(t *testing.T) {
	f := newFixture(t)
	key, promptID := manualSession(t, f)

	f.engine.HandleMessage(context.Background(), Event{
		ChannelID: "thread-1", AuthorID: "u1",
		Content:     "Alice: cats rule\nBob: dogs rule",
		ReferenceID: promptID,
	})

	if _, ok := f.store.Get(key); ok {
		t.Error("session survived manual analysis")
	}
	calls := f.llm.Calls()
	last := calls[len(calls)-1].Req
	if !strings.Contains(last.Messages[0].Content, "cats rule") {
		t.Errorf("analysis prompt = %q, want the pasted transcript", last.Messages[0].Content)
	}
	if len(f.replier.chunked) != 1 || f.replier.chunked[0].content != "the verdict" {
		t.Errorf("chunked = %+v", f.replier.chunked)
	}
}

func TestManualTranscriptAttachmentWins(t *testing.T) {
	f := newFixture(t)
	_, promptID := manualSession(t, f)
	f.fetcher.data = []byte("Carol: attached transcript")

	f.engine.HandleMessage(context.Background(), Event{
		ChannelID: "thread-1", AuthorID: "u1",
		Content:     "see attached",
		ReferenceID: promptID,
		Attachments: []Attachment{
			{Filename: "notes.png", URL: "https://cdn/notes.png"},
			{Filename: "debate.TXT", URL: "https://cdn/debate.txt"},
		},
	})

	if len(f.fetcher.urls) != 1 || f.fetcher.urls[0] != "https://cdn/debate.txt" {
		t.Errorf("fetched %v, want only the .txt attachment", f.fetcher.urls)
	}
	calls := f.llm.Calls()
	last := calls[len(calls)-1].Req
	if !strings.Contains(last.Messages[0].Content, "attached transcript") {
		t.Errorf("analysis prompt = %q, want the attachment content", last.Messages[0].Content)
	}
}

func TestManualTranscriptAttachmentFetchErrorUsesBody(t *testing.T) {
	f := newFixture(t)
	_, promptID := manualSession(t, f)
	f.fetcher.err = errors.New("404")

	f.engine.HandleMessage(context.Background(), Event{
		ChannelID: "thread-1", AuthorID: "u1",
		Content:     "Alice: fallback body",
		ReferenceID: promptID,
		Attachments: []Attachment{{Filename: "debate.txt", URL: "https://cdn/debate.txt"}},
	})

	calls := f.llm.Calls()
	last := calls[len(calls)-1].Req
	if !strings.Contains(last.Messages[0].Content, "fallback body") {
		t.Errorf("analysis prompt = %q, want the message body", last.Messages[0].Content)
	}
}

func TestAnalysisErrorEndsSession(t *testing.T) {
	f := newFixture(t)
	key := startSession(t, f)
	f.llm.CompleteFunc = func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if req.SystemPrompt == AnalysisSystemPrompt {
			return nil, errors.New("model overloaded")
		}
		return &llm.CompletionResponse{Content: "Yes"}, nil
	}

	f.engine.HandleMessage(context.Background(), Event{
		ChannelID: "thread-1", AuthorID: "u1", Content: "ANALYZE",
	})

	if _, ok := f.store.Get(key); ok {
		t.Error("session survived a failed analysis")
	}
	if got := f.replier.lastSent(t); !strings.Contains(got.content, "model overloaded") {
		t.Errorf("sent %q, want the analysis error surfaced", got.content)
	}
	if len(f.replier.chunked) != 0 {
		t.Error("verdict delivered despite analysis failure")
	}
}
