// Package audit implements the debate-audit workflow: a per-(channel, user)
// session state machine that captures a conversation transcript, offers the
// initiating user a summarise/expand/analyse flow, and produces a final
// verdict through an LLM provider.
package audit

import (
	"sync"
	"time"
)

// State is the position of an audit session in the workflow state machine.
type State string

const (
	// StateAwaitingConfirmation waits for the user to reply ANALYZE or EXPAND.
	StateAwaitingConfirmation State = "awaiting_confirmation"

	// StateAwaitingManualTranscript waits for a direct reply to the bot's
	// manual-transcript prompt.
	StateAwaitingManualTranscript State = "awaiting_manual_transcript"
)

// Key identifies a session: the channel (or thread) the audit runs in plus
// the initiating user.
type Key struct {
	ChannelID string
	UserID    string
}

// Session is one in-progress audit.
type Session struct {
	// State is the current workflow state.
	State State

	// Transcript is the speaker-attributed text accumulated so far.
	Transcript string

	// ExpansionCount is how many times context has been broadened. The
	// expansion path is capped at one broadening before falling back to a
	// manual transcript.
	ExpansionCount int

	// AnchorMessageID is the message the audit is anchored to; expansions
	// fetch "messages before this point".
	AnchorMessageID string

	// OriginChannelID is the channel the anchor message lives in. The audit
	// itself usually runs in a dedicated thread, so expansions must refetch
	// from here, not from the session channel.
	OriginChannelID string

	// PendingPromptMessageID is the bot's own manual-transcript prompt
	// message; only direct replies to it are accepted in
	// StateAwaitingManualTranscript.
	PendingPromptMessageID string

	// Summary is the last generated short summary, if any.
	Summary string

	// LastActivity is when the session was last created or touched.
	LastActivity time.Time
}

// Store is the process-wide audit session map. It guards map access with a
// mutex; at most one Session exists per Key, and Put for an existing key
// overwrites (last write wins).
//
// Sessions idle for longer than the configured TTL are dropped lazily on the
// next lookup. A zero TTL disables expiry.
type Store struct {
	mu       sync.Mutex
	sessions map[Key]*Session
	ttl      time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewStore creates an empty Store with the given idle TTL.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[Key]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Put creates or overwrites the session for key and stamps its activity time.
func (s *Store) Put(key Key, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.LastActivity = s.now()
	s.sessions[key] = sess
}

// Get returns the session for key. An idle-expired session is deleted and
// reported as absent; a live one has its activity time refreshed.
func (s *Store) Get(key Key) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && s.now().Sub(sess.LastActivity) > s.ttl {
		delete(s.sessions, key)
		return nil, false
	}
	sess.LastActivity = s.now()
	return sess, true
}

// Delete removes the session for key, if any. It reports whether a session
// was present.
func (s *Store) Delete(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[key]
	delete(s.sessions, key)
	return ok
}

// Len returns the number of stored sessions, including any not yet lazily
// expired.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
