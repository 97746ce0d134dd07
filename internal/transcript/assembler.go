// Package transcript assembles speaker-attributed text transcripts from a
// conversation history source.
//
// History sources yield messages newest-first (the Discord API order); the
// assembler reverses them so rendered transcripts always read
// oldest-to-newest, one `"{speaker}: {text}"` line per message. Messages
// authored by bots are never included.
package transcript

import (
	"context"
	"fmt"
	"strings"
)

// Message is one conversation message as seen by the assembler.
type Message struct {
	// AuthorID is the platform user ID of the author.
	AuthorID string

	// AuthorName is the author's display name, used as the speaker label.
	AuthorName string

	// Content is the message text.
	Content string

	// Bot reports whether the author is an automated participant.
	Bot bool
}

// History is a read-only conversation history source. Implementations yield
// up to limit messages posted strictly before the message identified by
// beforeID, newest-first. An empty beforeID means "before now".
type History interface {
	MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]Message, error)
}

// Assembler renders bounded history windows into transcript text.
type Assembler struct {
	history History
}

// NewAssembler creates an Assembler over the given history source.
func NewAssembler(history History) *Assembler {
	return &Assembler{history: history}
}

// Assemble fetches up to limit messages before beforeID in channelID,
// drops bot-authored messages, and renders the rest oldest-first.
func (a *Assembler) Assemble(ctx context.Context, channelID, beforeID string, limit int) (string, error) {
	msgs, err := a.history.MessagesBefore(ctx, channelID, beforeID, limit)
	if err != nil {
		return "", fmt.Errorf("transcript: fetch history: %w", err)
	}

	kept := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Bot {
			continue
		}
		kept = append(kept, m)
	}

	// History arrives newest-first; transcripts read oldest-first.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	return Render(kept), nil
}

// Render joins oldest-first messages into transcript text, one
// `"{speaker}: {text}"` line per message.
func Render(msgs []Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.AuthorName)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}
