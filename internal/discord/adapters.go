package discord

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/whitelam-dev/debateauditor/internal/live"
	"github.com/whitelam-dev/debateauditor/internal/transcript"
	audiodiscord "github.com/whitelam-dev/debateauditor/pkg/audio/discord"
)

// threadAutoArchiveMinutes is the auto-archive window for audit and notes
// threads (24 hours).
const threadAutoArchiveMinutes = 1440

// maxMessagesPerFetch is Discord's hard limit on one history request.
const maxMessagesPerFetch = 100

// Replier posts messages and opens threads through the Discord REST API. It
// implements the reply surface both the audit engine and the live manager
// consume.
type Replier struct {
	session    *discordgo.Session
	chunkLimit int
}

// NewReplier creates a Replier. chunkLimit bounds a single outbound message;
// longer content is split by SendChunked.
func NewReplier(session *discordgo.Session, chunkLimit int) *Replier {
	return &Replier{session: session, chunkLimit: chunkLimit}
}

// Send posts content to channelID and returns the created message's ID.
func (r *Replier) Send(ctx context.Context, channelID, content string) (string, error) {
	msg, err := r.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", err)
	}
	return msg.ID, nil
}

// SendChunked posts content split into messages no longer than the
// configured chunk limit, in order. Delivery stops at the first failure so
// chunks never arrive out of order.
func (r *Replier) SendChunked(ctx context.Context, channelID, content string) error {
	for _, chunk := range ChunkText(content, r.chunkLimit) {
		if _, err := r.Send(ctx, channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// CreateThread starts a public thread off messageID in channelID.
func (r *Replier) CreateThread(ctx context.Context, channelID, messageID, name string) (string, error) {
	thread, err := r.session.MessageThreadStartComplex(channelID, messageID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: threadAutoArchiveMinutes,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: start thread: %w", err)
	}
	return thread.ID, nil
}

// History reads channel history through the Discord REST API, paginating
// past the per-request cap so callers can ask for windows larger than 100
// messages.
type History struct {
	session *discordgo.Session
}

// NewHistory creates a History over session.
func NewHistory(session *discordgo.Session) *History {
	return &History{session: session}
}

var _ transcript.History = (*History)(nil)

// MessagesBefore returns up to limit messages posted before beforeID,
// newest-first.
func (h *History) MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]transcript.Message, error) {
	out := make([]transcript.Message, 0, limit)
	before := beforeID

	for len(out) < limit {
		batch := limit - len(out)
		if batch > maxMessagesPerFetch {
			batch = maxMessagesPerFetch
		}

		msgs, err := h.session.ChannelMessages(channelID, batch, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("discord: fetch messages: %w", err)
		}
		if len(msgs) == 0 {
			break
		}

		for _, m := range msgs {
			out = append(out, transcript.Message{
				AuthorID:   m.Author.ID,
				AuthorName: authorName(m),
				Content:    m.Content,
				Bot:        m.Author.Bot,
			})
		}

		// Messages arrive newest-first; the oldest of this batch anchors
		// the next page.
		before = msgs[len(msgs)-1].ID
		if len(msgs) < batch {
			break
		}
	}

	return out, nil
}

func authorName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// AttachmentFetcher downloads message attachments from Discord's CDN.
type AttachmentFetcher struct {
	client *http.Client
}

// NewAttachmentFetcher creates an AttachmentFetcher with a bounded timeout.
func NewAttachmentFetcher() *AttachmentFetcher {
	return &AttachmentFetcher{client: &http.Client{Timeout: 30 * time.Second}}
}

// Fetch downloads the attachment at url.
func (f *AttachmentFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("discord: build attachment request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord: download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discord: download attachment: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("discord: read attachment body: %w", err)
	}
	return data, nil
}

// Roster resolves member details from the gateway state cache, falling back
// to the REST API for members the cache has not seen.
type Roster struct {
	session *discordgo.Session
}

// NewRoster creates a Roster over session.
func NewRoster(session *discordgo.Session) *Roster {
	return &Roster{session: session}
}

var _ live.Roster = (*Roster)(nil)

// DisplayName returns the member's guild nickname, global display name, or
// username, in that order. Unresolvable members keep their raw ID so
// transcripts never lose attribution.
func (r *Roster) DisplayName(guildID, userID string) string {
	member, err := r.session.State.Member(guildID, userID)
	if err != nil {
		member, err = r.session.GuildMember(guildID, userID)
		if err != nil {
			return userID
		}
	}
	if member.Nick != "" {
		return member.Nick
	}
	if member.User != nil {
		if member.User.GlobalName != "" {
			return member.User.GlobalName
		}
		return member.User.Username
	}
	return userID
}

// VoiceChannelID returns the voice channel the member is currently in.
func (r *Roster) VoiceChannelID(guildID, userID string) (string, error) {
	vs, err := r.session.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", fmt.Errorf("discord: user %s is not in a voice channel", userID)
	}
	return vs.ChannelID, nil
}

// VoiceCapture adapts the audio capture platform to the live session's
// capture interface.
type VoiceCapture struct {
	platform *audiodiscord.Platform
}

// NewVoiceCapture creates a VoiceCapture over platform.
func NewVoiceCapture(platform *audiodiscord.Platform) *VoiceCapture {
	return &VoiceCapture{platform: platform}
}

var _ live.Capture = (*VoiceCapture)(nil)

// Connect joins the voice channel and wraps the connection.
func (v *VoiceCapture) Connect(ctx context.Context, guildID, channelID string) (live.Connection, error) {
	conn, err := v.platform.Connect(ctx, guildID, channelID)
	if err != nil {
		return nil, err
	}
	return captureConnection{conn}, nil
}

type captureConnection struct {
	conn *audiodiscord.Connection
}

func (c captureConnection) StartSink() (live.Sink, error) {
	sink, err := c.conn.StartSink()
	if err != nil {
		return nil, err
	}
	return sink, nil
}

func (c captureConnection) Disconnect() error {
	return c.conn.Disconnect()
}
