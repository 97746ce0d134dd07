// Package discord provides the Discord bot layer for the debate auditor. It
// owns the discordgo.Session lifecycle, routes inbound messages to the audit
// workflow engine and the live voice manager, and adapts the Discord REST
// API to the interfaces those packages consume.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/whitelam-dev/debateauditor/internal/audit"
	"github.com/whitelam-dev/debateauditor/internal/live"
)

// Voice commands recognised in messages that mention the bot.
const (
	cmdRecord = "record debate"
	cmdStop   = "stop recording"
)

// Bot owns the Discord gateway connection and dispatches message events.
type Bot struct {
	session   *discordgo.Session
	engine    *audit.Engine
	live      *live.Manager
	replier   *Replier
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession creates a configured, unopened discordgo session. The bot needs
// message content to read triggers and transcripts, plus voice states to
// find the channel a live recording should join.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildVoiceStates
	return session, nil
}

// New wires a Bot over an already-created session and registers its message
// handler, then opens the gateway connection.
func New(session *discordgo.Session, engine *audit.Engine, liveMgr *live.Manager, replier *Replier) (*Bot, error) {
	b := &Bot{
		session: session,
		engine:  engine,
		live:    liveMgr,
		replier: replier,
		done:    make(chan struct{}),
	}
	session.AddHandler(b.handleMessage)

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	slog.Info("discord gateway connected", "user", session.State.User.Username)
	return b, nil
}

// Run blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return nil
	}
}

// Close disconnects from the gateway. Safe to call more than once.
func (b *Bot) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.session.Close()
	})
	return err
}

// handleMessage routes one gateway message: voice commands first, then the
// audit workflow engine.
func (b *Bot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == s.State.User.ID {
		return
	}

	ctx := context.Background()
	if b.routeVoiceCommand(ctx, s, m) {
		return
	}

	b.engine.HandleMessage(ctx, buildEvent(s, m))
}

// routeVoiceCommand handles the live recording start/stop commands. It
// reports whether the message was consumed.
func (b *Bot) routeVoiceCommand(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) bool {
	if m.GuildID == "" || !mentionsUser(m, s.State.User.ID) {
		return false
	}

	content := strings.ToLower(m.Content)
	switch {
	case strings.Contains(content, cmdRecord):
		err := b.live.Start(ctx, m.GuildID, m.ChannelID, m.ID, m.Author.ID)
		switch {
		case errors.Is(err, live.ErrSessionActive):
			b.reply(ctx, m.ChannelID, "A recording is already running in this server. Say `stop recording` first.")
		case err != nil:
			slog.Warn("discord: start live session", "guild", m.GuildID, "err", err)
			b.reply(ctx, m.ChannelID, fmt.Sprintf("Could not start recording: %v", err))
		}
		return true

	case strings.Contains(content, cmdStop):
		err := b.live.Stop(ctx, m.GuildID)
		if errors.Is(err, live.ErrNoSession) {
			b.reply(ctx, m.ChannelID, "Nothing is being recorded in this server.")
		} else if err != nil {
			slog.Warn("discord: stop live session", "guild", m.GuildID, "err", err)
		}
		return true
	}
	return false
}

func (b *Bot) reply(ctx context.Context, channelID, content string) {
	if _, err := b.replier.Send(ctx, channelID, content); err != nil {
		slog.Warn("discord: send reply", "channel", channelID, "err", err)
	}
}

// buildEvent translates a gateway message into the engine's event shape.
func buildEvent(s *discordgo.Session, m *discordgo.MessageCreate) audit.Event {
	ev := audit.Event{
		ChannelID:   m.ChannelID,
		MessageID:   m.ID,
		AuthorID:    m.Author.ID,
		AuthorName:  authorName(m.Message),
		AuthorBot:   m.Author.Bot,
		Content:     m.Content,
		MentionsBot: mentionsUser(m, s.State.User.ID),
	}
	if ref := m.MessageReference; ref != nil {
		ev.ReferenceID = ref.MessageID
	}
	for _, att := range m.Attachments {
		ev.Attachments = append(ev.Attachments, audit.Attachment{
			Filename: att.Filename,
			URL:      att.URL,
		})
	}
	return ev
}

func mentionsUser(m *discordgo.MessageCreate, userID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}
