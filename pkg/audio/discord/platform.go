// Package discord provides voice capture over Discord voice channels via the
// bwmarrin/discordgo library. It bridges Discord's Opus-based voice transport
// with the mono PCM buffers the transcription pipeline consumes.
//
// The central type is [Sink]: while a sink is active it demuxes incoming
// Opus packets by SSRC, decodes them to PCM, downmixes to mono, and
// accumulates one buffer per speaker. The platform requires an active
// *discordgo.Session (owned by the bot layer).
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Platform joins Discord voice channels and hands out capture connections.
// It is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
}

// New creates a new Platform for the given session.
func New(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

// Connect joins the voice channel identified by guildID/channelID and returns
// an active capture [Connection]. The bot joins muted (it only listens).
// The supplied ctx governs the connection-setup phase only; once returned,
// the Connection lives until [Connection.Disconnect] is called.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (*Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: context already cancelled: %w", err)
	}

	vc, err := p.session.ChannelVoiceJoin(guildID, channelID, true, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConnection(vc), nil
}
