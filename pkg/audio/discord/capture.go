package discord

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/whitelam-dev/debateauditor/pkg/audio"
)

// Connection wraps a discordgo.VoiceConnection for audio capture. At most one
// [Sink] may be active at a time because discordgo exposes a single OpusRecv
// channel per voice connection.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc *discordgo.VoiceConnection

	mu       sync.Mutex
	ssrcUser map[uint32]string // SSRC -> Discord user ID
	active   *Sink

	closeOnce sync.Once

	// disconnectVC defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel
// and registers the speaking-update handler that maps SSRCs to user IDs.
func newConnection(vc *discordgo.VoiceConnection) *Connection {
	c := &Connection{
		vc:           vc,
		ssrcUser:     make(map[uint32]string),
		disconnectVC: vc.Disconnect,
	}

	vc.AddHandler(func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
		if vs == nil || vs.UserID == "" {
			return
		}
		c.mu.Lock()
		c.ssrcUser[uint32(vs.SSRC)] = vs.UserID
		c.mu.Unlock()
	})

	return c
}

// StartSink begins capturing audio into a new [Sink]. It returns an error if
// a sink is already active on this connection.
func (c *Connection) StartSink() (*Sink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil, fmt.Errorf("discord: capture sink already active")
	}

	s := &Sink{
		conn:    c,
		buffers: make(map[string][]byte),
		done:    make(chan struct{}),
	}
	c.active = s

	s.wg.Add(1)
	go s.recvLoop(c.vc.OpusRecv)

	return s, nil
}

// Disconnect stops any active sink and tears down the voice connection.
// It is safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		active := c.active
		c.mu.Unlock()
		if active != nil {
			active.Stop()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// userFor resolves an SSRC to a Discord user ID, falling back to the SSRC
// rendered as a string when no speaking update has been seen yet.
func (c *Connection) userFor(ssrc uint32) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.ssrcUser[ssrc]; ok {
		return id
	}
	return strconv.FormatUint(uint64(ssrc), 10)
}

// release clears the active-sink slot once a sink has stopped.
func (c *Connection) release(s *Sink) {
	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()
}

// Sink accumulates one mono 48kHz 16-bit PCM buffer per speaker while active.
// Call [Sink.Stop] to end the capture window, then [Sink.Buffers] to read the
// per-speaker audio.
type Sink struct {
	conn *Connection

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	buffers map[string][]byte
}

// Stop ends the capture window. It blocks until the receive loop has drained
// and is safe to call more than once.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.conn.release(s)
	})
}

// Buffers returns the per-speaker mono PCM captured during this window,
// keyed by Discord user ID. Callers must Stop the sink first; the returned
// map is a snapshot and safe to retain.
func (s *Sink) Buffers() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(map[string][]byte, len(s.buffers))
	for id, pcm := range s.buffers {
		snap[id] = pcm
	}
	return snap
}

// recvLoop reads Opus packets, decodes them per SSRC, downmixes to mono, and
// appends to the speaker's buffer until Stop is called or the voice
// connection closes.
func (s *Sink) recvLoop(opusRecv <-chan *discordgo.Packet) {
	defer s.wg.Done()

	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-s.done:
			return
		case pkt, ok := <-opusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}

			userID := s.conn.userFor(pkt.SSRC)
			mono := audio.StereoToMono(pcm)

			s.mu.Lock()
			s.buffers[userID] = append(s.buffers[userID], mono...)
			s.mu.Unlock()
		}
	}
}
