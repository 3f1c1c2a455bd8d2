// Package session runs one client's signaling session: it owns the peer
// connection machines, the self identity and the chat log, and serializes
// every input on a single loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/peer"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrRedundantIdentity = errors.New("identity already assigned")
	ErrMissingIdentity   = errors.New("identity not assigned yet")
	ErrStopped           = errors.New("session stopped")
)

// Channel is the client's outbound side of the push channel.
type Channel interface {
	Send(ctx context.Context, m protocol.ControlMessage) error
}

type Config struct {
	Room      domain.RoomName
	KeepAlive time.Duration
	Channel   Channel
	Engines   peer.EngineFactory
	// OnChat is called for every chat entry, inbound or outbound.
	OnChat func(ChatEntry)
}

type PeerInfo struct {
	ID       uint64
	URL      domain.PeerURL
	State    peer.State
	HasMedia bool
	Packets  uint64
	Bytes    uint64
}

type Controller struct {
	room      domain.RoomName
	keepAlive time.Duration
	out       Channel
	engines   peer.EngineFactory
	chat      *ChatLog
	events    chan event
	done      chan struct{}
	logger    zerolog.Logger

	// owned by the loop
	ctx    context.Context
	me     domain.PeerURL
	peers  map[domain.PeerURL]*peer.Machine
	nextID uint64

	// urls announced by Add before our identity was known
	deferred []domain.PeerURL
}

func New(cfg Config) *Controller {
	return &Controller{
		room:      cfg.Room,
		keepAlive: cfg.KeepAlive,
		out:       cfg.Channel,
		engines:   cfg.Engines,
		chat:      NewChatLog(cfg.OnChat),
		events:    make(chan event, 64),
		done:      make(chan struct{}),
		logger:    log.With().Str("module", "session").Str("room", string(cfg.Room)).Logger(),
		ctx:       context.Background(),
		peers:     make(map[domain.PeerURL]*peer.Machine),
	}
}

func (c *Controller) Chat() *ChatLog { return c.chat }

// Run joins the room and processes events until inbound closes or ctx is
// done. Every machine is closed on return. Run must be called once.
func (c *Controller) Run(ctx context.Context, inbound <-chan protocol.DirectoryMessage) error {
	c.ctx = ctx
	defer close(c.done)
	defer c.closeAll()

	if err := c.out.Send(ctx, protocol.Room{Name: c.room}); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	c.logger.Info().Msg("joining room")

	var tick <-chan time.Time
	if c.keepAlive > 0 {
		ticker := time.NewTicker(c.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				c.logger.Info().Msg("push channel closed")
				return nil
			}
			if err := c.handleDirectory(msg); err != nil {
				c.logger.Warn().Err(err).Msg("directory message")
			}
		case <-tick:
			if err := c.out.Send(ctx, protocol.Ping{}); err != nil {
				c.logger.Warn().Err(err).Msg("keepalive")
			}
		case ev := <-c.events:
			c.handleEvent(ev)
		}
	}
}

// SendChat relays text to every known peer. Blank text is ignored.
func (c *Controller) SendChat(ctx context.Context, text string) error {
	reply := make(chan error, 1)
	if err := c.submit(ctx, chatEvent{text: text, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Peers returns a snapshot of the peer map ordered by display id.
func (c *Controller) Peers(ctx context.Context) ([]PeerInfo, error) {
	reply := make(chan []PeerInfo, 1)
	if err := c.submit(ctx, peersQuery{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-c.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Controller) submit(ctx context.Context, ev event) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// inject is used from engine goroutines and never blocks them.
func (c *Controller) inject(ev event) {
	select {
	case c.events <- ev:
	default:
		go func() {
			select {
			case c.events <- ev:
			case <-c.done:
				if t, ok := ev.(trackEvent); ok {
					_ = t.media.Close()
				}
			}
		}()
	}
}

func (c *Controller) handleDirectory(msg protocol.DirectoryMessage) error {
	switch msg := msg.(type) {
	case protocol.You:
		if c.me != "" {
			return fmt.Errorf("you %s: %w", msg.URL, ErrRedundantIdentity)
		}
		c.me = msg.URL
		c.logger = c.logger.With().Str("me", string(c.me)).Logger()
		c.logger.Info().Msg("identity assigned")
		return c.startDeferred()

	case protocol.Add:
		if msg.URL == c.me {
			return nil
		}
		if old, ok := c.peers[msg.URL]; ok {
			c.logger.Info().Str("remote", string(msg.URL)).Msg("peer re-added, restarting negotiation")
			old.Close()
			delete(c.peers, msg.URL)
		}
		m, err := c.machine(msg.URL)
		if err != nil {
			return err
		}
		if c.me == "" {
			// Add can overtake our own You; offer once it arrives.
			c.deferred = append(c.deferred, msg.URL)
			c.logger.Debug().Str("remote", string(msg.URL)).Msg("offer deferred until identity")
			return nil
		}
		if err := m.Start(); err != nil {
			return fmt.Errorf("offer to %s: %w", msg.URL, err)
		}
		return nil

	case protocol.Remove:
		if m, ok := c.peers[msg.URL]; ok {
			m.Close()
			delete(c.peers, msg.URL)
			c.logger.Info().Str("remote", string(msg.URL)).Msg("peer removed")
		}
		return nil

	case protocol.Peer:
		neg, err := protocol.ParseNegotiation(msg.Message)
		if err != nil {
			return fmt.Errorf("payload from %s: %w", msg.URL, err)
		}
		if chat, ok := neg.(protocol.Chat); ok {
			c.chat.append(SomeoneElse, msg.URL, chat.Message)
			return nil
		}
		m, err := c.machine(msg.URL)
		if err != nil {
			return err
		}
		if err := m.Handle(neg); err != nil {
			return fmt.Errorf("from %s: %w", msg.URL, err)
		}
		return nil
	}
	return fmt.Errorf("%T: %w", msg, protocol.ErrUnknownType)
}

func (c *Controller) startDeferred() error {
	var errs []error
	for _, url := range c.deferred {
		m, ok := c.peers[url]
		if !ok || m.State() != peer.New {
			continue
		}
		if err := m.Start(); err != nil {
			errs = append(errs, fmt.Errorf("offer to %s: %w", url, err))
		}
	}
	c.deferred = nil
	return errors.Join(errs...)
}

func (c *Controller) handleEvent(ev event) {
	switch ev := ev.(type) {
	case candidateEvent:
		if m := c.current(ev.remote, ev.id); m != nil {
			if err := m.LocalCandidate(ev.cand); err != nil {
				c.logger.Debug().Err(err).Str("remote", string(ev.remote)).Msg("candidate dropped")
			}
		}
	case trackEvent:
		m := c.current(ev.remote, ev.id)
		if m == nil {
			_ = ev.media.Close()
			return
		}
		m.AttachMedia(ev.media)
		c.logger.Info().Str("remote", string(ev.remote)).Msg("media attached")
	case connectedEvent:
		if m := c.current(ev.remote, ev.id); m != nil {
			m.MarkConnected()
		}
	case failedEvent:
		if m := c.current(ev.remote, ev.id); m != nil {
			c.logger.Warn().Str("remote", string(ev.remote)).Msg("peer connection failed")
			m.Close()
			delete(c.peers, ev.remote)
		}
	case chatEvent:
		ev.reply <- c.sendChat(ev.text)
	case peersQuery:
		ev.reply <- c.snapshot()
	}
}

// machine returns the machine for remote, creating it on first reference.
func (c *Controller) machine(remote domain.PeerURL) (*peer.Machine, error) {
	if m, ok := c.peers[remote]; ok {
		return m, nil
	}
	c.nextID++
	id := c.nextID
	engine, err := c.engines(remote, peer.Hooks{
		OnCandidate: func(cand webrtc.ICECandidateInit) {
			c.inject(candidateEvent{remote: remote, id: id, cand: cand})
		},
		OnTrack: func(media io.Closer) {
			c.inject(trackEvent{remote: remote, id: id, media: media})
		},
		OnConnected: func() { c.inject(connectedEvent{remote: remote, id: id}) },
		OnFailed:    func() { c.inject(failedEvent{remote: remote, id: id}) },
	})
	if err != nil {
		return nil, fmt.Errorf("engine for %s: %w", remote, err)
	}
	m := peer.NewMachine(peer.Config{
		ID:     id,
		Remote: remote,
		Engine: engine,
		Send:   func(msg protocol.NegotiationMessage) error { return c.relay(remote, msg) },
		Self:   func() domain.PeerURL { return c.me },
	})
	c.peers[remote] = m
	return m, nil
}

func (c *Controller) current(remote domain.PeerURL, id uint64) *peer.Machine {
	m, ok := c.peers[remote]
	if !ok || m.ID() != id {
		return nil
	}
	return m
}

func (c *Controller) relay(to domain.PeerURL, msg protocol.NegotiationMessage) error {
	if c.me == "" {
		return ErrMissingIdentity
	}
	raw, err := protocol.MarshalNegotiation(msg)
	if err != nil {
		return err
	}
	return c.out.Send(c.ctx, protocol.Forward{URL: to, Message: raw})
}

func (c *Controller) sendChat(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if c.me == "" {
		return ErrMissingIdentity
	}
	for _, p := range c.snapshot() {
		if err := c.relay(p.URL, protocol.Chat{Message: text}); err != nil {
			c.logger.Warn().Err(err).Str("remote", string(p.URL)).Msg("chat dropped")
		}
	}
	c.chat.append(Me, "", text)
	return nil
}

func (c *Controller) snapshot() []PeerInfo {
	out := make([]PeerInfo, 0, len(c.peers))
	for url, m := range c.peers {
		info := PeerInfo{ID: m.ID(), URL: url, State: m.State(), HasMedia: m.HasMedia()}
		info.Packets, info.Bytes, _ = m.MediaStats()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Controller) closeAll() {
	for url, m := range c.peers {
		m.Close()
		delete(c.peers, url)
	}
}
