// Package peer implements the per-remote-peer connection negotiation state
// machine. A Machine is not safe for concurrent use: its owner serializes
// every call on one event loop.
package peer

import (
	"errors"
	"fmt"
	"io"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int

const (
	New State = iota
	OfferSent
	AnswerSent
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case New:
		return "new"
	case OfferSent:
		return "offer_sent"
	case AnswerSent:
		return "answer_sent"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return "unknown"
}

var (
	ErrUnexpectedMessage = errors.New("unexpected message")
	ErrClosed            = errors.New("peer connection closed")
)

// Sender relays a negotiation message to the remote peer.
type Sender func(protocol.NegotiationMessage) error

type Config struct {
	// ID orders peers for display only.
	ID     uint64
	Remote domain.PeerURL
	Engine Engine
	Send   Sender
	// Self returns the local identity, used to break offer glare.
	Self func() domain.PeerURL
}

type Machine struct {
	id     uint64
	remote domain.PeerURL
	state  State
	engine Engine
	media  io.Closer
	send   Sender
	self   func() domain.PeerURL
	logger zerolog.Logger
}

func NewMachine(cfg Config) *Machine {
	self := cfg.Self
	if self == nil {
		self = func() domain.PeerURL { return "" }
	}
	return &Machine{
		id:     cfg.ID,
		remote: cfg.Remote,
		engine: cfg.Engine,
		send:   cfg.Send,
		self:   self,
		logger: log.With().Str("module", "peer").Str("remote", string(cfg.Remote)).Uint64("id", cfg.ID).Logger(),
	}
}

func (m *Machine) ID() uint64             { return m.id }
func (m *Machine) Remote() domain.PeerURL { return m.remote }
func (m *Machine) State() State           { return m.state }
func (m *Machine) HasMedia() bool         { return m.media != nil }

// MediaStats reports inbound packets and payload bytes when the media handle
// counts them.
func (m *Machine) MediaStats() (packets, bytes uint64, ok bool) {
	counter, ok := m.media.(interface{ Stats() (uint64, uint64) })
	if !ok {
		return 0, 0, false
	}
	packets, bytes = counter.Stats()
	return packets, bytes, true
}

func (m *Machine) setState(s State) {
	m.logger.Debug().Str("from", m.state.String()).Str("to", s.String()).Msg("transition")
	m.state = s
}

// Start makes the offer to a peer that just arrived in the room.
func (m *Machine) Start() error {
	if m.state != New {
		return fmt.Errorf("start in %s: %w", m.state, ErrUnexpectedMessage)
	}
	offer, err := m.engine.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := m.engine.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	m.setState(OfferSent)
	if err := m.send(protocol.Offer{SDP: offer.SDP}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	return nil
}

// Handle applies one negotiation message from the remote peer. Messages
// that do not fit the current state are rejected with ErrUnexpectedMessage
// and leave the state unchanged. Engine errors leave the machine open.
func (m *Machine) Handle(msg protocol.NegotiationMessage) error {
	if m.state == Closed {
		return ErrClosed
	}
	switch msg := msg.(type) {
	case protocol.Offer:
		return m.handleOffer(msg)
	case protocol.Answer:
		return m.handleAnswer(msg)
	case protocol.Candidate:
		if err := m.engine.AddICECandidate(msg.ToPion()); err != nil {
			return fmt.Errorf("add candidate: %w", err)
		}
		return nil
	case protocol.Chat:
		return fmt.Errorf("chat: %w", ErrUnexpectedMessage)
	}
	return fmt.Errorf("%T: %w", msg, ErrUnexpectedMessage)
}

func (m *Machine) handleOffer(offer protocol.Offer) error {
	switch m.state {
	case Connected:
		return fmt.Errorf("offer in %s: %w", m.state, ErrUnexpectedMessage)
	case OfferSent:
		// Both sides offered. The side with the lower url yields.
		if m.self() >= m.remote {
			return fmt.Errorf("offer in %s, keeping local offer: %w", m.state, ErrUnexpectedMessage)
		}
		if err := m.engine.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return fmt.Errorf("rollback local offer: %w", err)
		}
		m.logger.Info().Msg("offer glare, rolled back local offer")
		m.setState(New)
	case New, AnswerSent, Closed:
	}

	if err := m.engine.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := m.engine.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := m.engine.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	m.setState(AnswerSent)
	if err := m.send(protocol.Answer{SDP: answer.SDP}); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

func (m *Machine) handleAnswer(answer protocol.Answer) error {
	if m.state != OfferSent {
		return fmt.Errorf("answer in %s: %w", m.state, ErrUnexpectedMessage)
	}
	if err := m.engine.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	m.setState(Connected)
	return nil
}

// MarkConnected records that the engine finished connecting on the
// answering side. The offering side is connected once the answer applies.
func (m *Machine) MarkConnected() {
	if m.state == AnswerSent {
		m.setState(Connected)
	}
}

// LocalCandidate relays an ICE candidate gathered by the engine.
func (m *Machine) LocalCandidate(c webrtc.ICECandidateInit) error {
	if m.state == Closed {
		return ErrClosed
	}
	return m.send(protocol.CandidateFromPion(c))
}

// AttachMedia records the inbound media handle, replacing any previous one.
func (m *Machine) AttachMedia(h io.Closer) {
	if m.state == Closed {
		_ = h.Close()
		return
	}
	if m.media != nil && m.media != h {
		_ = m.media.Close()
	}
	m.media = h
}

// Close releases the media handle and the engine. Calling it again is a no-op.
func (m *Machine) Close() {
	if m.state == Closed {
		return
	}
	m.setState(Closed)
	if m.media != nil {
		if err := m.media.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("media close")
		}
		m.media = nil
	}
	if err := m.engine.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("engine close")
	}
}
