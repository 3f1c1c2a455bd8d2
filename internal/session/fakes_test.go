package session

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/peer"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
)

type fakeEngine struct {
	mu         sync.Mutex
	remote     domain.PeerURL
	hooks      peer.Hooks
	local      []webrtc.SessionDescription
	remoteDesc []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     int
}

func (e *fakeEngine) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer:" + string(e.remote)}, nil
}

func (e *fakeEngine) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer:" + string(e.remote)}, nil
}

func (e *fakeEngine) SetLocalDescription(d webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.local = append(e.local, d)
	return nil
}

func (e *fakeEngine) SetRemoteDescription(d webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d.SDP == "" {
		return errors.New("empty sdp")
	}
	e.remoteDesc = append(e.remoteDesc, d)
	return nil
}

func (e *fakeEngine) AddICECandidate(c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

func (e *fakeEngine) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// engineBank hands out fake engines and remembers every one of them.
type engineBank struct {
	mu      sync.Mutex
	engines []*fakeEngine
}

func (b *engineBank) factory(remote domain.PeerURL, hooks peer.Hooks) (peer.Engine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := &fakeEngine{remote: remote, hooks: hooks}
	b.engines = append(b.engines, e)
	return e, nil
}

func (b *engineBank) last(remote domain.PeerURL) *fakeEngine {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.engines) - 1; i >= 0; i-- {
		if b.engines[i].remote == remote {
			return b.engines[i]
		}
	}
	return nil
}

type recordingChannel struct {
	mu   sync.Mutex
	sent []protocol.ControlMessage
}

func (r *recordingChannel) Send(_ context.Context, m protocol.ControlMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return nil
}

func (r *recordingChannel) messages() []protocol.ControlMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.ControlMessage(nil), r.sent...)
}

// forwarded decodes every relayed negotiation message sent to url.
func (r *recordingChannel) forwarded(url domain.PeerURL) []protocol.NegotiationMessage {
	var out []protocol.NegotiationMessage
	for _, m := range r.messages() {
		f, ok := m.(protocol.Forward)
		if !ok || f.URL != url {
			continue
		}
		neg, err := protocol.ParseNegotiation(f.Message)
		if err != nil {
			panic(err)
		}
		out = append(out, neg)
	}
	return out
}

type mediaHandle struct {
	mu     sync.Mutex
	closed int
}

func (m *mediaHandle) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mediaHandle) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mediaHandle) Stats() (uint64, uint64) { return 3, 120 }
