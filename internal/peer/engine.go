package peer

import (
	"io"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Engine is the negotiation primitive a Machine drives. Its ICE, DTLS and
// SRTP machinery are opaque to the machine.
type Engine interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	Close() error
}

// Hooks are invoked by an engine from its own goroutines. Implementations
// must hand the event over to the owning session rather than touch the
// machine directly.
type Hooks struct {
	OnCandidate func(webrtc.ICECandidateInit)
	// OnTrack delivers an inbound media handle; closing it stops the media.
	OnTrack     func(io.Closer)
	OnConnected func()
	OnFailed    func()
}

// EngineFactory creates an engine for a remote peer with local media
// already attached.
type EngineFactory func(remote domain.PeerURL, hooks Hooks) (Engine, error)
