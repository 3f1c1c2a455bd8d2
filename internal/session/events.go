package session

import (
	"io"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

// event is everything besides inbound directory traffic and keepalive ticks
// that the loop consumes.
type event interface {
	isEvent()
}

// engine events carry the display id of the machine whose engine fired,
// so events from a replaced machine can be told apart.
type candidateEvent struct {
	remote domain.PeerURL
	id     uint64
	cand   webrtc.ICECandidateInit
}

type trackEvent struct {
	remote domain.PeerURL
	id     uint64
	media  io.Closer
}

type connectedEvent struct {
	remote domain.PeerURL
	id     uint64
}

type failedEvent struct {
	remote domain.PeerURL
	id     uint64
}

type chatEvent struct {
	text  string
	reply chan error
}

type peersQuery struct {
	reply chan []PeerInfo
}

func (candidateEvent) isEvent() {}
func (trackEvent) isEvent()     {}
func (connectedEvent) isEvent() {}
func (failedEvent) isEvent()    {}
func (chatEvent) isEvent()      {}
func (peersQuery) isEvent()     {}
