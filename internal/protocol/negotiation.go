package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// NegotiationMessage travels inside a Peer envelope between two clients.
type NegotiationMessage interface {
	isNegotiationMessage()
}

type Offer struct{ SDP string }

type Answer struct{ SDP string }

// Candidate is one trickled ICE candidate.
type Candidate struct {
	Candidate     string
	SDPMid        *string
	SDPMLineIndex *uint16
}

// Chat is a best-effort text message on the side-channel.
type Chat struct{ Message string }

func (Offer) isNegotiationMessage()     {}
func (Answer) isNegotiationMessage()    {}
func (Candidate) isNegotiationMessage() {}
func (Chat) isNegotiationMessage()      {}

type negotiationWire struct {
	Type          string  `json:"type"`
	SDP           *string `json:"sdp,omitempty"`
	Candidate     *string `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_m_line_index,omitempty"`
	Message       *string `json:"message,omitempty"`
}

func MarshalNegotiation(m NegotiationMessage) ([]byte, error) {
	var w negotiationWire
	switch m := m.(type) {
	case Offer:
		w = negotiationWire{Type: typeOffer, SDP: &m.SDP}
	case Answer:
		w = negotiationWire{Type: typeAnswer, SDP: &m.SDP}
	case Candidate:
		w = negotiationWire{
			Type:          typeCandidate,
			Candidate:     &m.Candidate,
			SDPMid:        m.SDPMid,
			SDPMLineIndex: m.SDPMLineIndex,
		}
	case Chat:
		w = negotiationWire{Type: typeChat, Message: &m.Message}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
	return json.Marshal(w)
}

func ParseNegotiation(data []byte) (NegotiationMessage, error) {
	var w negotiationWire
	if err := decodeStrict(data, &w); err != nil {
		return nil, err
	}
	switch w.Type {
	case typeOffer:
		if w.SDP == nil || *w.SDP == "" {
			return nil, missing(typeOffer, "sdp")
		}
		return Offer{SDP: *w.SDP}, nil
	case typeAnswer:
		if w.SDP == nil || *w.SDP == "" {
			return nil, missing(typeAnswer, "sdp")
		}
		return Answer{SDP: *w.SDP}, nil
	case typeCandidate:
		if w.Candidate == nil {
			return nil, missing(typeCandidate, "candidate")
		}
		return Candidate{
			Candidate:     *w.Candidate,
			SDPMid:        w.SDPMid,
			SDPMLineIndex: w.SDPMLineIndex,
		}, nil
	case typeChat:
		if w.Message == nil {
			return nil, missing(typeChat, "message")
		}
		return Chat{Message: *w.Message}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
}

func CandidateFromPion(ci webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}
