package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Huddle/internal/domain"
)

// ControlMessage is sent by a client to the directory over its push channel.
type ControlMessage interface {
	isControlMessage()
}

// Room asks the directory to join the named room.
type Room struct{ Name domain.RoomName }

// Ping refreshes the push channel. It carries no payload.
type Ping struct{}

// Forward asks the directory to relay Message to URL. The directory
// delivers it to URL as a Peer envelope naming the sender.
type Forward struct {
	URL     domain.PeerURL
	Message json.RawMessage
}

func (Room) isControlMessage()    {}
func (Ping) isControlMessage()    {}
func (Forward) isControlMessage() {}

type controlWire struct {
	Type    string          `json:"type"`
	Name    *string         `json:"name,omitempty"`
	URL     domain.PeerURL  `json:"url,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

func MarshalControl(m ControlMessage) ([]byte, error) {
	var w controlWire
	switch m := m.(type) {
	case Room:
		name := string(m.Name)
		w = controlWire{Type: typeRoom, Name: &name}
	case Ping:
		w = controlWire{Type: typePing}
	case Forward:
		if m.URL == "" {
			return nil, missing(typePeer, "url")
		}
		if len(m.Message) == 0 {
			return nil, missing(typePeer, "message")
		}
		w = controlWire{Type: typePeer, URL: m.URL, Message: m.Message}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
	return json.Marshal(w)
}

func ParseControl(data []byte) (ControlMessage, error) {
	var w controlWire
	if err := decodeStrict(data, &w); err != nil {
		return nil, err
	}
	switch w.Type {
	case typeRoom:
		if w.Name == nil {
			return nil, missing(typeRoom, "name")
		}
		return Room{Name: domain.RoomName(*w.Name)}, nil
	case typePing:
		return Ping{}, nil
	case typePeer:
		if w.URL == "" {
			return nil, missing(typePeer, "url")
		}
		if len(w.Message) == 0 || string(w.Message) == "null" {
			return nil, missing(typePeer, "message")
		}
		return Forward{URL: w.URL, Message: w.Message}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
}
