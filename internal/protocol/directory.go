package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Huddle/internal/domain"
)

// DirectoryMessage is pushed by the directory to a client.
type DirectoryMessage interface {
	isDirectoryMessage()
}

// You assigns the receiving session its identity. Sent once per session.
type You struct{ URL domain.PeerURL }

// Add announces a peer that joined the room.
type Add struct{ URL domain.PeerURL }

// Remove announces a peer that left the room or was evicted.
type Remove struct{ URL domain.PeerURL }

// Peer carries an opaque negotiation payload from URL. The directory never
// decodes Message.
type Peer struct {
	URL     domain.PeerURL
	Message json.RawMessage
}

func (You) isDirectoryMessage()    {}
func (Add) isDirectoryMessage()    {}
func (Remove) isDirectoryMessage() {}
func (Peer) isDirectoryMessage()   {}

type directoryWire struct {
	Type    string          `json:"type"`
	URL     domain.PeerURL  `json:"url"`
	Message json.RawMessage `json:"message,omitempty"`
}

func MarshalDirectory(m DirectoryMessage) ([]byte, error) {
	var w directoryWire
	switch m := m.(type) {
	case You:
		w = directoryWire{Type: typeYou, URL: m.URL}
	case Add:
		w = directoryWire{Type: typeAdd, URL: m.URL}
	case Remove:
		w = directoryWire{Type: typeRemove, URL: m.URL}
	case Peer:
		if len(m.Message) == 0 {
			return nil, missing(typePeer, "message")
		}
		w = directoryWire{Type: typePeer, URL: m.URL, Message: m.Message}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
	return json.Marshal(w)
}

func ParseDirectory(data []byte) (DirectoryMessage, error) {
	var w directoryWire
	if err := decodeStrict(data, &w); err != nil {
		return nil, err
	}
	if w.URL == "" {
		return nil, missing(w.Type, "url")
	}
	switch w.Type {
	case typeYou:
		return You{URL: w.URL}, nil
	case typeAdd:
		return Add{URL: w.URL}, nil
	case typeRemove:
		return Remove{URL: w.URL}, nil
	case typePeer:
		if len(w.Message) == 0 || string(w.Message) == "null" {
			return nil, missing(typePeer, "message")
		}
		return Peer{URL: w.URL, Message: w.Message}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
}
