// Package protocol defines the wire messages exchanged between clients, the
// push bridge and the directory. Every family is a closed set of variants:
// the marker methods are unexported, and encode/decode switch over all of
// them, so adding a kind is a change to this package.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrUnknownType  = errors.New("unknown message type")
	ErrMissingField = errors.New("missing required field")
)

const (
	typeYou       = "you"
	typeAdd       = "add"
	typeRemove    = "remove"
	typePeer      = "peer"
	typeRoom      = "room"
	typePing      = "ping"
	typeOffer     = "offer"
	typeAnswer    = "answer"
	typeCandidate = "candidate"
	typeChat      = "chat"
)

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

func missing(kind, field string) error {
	return fmt.Errorf("%s: %w: %s", kind, ErrMissingField, field)
}
