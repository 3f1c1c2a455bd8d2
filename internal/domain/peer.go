// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"net/url"
	"strings"
)

const MaxPeerURLLen = 2048

var (
	ErrURLEmpty   = errors.New("peer url empty")
	ErrURLTooLong = errors.New("peer url too long")
	ErrURLInvalid = errors.New("peer url invalid")
)

// PeerURL is the callback address a peer is reachable at. It doubles as the
// peer's identity.
type PeerURL string

// ParsePeerURL validates raw as an absolute http(s) URL.
func ParsePeerURL(raw string) (PeerURL, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrURLEmpty
	}
	if len(raw) > MaxPeerURLLen {
		return "", ErrURLTooLong
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrURLInvalid
	}
	return PeerURL(raw), nil
}

func (u PeerURL) String() string { return string(u) }
