package core

import (
	"context"

	"github.com/dkeye/Huddle/internal/domain"
)

// Frame is a serialized message body.
type Frame []byte

type DeliveryResult int

const (
	Delivered DeliveryResult = iota
	NotFound
	Failed
	// Rejected means no delivery was attempted.
	Rejected
)

func (r DeliveryResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case NotFound:
		return "not_found"
	case Failed:
		return "failed"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// PushTransport delivers a frame to a peer's callback URL.
// NotFound means the callback URL no longer exists; err is set for Failed.
type PushTransport interface {
	Push(ctx context.Context, url domain.PeerURL, f Frame) (DeliveryResult, error)
}
