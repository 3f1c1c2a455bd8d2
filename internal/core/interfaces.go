package core

import (
	"context"

	"github.com/dkeye/Huddle/internal/domain"
)

// RoomInfo is a read-only view for APIs.
type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
}

// MembershipStore holds room -> members and the member -> room reverse index.
// Join and Leave are its only mutators and each one writes both indexes, so
// callers can never update one half without the other.
type MembershipStore interface {
	// Join moves url into room and returns the room it was in before ("" if none).
	Join(ctx context.Context, url domain.PeerURL, room domain.RoomName) (domain.RoomName, error)
	// Leave removes url from its room and returns that room ("" if none).
	Leave(ctx context.Context, url domain.PeerURL) (domain.RoomName, error)
	RoomOf(ctx context.Context, url domain.PeerURL) (domain.RoomName, bool, error)
	Members(ctx context.Context, room domain.RoomName) ([]domain.PeerURL, error)
	Rooms(ctx context.Context) ([]RoomInfo, error)
	Close() error
}
