// Package directory tracks which peer URLs belong to which room and fans out
// membership and relay events. It never polls for liveness: a peer is evicted
// when a delivery to it reports that its callback URL is gone.
package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const DefaultFanOut = 16

type Directory struct {
	Store     core.MembershipStore
	Transport core.PushTransport
	Policy    app.Policy
	// FanOut bounds concurrent deliveries per broadcast.
	FanOut int
}

func New(store core.MembershipStore, transport core.PushTransport, policy app.Policy, fanOut int) *Directory {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}
	return &Directory{
		Store:     store,
		Transport: transport,
		Policy:    policy,
		FanOut:    fanOut,
	}
}

// Join adds self to room and announces it to the other members. An empty
// room is a no-op. The store decides atomically what self was before: a url
// already in room is left alone, a url in another room is announced as
// removed there and does not get a second You.
func (d *Directory) Join(ctx context.Context, self domain.PeerURL, room domain.RoomName) error {
	if room == "" {
		return nil
	}
	logger := log.With().Str("module", "directory").Str("url", string(self)).Str("room", string(room)).Logger()

	prev, err := d.Store.Join(ctx, self, room)
	if err != nil {
		return fmt.Errorf("join %s: %w", room, err)
	}
	switch prev {
	case room:
		logger.Debug().Msg("already a member")
		return nil
	case "":
		// NotFound evicts self again through Deliver.
		if res := d.Deliver(ctx, self, protocol.You{URL: self}); res == core.NotFound {
			logger.Warn().Msg("joining peer is gone, join abandoned")
			return nil
		}
	default:
		logger.Info().Str("from_room", string(prev)).Msg("moved from previous room")
		if err := d.broadcast(ctx, prev, self, protocol.Remove{URL: self}); err != nil {
			return err
		}
	}

	logger.Info().Msg("joined")
	if err := d.broadcast(ctx, room, self, protocol.Add{URL: self}); err != nil {
		return err
	}
	// A concurrent join may have moved self on while Add was in flight. Its
	// Remove for room can overtake our Add, so repeat it after.
	now, ok, err := d.Store.RoomOf(ctx, self)
	if err != nil {
		return fmt.Errorf("room of %s: %w", self, err)
	}
	if !ok || now != room {
		logger.Info().Msg("moved on during join, retracting Add")
		return d.broadcast(ctx, room, self, protocol.Remove{URL: self})
	}
	return nil
}

// Leave removes self from its room and announces it to the remaining
// members. It is a no-op when self is not in a room.
func (d *Directory) Leave(ctx context.Context, self domain.PeerURL) error {
	room, err := d.Store.Leave(ctx, self)
	if err != nil {
		return fmt.Errorf("leave %s: %w", self, err)
	}
	if room == "" {
		return nil
	}
	log.Info().Str("module", "directory").Str("url", string(self)).Str("room", string(room)).Msg("left")
	return d.broadcast(ctx, room, self, protocol.Remove{URL: self})
}

// Relay forwards message to to, unchanged, as a Peer envelope naming from.
// Only members of the same room may relay to each other; anything else is
// Rejected without a delivery attempt.
func (d *Directory) Relay(ctx context.Context, from, to domain.PeerURL, message json.RawMessage) core.DeliveryResult {
	same, err := d.sameRoom(ctx, from, to)
	if err != nil {
		log.Error().Err(err).Str("module", "directory").Str("from", string(from)).Str("to", string(to)).Msg("relay lookup")
		return core.Failed
	}
	if !same {
		log.Warn().Str("module", "directory").Str("from", string(from)).Str("to", string(to)).Msg("relay outside a shared room rejected")
		return core.Rejected
	}
	return d.Deliver(ctx, to, protocol.Peer{URL: from, Message: message})
}

func (d *Directory) sameRoom(ctx context.Context, a, b domain.PeerURL) (bool, error) {
	ra, ok, err := d.Store.RoomOf(ctx, a)
	if err != nil || !ok {
		return false, err
	}
	rb, ok, err := d.Store.RoomOf(ctx, b)
	if err != nil || !ok {
		return false, err
	}
	return ra == rb, nil
}

// Deliver pushes msg to target. A NotFound result evicts target before it
// is returned.
func (d *Directory) Deliver(ctx context.Context, target domain.PeerURL, msg protocol.DirectoryMessage) core.DeliveryResult {
	frame, err := protocol.MarshalDirectory(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "directory").Str("target", string(target)).Msg("marshal")
		return core.Failed
	}
	return d.deliver(ctx, target, frame)
}

func (d *Directory) deliver(ctx context.Context, target domain.PeerURL, frame core.Frame) core.DeliveryResult {
	res, err := d.Transport.Push(ctx, target, frame)
	switch d.Policy.OnDelivery(res) {
	case app.Evict:
		log.Info().Str("module", "directory").Str("target", string(target)).Msg("peer gone, evicting")
		if err := d.Leave(ctx, target); err != nil {
			log.Error().Err(err).Str("module", "directory").Str("target", string(target)).Msg("evict")
		}
	case app.Drop:
		log.Warn().Err(err).Str("module", "directory").Str("target", string(target)).Str("result", res.String()).Msg("delivery failed, message dropped")
	case app.NoAction:
	}
	return res
}

// broadcast sends msg to every member of room except from. Deliveries are
// independent: a failed recipient is evicted on its own and the others still
// receive msg.
func (d *Directory) broadcast(ctx context.Context, room domain.RoomName, from domain.PeerURL, msg protocol.DirectoryMessage) error {
	members, err := d.Store.Members(ctx, room)
	if err != nil {
		return fmt.Errorf("members of %s: %w", room, err)
	}
	frame, err := protocol.MarshalDirectory(msg)
	if err != nil {
		return err
	}

	p := pool.New().WithMaxGoroutines(d.FanOut)
	sent := 0
	for _, member := range members {
		if member == from {
			continue
		}
		sent++
		p.Go(func() { d.deliver(ctx, member, frame) })
	}
	p.Wait()
	log.Debug().Str("module", "directory").Str("room", string(room)).Str("from", string(from)).Int("sent_to", sent).Msg("broadcast")
	return nil
}

func (d *Directory) Members(ctx context.Context, room domain.RoomName) ([]domain.PeerURL, error) {
	return d.Store.Members(ctx, room)
}

func (d *Directory) Rooms(ctx context.Context) ([]core.RoomInfo, error) {
	return d.Store.Rooms(ctx)
}
