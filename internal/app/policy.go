package app

import "github.com/dkeye/Huddle/internal/core"

type DeliveryAction int

const (
	NoAction DeliveryAction = iota
	// Evict removes the unreachable peer from its room.
	Evict
	// Drop discards the message without touching membership.
	Drop
)

type Policy interface {
	OnDelivery(result core.DeliveryResult) DeliveryAction
}

// SimplePolicy evicts on NotFound and drops every other failure. There is
// no retry: the next negotiation step re-attempts related state.
type SimplePolicy struct{}

func (SimplePolicy) OnDelivery(result core.DeliveryResult) DeliveryAction {
	switch result {
	case core.NotFound:
		return Evict
	case core.Failed:
		return Drop
	case core.Delivered, core.Rejected:
	}
	return NoAction
}
