// Package linkmgr implements the two interlocking link-manager state
// machines and the third-party link observer: the shared-channel
// broadcast scheduler, the per-peer point-to-point link, and the shadow
// state that mirrors overheard negotiations so the local node never
// plans a collision.
package linkmgr

import "mcsotdma/internal/packet"

// Status is the shared PP/mirror lifecycle.
type Status int

const (
	NotEstablished Status = iota
	AwaitingRequestGeneration
	AwaitingReply
	AwaitingDataTx
	Established
)

func (s Status) String() string {
	switch s {
	case NotEstablished:
		return "not_established"
	case AwaitingRequestGeneration:
		return "awaiting_request_generation"
	case AwaitingReply:
		return "awaiting_reply"
	case AwaitingDataTx:
		return "awaiting_data_tx"
	case Established:
		return "established"
	default:
		return "unknown"
	}
}

// ThirdPartyStatus is ThirdPartyLink's own lifecycle.
type ThirdPartyStatus int

const (
	Uninitialized ThirdPartyStatus = iota
	ReceivedRequestAwaitingReply
	ReceivedReplyLinkEstablished
)

// LinkID identifies a link by an ordered (initiator, recipient) pair,
// grounded on original_source/LinkId.hpp rather than a bare string key.
type LinkID struct {
	Initiator packet.MacId
	Recipient packet.MacId
}

// UnorderedKey canonicalizes a pair for use as a map key where the two
// roles are not yet known (ThirdPartyLink is keyed by unordered pair).
func UnorderedKey(a, b packet.MacId) LinkID {
	if a <= b {
		return LinkID{Initiator: a, Recipient: b}
	}
	return LinkID{Initiator: b, Recipient: a}
}

// LinkManager is the small vtable of operations every link manager variant
// (SH, PP) implements, driven once per slot by the MAC core.
type LinkManager interface {
	OnSlotStart(delta int)
	OnSlotEnd()
	// OnTransmissionReservation is called when this slot's reservation for
	// this manager is a Tx/TxBeacon cell; it returns the packet to hand to
	// the PHY, or nil for a wasted (empty) transmission.
	OnTransmissionReservation() *packet.Packet
	// OnReceptionReservation is called when this slot's reservation is an
	// Rx/RxBeacon cell, before the PHY actually receives anything.
	OnReceptionReservation()
	// OnPacketReception dispatches a packet delivered to this manager at
	// slot end.
	OnPacketReception(pkt *packet.Packet)
}
