// Package packet models the MAC's wire-level objects: node identities,
// header variants, and the packet (ordered header+payload sequence) that
// flows between link managers and the PHY.
package packet

import "fmt"

// MacId is an opaque node identity. Four values are reserved; all others
// identify a specific node and compare/order as plain integers.
type MacId int32

const (
	// UnsetID marks a MacId field that has not yet been assigned.
	UnsetID MacId = -1
	// BroadcastID addresses every listening neighbor.
	BroadcastID MacId = 0
	// BeaconID tags packets carrying a beacon payload.
	BeaconID MacId = -2
	// DmeID tags packets that are sensing-only (DME) and must be dropped
	// on reception, never delivered upward.
	DmeID MacId = -3
)

// String renders the reserved values symbolically and everything else as
// a plain integer, matching how other id types in this codebase print in
// logs.
func (m MacId) String() string {
	switch m {
	case UnsetID:
		return "unset"
	case BroadcastID:
		return "broadcast"
	case BeaconID:
		return "beacon"
	case DmeID:
		return "dme"
	default:
		return fmt.Sprintf("id(%d)", int32(m))
	}
}

// IsReserved reports whether m is one of the four symbolic values rather
// than a real node identity.
func (m MacId) IsReserved() bool {
	return m == UnsetID || m == BroadcastID || m == BeaconID || m == DmeID
}
