package reservation

import "mcsotdma/internal/packet"

// LockMap tracks the locks taken while a PP link request's proposals are
// outstanding: one list each for the local (PP channel) table, the
// transmitter table, and the chosen receiver table. All three lists share
// Map's semantics.
type LockMap struct {
	Local       *Map
	Transmitter *Map
	Receiver    *Map
}

// NewLockMap returns an empty LockMap.
func NewLockMap() *LockMap {
	return &LockMap{Local: NewMap(), Transmitter: NewMap(), Receiver: NewMap()}
}

// Tick ages all three lists together.
func (lm *LockMap) Tick(delta int) {
	lm.Local.Tick(delta)
	lm.Transmitter.Tick(delta)
	lm.Receiver.Tick(delta)
}

// UnlockAll unlocks every cell tracked across all three lists for either id
// a or b, then clears them.
func (lm *LockMap) UnlockAll(a, b packet.MacId) {
	lm.Local.UnlockEitherID(a, b)
	lm.Transmitter.UnlockEitherID(a, b)
	lm.Receiver.UnlockEitherID(a, b)
}
