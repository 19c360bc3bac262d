package reservation

import "errors"

// ErrNoTxAvailable is returned when marking a Tx cell would exceed the
// number of transmitters, or would collide with an incompatible existing
// Tx. Recoverable at slot-selection boundaries (the candidate is skipped);
// fatal if raised from scheduleBursts, which must only run after viability
// has already been verified.
var ErrNoTxAvailable = errors.New("reservation: no transmitter available for this slot")

// ErrCannotLock is returned by Lock when the cell is neither Idle nor
// already Locked by the same id.
var ErrCannotLock = errors.New("reservation: cannot lock a non-idle cell")

// ErrIdMismatch is returned by LockEitherID when the cell is Locked by a
// third id, neither of the two tolerated ones. Callers that scan
// opportunistically (ThirdPartyLink) treat this as "skip", never as fatal.
var ErrIdMismatch = errors.New("reservation: cell locked by a different id")

// OutOfRangeError reports a slot index outside [0, H). Every call site in
// this package treats this as a programming-error invariant violation: it
// is never expected to occur and the caller should let it propagate as a
// panic rather than recover from it.
type OutOfRangeError struct {
	Offset    int
	Horizon   int
}

func (e *OutOfRangeError) Error() string {
	return "reservation: slot offset out of range"
}
