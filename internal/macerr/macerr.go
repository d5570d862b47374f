// Package macerr defines the error kinds surfaced by the MCSOTDMA core
// (spec §7). They are plain sentinel errors so callers can branch with
// errors.Is; components wrap them with context via fmt.Errorf("%w: ...").
package macerr

import "errors"

var (
	// ErrNoTxAvailable is returned by a reservation table mark() that would
	// need the transmitter but the linked transmitter table is not idle or
	// locked for the same peer at that offset.
	ErrNoTxAvailable = errors.New("mcsotdma: no transmitter available")

	// ErrNoRxAvailable is returned by mark() when none of the linked
	// receiver tables are idle or locked at the target offset.
	ErrNoRxAvailable = errors.New("mcsotdma: no receiver available")

	// ErrIDMismatch is returned by lock()/unlock() when the slot is already
	// locked to, or reserved for, a different peer than requested.
	ErrIDMismatch = errors.New("mcsotdma: id mismatch on locked slot")

	// ErrCannotLock is returned by lock() when the target slot is neither
	// idle nor already locked to the requesting peer.
	ErrCannotLock = errors.New("mcsotdma: cannot lock non-idle slot")

	// ErrOutOfHorizon is returned for any offset outside [-H, +H].
	ErrOutOfHorizon = errors.New("mcsotdma: offset outside planning horizon")

	// ErrNoBudgetLeft is returned by the duty-cycle allocator when no
	// future point carries enough budget to grant a period/offset.
	ErrNoBudgetLeft = errors.New("mcsotdma: no duty-cycle budget left")

	// ErrNoCandidates is returned by slot selection when no feasible
	// resource could be found at all.
	ErrNoCandidates = errors.New("mcsotdma: no candidate slots found")

	// ErrMissedScheduledSlot indicates a request/reply/link action was
	// supposed to fire in the past. This always indicates a logic bug
	// upstream and is treated as fatal.
	ErrMissedScheduledSlot = errors.New("mcsotdma: missed a scheduled slot")

	// ErrUnexpectedState is returned when a control message arrives while
	// the addressed link is in an incompatible status.
	ErrUnexpectedState = errors.New("mcsotdma: unexpected link state")
)
