// Package reservation implements the reservation-table substrate (spec
// §4.1, C1) and the reservation manager that owns per-channel and
// hardware tables (spec §4.2, C2).
package reservation

import (
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/channel"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/macerr"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/slot"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"
)

// ID is a non-owning handle into a Manager's table arena (spec §9 design
// note: "Model as index-into-arena handles held by the Reservation
// Manager... per-channel tables hold a non-owning handle to them").
type ID int

// None is the sentinel handle -1, meaning "no table".
const None ID = -1

// Table is a per-channel or hardware ring of 2H+1 reservations centered
// on "now" (spec §3). Hardware tables (the single transmitter table and
// the receiver tables) are represented by the same type as per-channel
// tables; they simply carry no further linked handles.
type Table struct {
	horizon slot.Horizon
	ring    []wire.Reservation
	// hw records which hardware table handle currently mirrors the
	// Tx/TxBeacon/Rx/RxBeacon action at each ring slot, or None. It is
	// only meaningful on per-channel (non-hardware) tables.
	hw []ID
	// zeroIdx is the physical ring index currently representing offset 0
	// ("now"); Update advances it instead of physically shifting the
	// backing array.
	zeroIdx int

	idleCount int // over the future half (offsets > 0)

	ch     channel.Channel
	isHW   bool
	txLink ID   // linked transmitter table (per-channel tables only)
	rxLink []ID // linked receiver tables (per-channel tables only)
}

// NewHardwareTable creates an owned hardware table (transmitter or one
// receiver) with no further links.
func NewHardwareTable(h slot.Horizon) *Table {
	return newTable(h, channel.Channel{}, true)
}

// NewChannelTable creates a per-channel table for ch, to be linked to
// hardware tables by the Manager that owns it.
func NewChannelTable(h slot.Horizon, ch channel.Channel) *Table {
	return newTable(h, ch, false)
}

func newTable(h slot.Horizon, ch channel.Channel, isHW bool) *Table {
	w := h.Width()
	t := &Table{
		horizon: h,
		ring:    make([]wire.Reservation, w),
		hw:      make([]ID, w),
		ch:      ch,
		isHW:    isHW,
		txLink:  None,
	}
	for i := range t.ring {
		t.ring[i] = wire.IdleReservation
		t.hw[i] = None
	}
	t.zeroIdx = int(h) // matches the fixed (off+h) mapping at t=0
	// All H slots of the future half start Idle.
	t.idleCount = int(h)
	return t
}

// Channel returns the channel this table belongs to.
func (t *Table) Channel() channel.Channel { return t.ch }

// IsHardware reports whether this is a transmitter/receiver hardware
// table rather than a per-channel table.
func (t *Table) IsHardware() bool { return t.isHW }

// LinkHardware associates this per-channel table with its transmitter
// and receiver hardware table handles. Called once by the Manager at
// channel-creation time.
func (t *Table) LinkHardware(tx ID, rx []ID) {
	t.txLink = tx
	t.rxLink = append([]ID(nil), rx...)
}

func (t *Table) index(off slot.Offset) (int, error) {
	if err := t.horizon.Validate(off); err != nil {
		return 0, err
	}
	w := len(t.ring)
	idx := (t.zeroIdx + int(off)) % w
	if idx < 0 {
		idx += w
	}
	return idx, nil
}

// Get returns the reservation at off.
func (t *Table) Get(off slot.Offset) (wire.Reservation, error) {
	idx, err := t.index(off)
	if err != nil {
		return wire.Reservation{}, err
	}
	return t.ring[idx], nil
}

func (t *Table) isFuture(off slot.Offset) bool { return off > 0 }

// setLocal writes the reservation at idx, correcting idle_count when the
// offset is in the future half. It does not touch hardware linkage —
// callers (Table.Lock/Unlock, Manager.Mark) handle that separately.
func (t *Table) setLocal(off slot.Offset, idx int, r wire.Reservation) {
	old := t.ring[idx]
	if t.isFuture(off) {
		if old.Action == wire.Idle && r.Action != wire.Idle {
			t.idleCount--
		} else if old.Action != wire.Idle && r.Action == wire.Idle {
			t.idleCount++
		}
	}
	t.ring[idx] = r
}

// IdleCount returns the number of future offsets whose action is Idle
// (spec §3 invariant I4).
func (t *Table) IdleCount() int { return t.idleCount }

// Lock transitions an Idle slot to Locked with the given target (spec
// §4.1). Idempotent if already locked to the same peer.
func (t *Table) Lock(off slot.Offset, peer wire.NodeID) error {
	idx, err := t.index(off)
	if err != nil {
		return err
	}
	cur := t.ring[idx]
	switch {
	case cur.Action == wire.Locked && cur.Target == peer:
		return nil
	case cur.Action == wire.Locked:
		return macerr.ErrIDMismatch
	case cur.Action == wire.Idle:
		t.setLocal(off, idx, wire.Reservation{Target: peer, Action: wire.Locked})
		return nil
	default:
		return macerr.ErrCannotLock
	}
}

// LockEither locks to a, or accepts an existing lock to b (spec §4.1),
// used by third-party lockers when a request names either side of a
// link as an acceptable target.
func (t *Table) LockEither(off slot.Offset, a, b wire.NodeID) error {
	idx, err := t.index(off)
	if err != nil {
		return err
	}
	cur := t.ring[idx]
	if cur.Action == wire.Locked && (cur.Target == a || cur.Target == b) {
		return nil
	}
	return t.Lock(off, a)
}

// Unlock transitions a Locked(peer) slot back to Idle (spec §4.1).
func (t *Table) Unlock(off slot.Offset, peer wire.NodeID) error {
	idx, err := t.index(off)
	if err != nil {
		return err
	}
	cur := t.ring[idx]
	if cur.Action != wire.Locked {
		return nil // already not locked: unlock is a no-op, safe to call defensively
	}
	if cur.Target != peer {
		return macerr.ErrIDMismatch
	}
	t.setLocal(off, idx, wire.IdleReservation)
	return nil
}

// IsIdle reports whether the slot at off (or, if length > 1, every slot
// in [off, off+length)) is Idle.
func (t *Table) IsIdle(off slot.Offset, length int) (bool, error) {
	return t.rangeAll(off, length, func(r wire.Reservation) bool { return r.Action == wire.Idle })
}

// IsIdleOrLocked reports whether the slot (or every slot in the range) is
// Idle or Locked — the "idle-or-locked" predicate used throughout §4.1
// and §4.6 proposal/candidate validation.
func (t *Table) IsIdleOrLocked(off slot.Offset, length int) (bool, error) {
	return t.rangeAll(off, length, func(r wire.Reservation) bool {
		return r.Action == wire.Idle || r.Action == wire.Locked
	})
}

// IsUtilized reports whether any slot in [off, off+length) is not Idle.
func (t *Table) IsUtilized(off slot.Offset, length int) (bool, error) {
	idle, err := t.rangeAll(off, length, func(r wire.Reservation) bool { return r.Action == wire.Idle })
	if err != nil {
		return false, err
	}
	return !idle, nil
}

// AnyTxReservations reports whether any slot in the range is a TX action.
func (t *Table) AnyTxReservations(off slot.Offset, length int) (bool, error) {
	return t.rangeAny(off, length, func(r wire.Reservation) bool { return r.Action.IsAnyTx() })
}

// AnyRxReservations reports whether any slot in the range is an RX action.
func (t *Table) AnyRxReservations(off slot.Offset, length int) (bool, error) {
	return t.rangeAny(off, length, func(r wire.Reservation) bool { return r.Action.IsAnyRx() })
}

func (t *Table) rangeAll(off slot.Offset, length int, pred func(wire.Reservation) bool) (bool, error) {
	if length < 1 {
		length = 1
	}
	for i := 0; i < length; i++ {
		r, err := t.Get(off + slot.Offset(i))
		if err != nil {
			return false, err
		}
		if !pred(r) {
			return false, nil
		}
	}
	return true, nil
}

func (t *Table) rangeAny(off slot.Offset, length int, pred func(wire.Reservation) bool) (bool, error) {
	if length < 1 {
		length = 1
	}
	for i := 0; i < length; i++ {
		r, err := t.Get(off + slot.Offset(i))
		if err != nil {
			return false, err
		}
		if pred(r) {
			return true, nil
		}
	}
	return false, nil
}

// Update advances the ring by delta slots (spec §4.1): future slots
// scroll toward "now", slots leaving the future window stop counting
// toward idle_count, and newly-revealed future slots are initialized
// Idle. delta must be >= 0.
func (t *Table) Update(delta int) {
	for i := 0; i < delta; i++ {
		t.advanceOne()
	}
}

func (t *Table) advanceOne() {
	w := len(t.ring)
	h := int(t.horizon)

	// The slot currently at offset +1 becomes the new "now"; it stops
	// being part of the future half and leaves idle_count's scope.
	formerPlusOneIdx := (t.zeroIdx + 1) % w
	if t.ring[formerPlusOneIdx].Action == wire.Idle {
		t.idleCount--
	}

	// Advancing "now" by one slot reveals a brand new future slot at
	// offset +h (physically, the slot that used to be at offset -h,
	// i.e. the oldest past slot, is recycled as the new +h).
	newFutureIdx := (t.zeroIdx + h + 1) % w
	t.ring[newFutureIdx] = wire.IdleReservation
	t.hw[newFutureIdx] = None
	t.idleCount++ // the newly-revealed future slot is Idle

	t.zeroIdx = formerPlusOneIdx
}

// Horizon returns the table's planning horizon.
func (t *Table) Horizon() slot.Horizon { return t.horizon }

// TxLink returns the linked transmitter table handle (None on hardware
// tables).
func (t *Table) TxLink() ID { return t.txLink }

// RxLinks returns the linked receiver table handles (empty on hardware
// tables).
func (t *Table) RxLinks() []ID { return t.rxLink }

// hwFor returns the hardware handle currently mirroring the slot at
// offset off, or None.
func (t *Table) hwFor(off slot.Offset) ID {
	idx, err := t.index(off)
	if err != nil {
		return None
	}
	return t.hw[idx]
}

func (t *Table) setHWFor(off slot.Offset, hw ID) {
	idx, err := t.index(off)
	if err != nil {
		return
	}
	t.hw[idx] = hw
}

// CountReservedTx counts future offsets reserved TX/TxBeacon for peer
// (spec §4.1), used for beacon broadcasting of one's own TX plan.
func (t *Table) CountReservedTx(peer wire.NodeID) int {
	n := 0
	for off := slot.Offset(1); off <= slot.Offset(t.horizon); off++ {
		r, _ := t.Get(off)
		if r.Action.IsAnyTx() && (peer == wire.Unset || r.Target == peer) {
			n++
		}
	}
	return n
}

// TxReservationsCopy returns the future TX offsets for peer (or all TX
// offsets if peer is wire.Unset), for inclusion in a beacon or
// SPEC_FULL link-utilization summary.
func (t *Table) TxReservationsCopy(peer wire.NodeID) []slot.Offset {
	var out []slot.Offset
	for off := slot.Offset(1); off <= slot.Offset(t.horizon); off++ {
		r, _ := t.Get(off)
		if r.Action.IsAnyTx() && (peer == wire.Unset || r.Target == peer) {
			out = append(out, off)
		}
	}
	return out
}

// IntegrateTxReservations marks Busy@peer at every offset a neighbor
// reported as their own TX plan, so their transmissions are not
// collided with before any link-info exchange exists (spec §4.1). Slots
// that are not Idle are left untouched — we never downgrade an existing
// commitment to accommodate a neighbor's beacon.
func (t *Table) IntegrateTxReservations(peer wire.NodeID, txOffsets []slot.Offset) {
	for _, off := range txOffsets {
		idx, err := t.index(off)
		if err != nil {
			continue
		}
		if t.ring[idx].Action == wire.Idle {
			t.setLocal(off, idx, wire.Reservation{Target: peer, Action: wire.Busy})
		}
	}
}
