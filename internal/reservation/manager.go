package reservation

import (
	"fmt"
	"sort"

	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/channel"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/macerr"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/slot"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/trace"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"
)

// Manager owns exactly one SH channel + table, zero or more PP channels +
// tables, a single transmitter table, and a list of receiver tables
// (spec §4.2, C2). It is the sole arena for ID handles.
type Manager struct {
	horizon slot.Horizon
	arena   []*Table

	txID ID
	rxID []ID
	shID ID
	ppID []ID

	tracer *trace.Tracer
}

// NewManager creates a Manager with the given horizon and number of
// hardware receivers (spec §1: "a small fixed number of receivers").
func NewManager(h slot.Horizon, numReceivers int, tracer *trace.Tracer) *Manager {
	m := &Manager{horizon: h, shID: None, tracer: tracer}
	m.txID = m.alloc(NewHardwareTable(h))
	for i := 0; i < numReceivers; i++ {
		m.rxID = append(m.rxID, m.alloc(NewHardwareTable(h)))
	}
	return m
}

func (m *Manager) alloc(t *Table) ID {
	m.arena = append(m.arena, t)
	return ID(len(m.arena) - 1)
}

// Table resolves a handle to its table. Panics on an invalid handle —
// handles are only ever minted by this Manager, so an invalid one is a
// programming error, not a runtime condition to recover from.
func (m *Manager) Table(id ID) *Table {
	if id < 0 || int(id) >= len(m.arena) {
		panic(fmt.Sprintf("reservation: invalid table handle %d", id))
	}
	return m.arena[id]
}

// TxTable returns the handle to the single transmitter hardware table.
func (m *Manager) TxTable() ID { return m.txID }

// RxTables returns the handles to the receiver hardware tables.
func (m *Manager) RxTables() []ID { return append([]ID(nil), m.rxID...) }

// AddSHChannel creates and links the (singleton) shared-channel table.
func (m *Manager) AddSHChannel(ch channel.Channel) ID {
	t := NewChannelTable(m.horizon, ch)
	t.LinkHardware(m.txID, m.rxID)
	id := m.alloc(t)
	m.shID = id
	return id
}

// SHTable returns the shared-channel table handle.
func (m *Manager) SHTable() ID { return m.shID }

// AddPPChannel creates and links a new point-to-point channel table.
func (m *Manager) AddPPChannel(ch channel.Channel) ID {
	t := NewChannelTable(m.horizon, ch)
	t.LinkHardware(m.txID, m.rxID)
	id := m.alloc(t)
	m.ppID = append(m.ppID, id)
	return id
}

// PPTables returns every registered PP channel table handle.
func (m *Manager) PPTables() []ID { return append([]ID(nil), m.ppID...) }

// GetSortedPPTables returns PP channel handles ordered by decreasing
// idle count — "a max-heap keyed on idle count" per spec §4.2, used by
// proposal finders to prefer emptier channels first.
func (m *Manager) GetSortedPPTables() []ID {
	out := append([]ID(nil), m.ppID...)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := m.Table(out[i]), m.Table(out[j])
		if ti.IdleCount() != tj.IdleCount() {
			return ti.IdleCount() > tj.IdleCount()
		}
		return channel.Less(ti.Channel(), tj.Channel())
	})
	return out
}

// UpdateAll advances every table in the arena by delta slots (spec §4.1
// update, driven once per MAC-core tick from C8).
func (m *Manager) UpdateAll(delta int) {
	for _, t := range m.arena {
		t.Update(delta)
	}
}

// Mark writes a reservation at off on the per-channel table id,
// validating and mirroring hardware capacity (spec §4.1). It is a
// Manager method, not a Table method, because it must inspect and
// mutate the linked hardware tables.
func (m *Manager) Mark(id ID, off slot.Offset, r wire.Reservation) error {
	t := m.Table(id)
	idx, err := t.index(off)
	if err != nil {
		return err
	}
	cur := t.ring[idx]

	switch {
	case r.Action.IsAnyTx():
		if t.isHW {
			return macerr.ErrNoTxAvailable // hardware tables have no further tx link of their own
		}
		txTable := m.Table(t.txLink)
		ok, err := txTable.IsIdleOrLocked(off, 1)
		if err != nil {
			return err
		}
		if !ok {
			return macerr.ErrNoTxAvailable
		}
		hwIdx, _ := txTable.index(off)
		txTable.setLocal(off, hwIdx, wire.Reservation{Target: r.Target, Action: r.Action})
		t.setHWFor(off, t.txLink)

	case r.Action.IsAnyRx():
		if t.isHW {
			return macerr.ErrNoRxAvailable
		}
		chosen := None
		for _, rxID := range t.rxLink {
			rxTable := m.Table(rxID)
			ok, err := rxTable.IsIdleOrLocked(off, 1)
			if err != nil {
				return err
			}
			if ok {
				chosen = rxID
				break
			}
		}
		if chosen == None {
			return macerr.ErrNoRxAvailable
		}
		rxTable := m.Table(chosen)
		hwIdx, _ := rxTable.index(off)
		rxTable.setLocal(off, hwIdx, wire.Reservation{Target: r.Target, Action: r.Action})
		t.setHWFor(off, chosen)

	case r.Action == wire.Idle:
		if cur.Action.IsAnyTx() || cur.Action.IsAnyRx() {
			hw := t.hwFor(off)
			if hw != None {
				hwTable := m.Table(hw)
				hwIdx, _ := hwTable.index(off)
				hwTable.setLocal(off, hwIdx, wire.IdleReservation)
			}
			t.setHWFor(off, None)
		}

	default:
		// Busy and Locked carry no hardware-capacity requirement: Busy
		// mirrors a third party's plan we merely avoid colliding with,
		// and Locked is a local negotiation hold (spec §5: "a write
		// discipline, not an OS primitive").
	}

	t.setLocal(off, idx, r)
	if m.tracer != nil {
		m.tracer.Debugf("reservation", "mark off=%d action=%s target=%d", off, r.Action, r.Target)
	}
	return nil
}

// FindSHCandidates returns up to n earliest offsets >= minOffset at which
// a single-slot transmission is feasible: locally Idle and the
// transmitter table Idle (spec §4.1).
func (m *Manager) FindSHCandidates(id ID, n int, minOffset slot.Offset) []slot.Offset {
	t := m.Table(id)
	txTable := m.Table(t.txLink)
	var out []slot.Offset
	for off := minOffset; off <= slot.Offset(t.horizon) && len(out) < n; off++ {
		localIdle, err := t.IsIdle(off, 1)
		if err != nil || !localIdle {
			continue
		}
		txIdle, err := txTable.IsIdle(off, 1)
		if err != nil || !txIdle {
			continue
		}
		out = append(out, off)
	}
	return out
}

// FindPPCandidates returns up to n earliest start offsets at which a
// complete PP link schedule is simultaneously realizable on this channel
// and the linked hardware tables (spec §4.1): timeout exchanges, each
// exchange being fwdBursts slots in the forward direction followed by
// revBursts slots in the reverse direction, successive bursts separated
// by 5*2^period slots. isInitiator selects which direction is this
// node's TX: true means the forward half is TX (the caller is the link
// initiator validating its own candidate schedule); false means the
// forward half is RX (the caller is the responder validating an
// initiator's proposal against its own hardware). Slots of the schedule
// beyond the planning horizon are not checked, as in ScheduleBursts.
func (m *Manager) FindPPCandidates(id ID, n int, minOffset slot.Offset, fwdBursts, revBursts int, period uint8, timeout int, isInitiator bool) []slot.Offset {
	t := m.Table(id)
	spacing := slot.Offset(slot.PeriodSlots(period))
	var out []slot.Offset

	for start := minOffset; start <= slot.Offset(t.horizon) && len(out) < n; start++ {
		if m.scheduleFits(t, start, fwdBursts, revBursts, spacing, timeout, isInitiator) {
			out = append(out, start)
		}
	}
	return out
}

// scheduleFits checks whether every slot of the alternating fwd/rev
// burst schedule starting at start would be available (Idle or Locked,
// locally and on the appropriate hardware table) without mutating
// anything.
func (m *Manager) scheduleFits(t *Table, start slot.Offset, fwdBursts, revBursts int, spacing slot.Offset, timeout int, isInitiator bool) bool {
	cur := start
	for ex := 0; ex < timeout; ex++ {
		if !m.burstFits(t, cur, fwdBursts, isInitiator) {
			return false
		}
		cur += spacing
		if !m.burstFits(t, cur, revBursts, !isInitiator) {
			return false
		}
		cur += spacing
	}
	return true
}

// LockBursts locks every slot of the alternating-burst schedule starting
// at start, on the per-channel table id and the appropriate hardware
// table for each half, to peer (spec §4.6: "Lock every slot of every
// proposed burst pattern in the local tables and in the hardware
// tables"). On any failure every lock already made by this call is
// rolled back and the error is returned. Slots beyond the planning
// horizon are skipped, not locked. isInitiator has the same meaning as in
// FindPPCandidates.
func (m *Manager) LockBursts(id ID, start slot.Offset, fwdBursts, revBursts int, period uint8, timeout int, peer wire.NodeID, isInitiator bool) ([]slot.Offset, error) {
	t := m.Table(id)
	spacing := slot.Offset(slot.PeriodSlots(period))
	var locked []slot.Offset

	rollback := func() {
		m.UnlockOffsets(id, locked, peer)
	}

	cur := start
	for ex := 0; ex < timeout; ex++ {
		if err := m.lockBurst(t, cur, fwdBursts, isInitiator, peer, &locked); err != nil {
			rollback()
			return nil, err
		}
		cur += spacing
		if err := m.lockBurst(t, cur, revBursts, !isInitiator, peer, &locked); err != nil {
			rollback()
			return nil, err
		}
		cur += spacing
	}
	return locked, nil
}

func (m *Manager) lockBurst(t *Table, start slot.Offset, length int, isTx bool, peer wire.NodeID, locked *[]slot.Offset) error {
	for i := 0; i < length; i++ {
		off := start + slot.Offset(i)
		if err := t.horizon.Validate(off); err != nil {
			continue // out of horizon: skip, as in scheduleBurst
		}
		if err := t.Lock(off, peer); err != nil {
			return err
		}
		*locked = append(*locked, off)

		if isTx {
			txTable := m.Table(t.txLink)
			if err := txTable.Lock(off, peer); err != nil {
				return err
			}
			t.setHWFor(off, t.txLink)
			continue
		}

		chosen := None
		for _, rxID := range t.rxLink {
			rxTable := m.Table(rxID)
			if err := rxTable.Lock(off, peer); err == nil {
				chosen = rxID
				break
			}
		}
		if chosen == None {
			return macerr.ErrNoRxAvailable
		}
		t.setHWFor(off, chosen)
	}
	return nil
}

// UnlockOffsets releases peer's lock at every offset, on the per-channel
// table and its mirrored hardware table, ignoring offsets that are not
// currently locked to peer.
func (m *Manager) UnlockOffsets(id ID, offsets []slot.Offset, peer wire.NodeID) {
	t := m.Table(id)
	for _, off := range offsets {
		if hw := t.hwFor(off); hw != None {
			m.Table(hw).Unlock(off, peer)
			t.setHWFor(off, None)
		}
		t.Unlock(off, peer)
	}
}

func (m *Manager) burstFits(t *Table, start slot.Offset, length int, isTx bool) bool {
	if length <= 0 {
		return true
	}
	hwLink := t.txLink
	var rxLinks []ID
	if !isTx {
		rxLinks = t.rxLink
	}
	for i := 0; i < length; i++ {
		off := start + slot.Offset(i)
		if err := t.horizon.Validate(off); err != nil {
			continue // out of horizon: not checked, as in scheduleBurst
		}
		localOK, err := t.IsIdleOrLocked(off, 1)
		if err != nil || !localOK {
			return false
		}
		if isTx {
			txTable := m.Table(hwLink)
			ok, err := txTable.IsIdleOrLocked(off, 1)
			if err != nil || !ok {
				return false
			}
		} else {
			any := false
			for _, rxID := range rxLinks {
				rxTable := m.Table(rxID)
				ok, err := rxTable.IsIdleOrLocked(off, 1)
				if err == nil && ok {
					any = true
					break
				}
			}
			if !any {
				return false
			}
		}
	}
	return true
}
