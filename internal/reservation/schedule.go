package reservation

import (
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/macerr"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/slot"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"
)

// ScheduledOffsets is the set of slot offsets a ScheduleBursts call
// committed to TX and to RX, respectively — callers keep this to know
// what to release on link expiry (spec §4.6).
type ScheduledOffsets struct {
	Tx []slot.Offset
	Rx []slot.Offset
}

// ScheduleBursts walks the alternating-burst schedule for a PP link and
// either marks an Idle slot with the appropriate TX/RX reservation, or
// overwrites a Busy@target slot when target is the link peer, or skips
// the slot if hardware is unavailable (spec §4.2). Skipping must not
// leave the schedule empty in either direction; if zero TX or zero RX
// reservations could be made, ErrNoCandidates is returned so the caller
// can abort link establishment.
func (m *Manager) ScheduleBursts(id ID, start slot.Offset, fwdBursts, revBursts int, period uint8, timeout int, initiator, recipient wire.NodeID, isInitiator bool) (ScheduledOffsets, error) {
	spacing := slot.Offset(slot.PeriodSlots(period))
	var result ScheduledOffsets

	// From this node's perspective: if we are the initiator, the forward
	// half of each exchange is our TX and the reverse half is our RX;
	// if we are the recipient, it is the other way around.
	peer := recipient
	if !isInitiator {
		peer = initiator
	}

	cur := start
	for ex := 0; ex < timeout; ex++ {
		fwdIsMine := isInitiator
		if err := m.scheduleBurst(id, cur, fwdBursts, fwdIsMine, peer, &result); err != nil {
			return result, err
		}
		cur += spacing

		revIsMine := !isInitiator
		if err := m.scheduleBurst(id, cur, revBursts, revIsMine, peer, &result); err != nil {
			return result, err
		}
		cur += spacing
	}

	if len(result.Tx) == 0 || len(result.Rx) == 0 {
		return result, macerr.ErrNoCandidates
	}
	return result, nil
}

func (m *Manager) scheduleBurst(id ID, start slot.Offset, length int, mine bool, peer wire.NodeID, result *ScheduledOffsets) error {
	t := m.Table(id)
	action := wire.Rx
	if mine {
		action = wire.Tx
	}
	for i := 0; i < length; i++ {
		off := start + slot.Offset(i)
		if err := t.horizon.Validate(off); err != nil {
			continue // out of horizon: skip, same as hardware-unavailable
		}
		cur, err := t.Get(off)
		if err != nil {
			continue
		}
		switch {
		case cur.Action == wire.Idle:
			if err := m.Mark(id, off, wire.Reservation{Target: peer, Action: action}); err != nil {
				continue // hardware exhausted at this slot: skip it
			}
		case cur.Action == wire.Busy && cur.Target == peer:
			// Overwrite: an advertisement already reserved this slot for
			// our peer; commit it to the real action now (spec §4.2).
			if err := m.Mark(id, off, wire.Reservation{Target: peer, Action: action}); err != nil {
				continue
			}
		case cur.Action == wire.Locked && cur.Target == peer:
			// A slot locked during proposal generation/acceptance commits
			// to its real action now (spec §4.6 "Commit").
			if err := m.Mark(id, off, wire.Reservation{Target: peer, Action: action}); err != nil {
				continue
			}
		default:
			continue // unavailable: skip
		}
		if mine {
			result.Tx = append(result.Tx, off)
		} else {
			result.Rx = append(result.Rx, off)
		}
	}
	return nil
}
