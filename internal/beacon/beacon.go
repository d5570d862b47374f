// Package beacon implements the optional beacon module (SPEC_FULL.md
// §4): a periodic broadcast of position, a CPR-style alternating parity
// bit, a congestion estimate, and a summary of the local reservation
// plan. Disabled by default; when cfg.BeaconEnabled is false the core
// behaves exactly as if this package did not exist.
package beacon

import (
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/config"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/geoutil"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/macerr"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/neighbor"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/reservation"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/slot"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/trace"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"
)

// Module schedules and builds periodic beacon transmissions on the
// shared channel, mirroring how C5 schedules its own broadcast slot but
// tagging the reservation TxBeacon instead of Tx so the two never
// collide with each other's bookkeeping.
type Module struct {
	cfg       config.Config
	self      wire.NodeID
	res       *reservation.Manager
	shID      reservation.ID
	neighbors *neighbor.Observer
	tracer    *trace.Tracer

	scheduled bool
	nextAt    slot.Offset
	parityOdd bool
}

// New creates a beacon module. Callers should check Enabled() before
// wiring it into the per-slot loop. On a disabled module EnsureScheduled
// reserves nothing, so NextOffset never reports a slot; BuildHeader and
// HandleIncoming do not check Enabled().
func New(cfg config.Config, self wire.NodeID, res *reservation.Manager, shID reservation.ID, neighbors *neighbor.Observer, tracer *trace.Tracer) *Module {
	return &Module{cfg: cfg, self: self, res: res, shID: shID, neighbors: neighbors, tracer: tracer}
}

// Enabled reports whether the beacon is configured to run at all.
func (m *Module) Enabled() bool { return m.cfg.BeaconEnabled }

// EnsureScheduled reserves the next beacon slot if none is currently
// pending. Call once per Execute() tick; idempotent while a reservation
// is already outstanding.
func (m *Module) EnsureScheduled() error {
	if !m.cfg.BeaconEnabled || m.scheduled {
		return nil
	}
	interval := slot.Offset(m.cfg.BeaconIntervalSlots)
	if interval <= 0 {
		interval = 1
	}
	candidates := m.res.FindSHCandidates(m.shID, 1, interval)
	if len(candidates) == 0 {
		if m.tracer != nil {
			m.tracer.Warnf("beacon", "no candidate slot found at min_offset=%d", interval)
		}
		return macerr.ErrNoCandidates
	}
	chosen := candidates[0]
	if err := m.res.Mark(m.shID, chosen, wire.Reservation{Target: wire.Unset, Action: wire.TxBeacon}); err != nil {
		return err
	}
	m.scheduled = true
	m.nextAt = chosen
	if m.tracer != nil {
		m.tracer.Debugf("beacon", "scheduled beacon at +%d", chosen)
	}
	return nil
}

// NextOffset reports the pending beacon slot, if any.
func (m *Module) NextOffset() (slot.Offset, bool) {
	if !m.scheduled {
		return 0, false
	}
	return m.nextAt, true
}

// BuildHeader assembles this slot's beacon payload (spec note:
// "position, CPR parity, congestion level, and an encoded reservation
// plan summary"). planSummary is supplied by the caller (internal/mac),
// which alone has visibility into the active PP links' utilization.
func (m *Module) BuildHeader(position geoutil.Position, hopsToGroundStn uint8, planSummary []wire.LinkUtilization) *wire.BeaconHeader {
	m.parityOdd = !m.parityOdd
	m.scheduled = false
	return &wire.BeaconHeader{
		SourceID:        m.self,
		Position:        position,
		CPRParityOdd:    m.parityOdd,
		CongestionLevel: congestionLevel(m.neighbors.ActiveNeighborCount()),
		PlanSummary:     planSummary,
	}
}

// HandleIncoming processes a received beacon header. The core protocol
// has nothing mandatory to do with an overheard beacon beyond the
// bookkeeping already done for any received Base header (spec §4.8:
// "position, hops-to-ground-station... processed in every case"); this
// hook exists for an upper layer or future congestion-aware logic to
// observe beacon traffic without changing C5/C6/C7's own state.
func (m *Module) HandleIncoming(sender wire.NodeID, h *wire.BeaconHeader) {
	if m.tracer != nil {
		m.tracer.Debugf("beacon", "heard from %d congestion=%d", sender, h.CongestionLevel)
	}
}

func congestionLevel(activeNeighbors int) uint8 {
	if activeNeighbors < 0 {
		return 0
	}
	if activeNeighbors > 255 {
		return 255
	}
	return uint8(activeNeighbors)
}
