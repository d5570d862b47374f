// Package mac ties the MCSOTDMA sub-components together into the
// per-slot loop spec §4.8 (C8) describes: advance every reservation
// table, decide this slot's broadcast, dispatch reservations to the
// radio, and walk received packets back out to the component that owns
// each header kind.
package mac

import (
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/beacon"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/config"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/dutycycle"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/geoutil"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/macerr"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/neighbor"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/phy"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/pplink"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/reservation"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/shlink"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/stats"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/thirdparty"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/trace"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/upper"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"
)

// maxAdvertisedProposals caps how many of this node's own pending
// proposals are advertised per SH broadcast (spec §4.5: "Up to
// N_proposals advertised link proposals"). The teacher config has no
// dedicated knob for this count, so it is a small fixed constant; no
// config field changes it.
const maxAdvertisedProposals = 4

// Core is the per-node MAC instance: the arena of reservation tables
// plus every link manager that reads and writes them (spec §1, §4.8).
type Core struct {
	cfg  config.Config
	self wire.NodeID

	res       *reservation.Manager
	duty      *dutycycle.Allocator
	neighbors *neighbor.Observer
	sh        *shlink.Manager
	pp        *pplink.Manager
	third     *thirdparty.Tracker
	beacon    *beacon.Module

	upperLayer upper.Layer
	radio      phy.Radio

	position func() geoutil.Position

	stats  *stats.Counters
	tracer *trace.Tracer

	seqNum map[wire.NodeID]uint32
}

// New wires every already-constructed component into a Core. Callers
// build res/duty/neighbors/sh/pp/third/beaconMod first (each needs
// handles or interfaces the others expose) and hand the finished set
// here — mac is deliberately the only package that imports every
// concrete link manager type, so none of them import each other.
// beaconMod may be nil (equivalent to a disabled beacon.Module).
// position supplies the Base header's current position; nil means the
// zero position is always reported.
func New(cfg config.Config, self wire.NodeID, res *reservation.Manager, duty *dutycycle.Allocator, neighbors *neighbor.Observer, sh *shlink.Manager, pp *pplink.Manager, third *thirdparty.Tracker, beaconMod *beacon.Module, upperLayer upper.Layer, radio phy.Radio, position func() geoutil.Position, st *stats.Counters, tracer *trace.Tracer) *Core {
	if upperLayer == nil {
		upperLayer = upper.NopLayer{}
	}
	if position == nil {
		position = func() geoutil.Position { return geoutil.Position{} }
	}
	return &Core{
		cfg: cfg, self: self, res: res, duty: duty, neighbors: neighbors,
		sh: sh, pp: pp, third: third, beacon: beaconMod,
		upperLayer: upperLayer, radio: radio, position: position,
		stats: st, tracer: tracer, seqNum: make(map[wire.NodeID]uint32),
	}
}

// Update advances every reservation table and the neighbor observer by
// n slots (spec §4.8: "update(n) advances all reservation tables... by
// n slots"). Call once per tick before Execute.
func (c *Core) Update(n int) {
	c.res.UpdateAll(n)
	for i := 0; i < n; i++ {
		c.neighbors.TickCloseSlot()
	}
}

// allTables lists every per-channel table this node owns, SH first,
// then every registered PP channel — the order Execute walks them in.
func (c *Core) allTables() []reservation.ID {
	return append([]reservation.ID{c.res.SHTable()}, c.res.PPTables()...)
}

// Execute runs the current slot (spec §4.8 "execute()"): (re)select a
// broadcast slot if warranted, then read the reservation at offset 0
// from every per-channel table and dispatch the single TX action (if
// any) to the radio, tuning a receiver for every RX action. The
// single-transmitter invariant (spec §1, §8 I2) is enforced upstream at
// Mark() time — hardware tables never admit two simultaneous TX
// reservations — so Execute treats a second TX at offset 0 as a
// programming error, not a recoverable condition.
func (c *Core) Execute() error {
	ppUsages := c.pp.CurrentPPUsages()

	if err := c.sh.CheckForConflict(ppUsages); err != nil {
		return err
	}
	// hasOutgoingData is not threaded separately: NotifyOutgoing already
	// drives pplink into BeginEstablishment, which enqueues an SH
	// request, so sh.HasPendingWork() already reflects outgoing demand.
	if err := c.sh.SelectBroadcastSlot(ppUsages, false); err != nil && err != macerr.ErrNoCandidates {
		return err
	}
	if c.beacon != nil && c.beacon.Enabled() {
		if err := c.beacon.EnsureScheduled(); err != nil && err != macerr.ErrNoCandidates {
			return err
		}
	}

	txFired := false
	for _, id := range c.allTables() {
		t := c.res.Table(id)
		r, err := t.Get(0)
		if err != nil {
			continue
		}
		if !r.Action.IsAnyTx() {
			continue
		}
		if txFired {
			return macerr.ErrUnexpectedState
		}
		txFired = true
		pkt := c.buildTxPacket(id, r)
		if err := c.radio.PassToLower(pkt, t.Channel().CenterFreqKHz); err != nil {
			c.tracer.Warnf("mac", "pass_to_lower failed on ch=%d: %v", id, err)
		}
	}

	for _, id := range c.allTables() {
		t := c.res.Table(id)
		r, err := t.Get(0)
		if err != nil || !r.Action.IsAnyRx() {
			continue
		}
		if err := c.radio.TuneReceiver(t.Channel().CenterFreqKHz); err != nil {
			c.tracer.Warnf("mac", "tune_receiver failed on ch=%d: %v", id, err)
		}
	}
	return nil
}

func (c *Core) buildTxPacket(id reservation.ID, r wire.Reservation) wire.Packet {
	base := wire.Record{Kind: wire.KindBase, Base: &wire.BaseHeader{SourceID: c.self, Position: c.position()}}

	var pkt wire.Packet
	switch {
	case r.Action == wire.TxBeacon && c.beacon != nil:
		h := c.beacon.BuildHeader(c.position(), 0, c.pp.ActiveUtilizations())
		pkt = wire.Packet{Records: []wire.Record{{Kind: wire.KindBeacon, Beacon: h}}}
	case id == c.res.SHTable():
		proposals := c.pp.PendingInitiatorProposals(maxAdvertisedProposals)
		msgs := make([]wire.LinkProposalMessage, len(proposals))
		for i, p := range proposals {
			msgs[i] = wire.LinkProposalMessage{Proposal: p}
		}
		pkt = c.sh.OnTransmissionReservation(msgs, c.pp.ActiveUtilizations())
	default:
		peer := r.Target
		seq := c.seqNum[peer]
		c.seqNum[peer] = seq + 1
		pkt = c.pp.OnTransmissionReservation(peer, seq)
	}

	pkt.Records = append([]wire.Record{base}, pkt.Records...)
	return pkt
}

// ReceiveFromLower implements phy.ReceiveFunc (spec §4.8 "Packet
// dispatch on reception"): it walks the header records in order,
// routing the SH header to C5, a unicast PP header addressed to this
// node to C6, and a beacon header to the beacon module when one is
// configured. Unicast headers addressed elsewhere are ignored here.
func (c *Core) ReceiveFromLower(p wire.Packet, _ uint64) {
	base, ok := p.FindBase()
	if !ok {
		c.tracer.Warnf("mac", "dropped packet with no base header")
		return
	}
	sender := base.SourceID
	ppUsages := c.pp.CurrentPPUsages()

	for _, rec := range p.Records {
		switch rec.Kind {
		case wire.KindSH:
			if rec.SH != nil {
				c.sh.ProcessIncoming(rec.SH, sender, ppUsages)
			}
		case wire.KindPPUnicast:
			if rec.PP != nil && rec.PP.DestID == c.self {
				c.pp.ProcessIncoming(sender, p)
			}
		case wire.KindBeacon:
			if rec.Beacon != nil && c.beacon != nil {
				c.beacon.HandleIncoming(sender, rec.Beacon)
			}
		}
	}
}

// OnSlotEnd closes every component's per-slot moving-average and
// countdown state (spec §4.8 "on_slot_end()", §5: "runs strictly last,
// after execute() and after any reception this slot"). transmitted
// reports whether this node's own TX action fired this slot, for the
// duty-cycle allocator's window.
func (c *Core) OnSlotEnd(transmitted bool) {
	c.duty.RecordSlot(transmitted)
	c.pp.TickCloseSlot()
	c.third.TickCloseSlot()
}

// NotifyOutgoing forwards new outgoing data to the PP link manager,
// which creates or renews a link as needed (spec §3).
func (c *Core) NotifyOutgoing(peer wire.NodeID, numBits int) {
	c.pp.NotifyOutgoing(peer, numBits)
}

// Stats exposes a snapshot of the running failure/latency counters
// (spec §7).
func (c *Core) Stats() stats.Snapshot {
	return c.stats.Snapshot()
}

// CurrentSlot reports the PP link manager's slot counter, which mac
// itself does not separately track (spec §5: "one true slot counter").
func (c *Core) CurrentSlot() int64 {
	return c.pp.CurrentSlot()
}
