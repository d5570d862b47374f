// Package neighbor implements the neighbor observer (spec §4.4, C4): a
// moving estimate of active-neighbor count and their advertised next-SH
// slots and proposed PP links.
package neighbor

import (
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/avg"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"
)

// proposalTTLSlots bounds how long an advertised proposal is considered
// fresh before it ages out (spec §4.4: "stale proposals age out").
const proposalTTLSlots = 64

type proposalRecord struct {
	proposal    wire.LinkProposal
	advertisedAt int64 // absolute slot the advertisement was received
}

type peerState struct {
	lastSeenSlot        int64
	hasLastSeen         bool
	nextBroadcastAbs    int64 // absolute slot, normalized from the advertised offset
	hasNextBroadcast    bool
	proposals           []proposalRecord
}

// rateHistoryLen bounds how many recent inter-broadcast gaps feed
// AverageBroadcastRate.
const rateHistoryLen = 32

// Observer tracks per-peer activity and an active-neighbor moving
// average (spec §4.4).
type Observer struct {
	peers             map[wire.NodeID]*peerState
	activityWindow    *avg.Window // 1 sample per slot: fraction of recently-active peers this slot
	rateHistory       []float64   // recent observed broadcast inter-arrival gaps, across all neighbors
	rateNext          int
	activeWindowSlots int64
	currentSlot       int64
}

// New creates an Observer whose "recent activity" window spans
// activeWindowSlots slots.
func New(activeWindowSlots int64) *Observer {
	return &Observer{
		peers:             make(map[wire.NodeID]*peerState),
		activityWindow:    avg.NewWindow(64),
		activeWindowSlots: activeWindowSlots,
	}
}

func (o *Observer) peer(id wire.NodeID) *peerState {
	p, ok := o.peers[id]
	if !ok {
		p = &peerState{}
		o.peers[id] = p
	}
	return p
}

// ObserveBroadcast records that peer transmitted an SH broadcast at the
// current slot, advertising nextOffset as their own next broadcast (0 =
// unset) and proposals as their currently-advertised link proposals.
// Advertised proposals are *replaced*, not accumulated, per spec §4.5.
func (o *Observer) ObserveBroadcast(peer wire.NodeID, nextOffset int32, proposals []wire.LinkProposal) {
	p := o.peer(peer)

	if p.hasLastSeen {
		o.recordGap(float64(o.currentSlot - p.lastSeenSlot))
	}
	p.lastSeenSlot = o.currentSlot
	p.hasLastSeen = true

	if nextOffset != 0 {
		p.nextBroadcastAbs = o.currentSlot + int64(nextOffset)
		p.hasNextBroadcast = true
	} else {
		p.hasNextBroadcast = false
	}

	p.proposals = p.proposals[:0]
	for _, prop := range proposals {
		p.proposals = append(p.proposals, proposalRecord{proposal: prop, advertisedAt: o.currentSlot})
	}
}

// NextExpectedBroadcastSlot returns the absolute slot peer is next
// expected to transmit on the SH, if known.
func (o *Observer) NextExpectedBroadcastSlot(peer wire.NodeID) (int64, bool) {
	p, ok := o.peers[peer]
	if !ok || !p.hasNextBroadcast {
		return 0, false
	}
	return p.nextBroadcastAbs, true
}

// AdvertisedLinkProposals returns peer's currently-fresh advertised
// proposals, normalized to currentSlot (their SlotOffset field is
// rewritten relative to "now").
func (o *Observer) AdvertisedLinkProposals(peer wire.NodeID, currentSlot int64) []wire.LinkProposal {
	p, ok := o.peers[peer]
	if !ok {
		return nil
	}
	var out []wire.LinkProposal
	for _, rec := range p.proposals {
		age := currentSlot - rec.advertisedAt
		if age < 0 || age > proposalTTLSlots {
			continue
		}
		// The proposal's SlotOffset was relative to the slot it was
		// advertised at; re-express it relative to currentSlot.
		absOffset := rec.advertisedAt + int64(rec.proposal.SlotOffset)
		norm := rec.proposal
		norm.SlotOffset = int32(absOffset - currentSlot)
		out = append(out, norm)
	}
	return out
}

// ActiveNeighborCount returns the number of peers that have been seen
// within the active window (spec §4.4).
func (o *Observer) ActiveNeighborCount() int {
	n := 0
	for _, p := range o.peers {
		if p.hasLastSeen && o.currentSlot-p.lastSeenSlot <= o.activeWindowSlots {
			n++
		}
	}
	return n
}

// AverageBroadcastRate returns the moving average of inter-broadcast
// slot gaps observed across all neighbors.
func (o *Observer) AverageBroadcastRate() float64 {
	if len(o.rateHistory) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range o.rateHistory {
		sum += v
	}
	return sum / float64(len(o.rateHistory))
}

func (o *Observer) recordGap(gap float64) {
	if cap(o.rateHistory) == 0 {
		o.rateHistory = make([]float64, 0, rateHistoryLen)
	}
	if len(o.rateHistory) < rateHistoryLen {
		o.rateHistory = append(o.rateHistory, gap)
		return
	}
	o.rateHistory[o.rateNext] = gap
	o.rateNext = (o.rateNext + 1) % rateHistoryLen
}

// TickCloseSlot advances the observer's own clock by one slot, pruning
// stale proposals and closing the moving-average windows (spec §5: "on
// every tick" hooks run once per slot).
func (o *Observer) TickCloseSlot() {
	o.currentSlot++
	active := float64(o.ActiveNeighborCount())
	total := float64(len(o.peers))
	if total > 0 {
		o.activityWindow.Put(active / total)
	}
	o.activityWindow.TickCloseSlot()

	for id, p := range o.peers {
		filtered := p.proposals[:0]
		for _, rec := range p.proposals {
			if o.currentSlot-rec.advertisedAt <= proposalTTLSlots {
				filtered = append(filtered, rec)
			}
		}
		p.proposals = filtered
		_ = id
	}
}

// CurrentSlot returns the observer's own absolute slot counter.
func (o *Observer) CurrentSlot() int64 { return o.currentSlot }
