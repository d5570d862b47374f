// Package shlink implements the shared-channel link manager (spec §4.5,
// C5): randomized slot selection for the node's own broadcast slot, and
// the request/reply/advertisement traffic that drives PP link
// establishment.
package shlink

import (
	"math"
	"math/rand"

	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/config"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/dutycycle"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/macerr"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/neighbor"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/reservation"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/slot"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/stats"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/trace"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"
)

// State is the broadcast-slot state machine (spec §4.5): None ->
// Scheduled(t) on selection, Scheduled(t) -> None after transmission,
// Scheduled(t) -> Scheduled(t') on detected conflict.
type State uint8

const (
	None State = iota
	Scheduled
)

type pendingRequest struct {
	Peer    wire.NodeID
	GenTime int64
}

type pendingReply struct {
	Peer     wire.NodeID
	Proposal wire.LinkProposal
}

// PPLinkHandler is what the SH link manager needs from the PP link
// manager (spec §4.5, §4.6): generating a proposal for an outgoing
// request, validating an incoming one, accepting a reply, and starting a
// fresh establishment attempt when an incoming request is rejected.
type PPLinkHandler interface {
	GenerateRequestProposal(peer wire.NodeID) (wire.LinkProposal, error)
	ValidateIncomingProposal(peer wire.NodeID, proposal wire.LinkProposal, replyOffset slot.Offset) (wire.LinkProposal, bool)
	AcceptReply(peer wire.NodeID, proposal wire.LinkProposal) error
	BeginEstablishment(peer wire.NodeID)
}

// ThirdPartyHandler is what the SH link manager forwards overheard
// control traffic between other nodes to (spec §4.5, C7).
type ThirdPartyHandler interface {
	ObserveRequest(initiator, recipient wire.NodeID, req wire.LinkRequest)
	ObserveReply(initiator, recipient wire.NodeID, rep wire.LinkReply)
}

// Manager is the singleton per-node SH link manager.
type Manager struct {
	cfg       config.Config
	self      wire.NodeID
	res       *reservation.Manager
	shID      reservation.ID
	duty      *dutycycle.Allocator
	neighbors *neighbor.Observer
	pp        PPLinkHandler
	third     ThirdPartyHandler
	stats     *stats.Counters
	tracer    *trace.Tracer
	rng       *rand.Rand

	state       State
	broadcastAt slot.Offset

	pendingRequests []pendingRequest
	pendingReplies  []pendingReply
}

// New creates the SH link manager bound to shID, the singleton SH
// channel table handle on res.
func New(cfg config.Config, self wire.NodeID, res *reservation.Manager, shID reservation.ID, duty *dutycycle.Allocator, neighbors *neighbor.Observer, pp PPLinkHandler, third ThirdPartyHandler, st *stats.Counters, tracer *trace.Tracer, rng *rand.Rand) *Manager {
	return &Manager{
		cfg: cfg, self: self, res: res, shID: shID, duty: duty,
		neighbors: neighbors, pp: pp, third: third, stats: st, tracer: tracer, rng: rng,
	}
}

// EnqueueRequest implements pplink.SHLinkHandler: queue an outgoing
// request for peer, generated at genTime (spec §3, "queue of pending
// link requests").
func (m *Manager) EnqueueRequest(peer wire.NodeID, genTime int64) {
	for _, pr := range m.pendingRequests {
		if pr.Peer == peer {
			return // already queued
		}
	}
	m.pendingRequests = append(m.pendingRequests, pendingRequest{Peer: peer, GenTime: genTime})
}

// EnqueueReply implements pplink.SHLinkHandler: queue a reply carrying
// the proposal this node accepted for peer. proposal must already be
// normalized to the reply broadcast slot (spec §4.6).
func (m *Manager) EnqueueReply(peer wire.NodeID, proposal wire.LinkProposal) {
	m.pendingReplies = append(m.pendingReplies, pendingReply{Peer: peer, Proposal: proposal})
}

// NextBroadcastOffset implements pplink.SHLinkHandler.
func (m *Manager) NextBroadcastOffset() (slot.Offset, bool) {
	if m.state != Scheduled {
		return 0, false
	}
	return m.broadcastAt, true
}

// HasPendingWork reports whether there is anything worth broadcasting
// for (a queued request or reply), independent of outgoing user data.
func (m *Manager) HasPendingWork() bool {
	return len(m.pendingRequests) > 0 || len(m.pendingReplies) > 0
}

func (m *Manager) candidateCount() int {
	if m.cfg.ContentionMethod == config.ContentionNaive {
		return m.cfg.MinCandidates
	}
	mN := m.neighbors.ActiveNeighborCount()
	if mN <= 0 {
		return m.cfg.MinCandidates
	}
	p := m.cfg.TargetCollisionProb
	denom := 1 - math.Pow(1-p, 1/float64(mN))
	var k int
	if denom <= 0 {
		k = m.cfg.MaxCandidates
	} else {
		k = int(math.Ceil(1 / denom))
	}
	if k < m.cfg.MinCandidates {
		k = m.cfg.MinCandidates
	}
	if k > m.cfg.MaxCandidates {
		k = m.cfg.MaxCandidates
	}
	return k
}

// SelectBroadcastSlot runs spec §4.5's slot-selection procedure if no
// broadcast is currently scheduled and there is outgoing data or pending
// control traffic.
func (m *Manager) SelectBroadcastSlot(ppUsages []dutycycle.PPUsage, hasOutgoingData bool) error {
	if m.state == Scheduled || !(hasOutgoingData || m.HasPendingWork()) {
		return nil
	}
	return m.reselect(ppUsages)
}

func (m *Manager) reselect(ppUsages []dutycycle.PPUsage) error {
	k := m.candidateCount()
	minOffset := slot.Offset(m.duty.GetSHOffset(ppUsages))
	candidates := m.res.FindSHCandidates(m.shID, k, minOffset)
	if len(candidates) == 0 {
		if m.tracer != nil {
			m.tracer.Warnf("shlink", "no candidates: min_offset=%d k=%d", minOffset, k)
		}
		return macerr.ErrNoCandidates
	}
	chosen := candidates[m.rng.Intn(len(candidates))]
	if err := m.res.Mark(m.shID, chosen, wire.Reservation{Target: wire.Unset, Action: wire.Tx}); err != nil {
		return err
	}
	m.state = Scheduled
	m.broadcastAt = chosen
	if m.tracer != nil {
		m.tracer.Debugf("shlink", "scheduled broadcast at +%d", chosen)
	}
	return nil
}

// CheckForConflict detects a higher-priority claim on the scheduled
// broadcast slot and reselects strictly later if one is found (spec
// §4.5 failure detection, S4). If the fresh selection does not land after
// the previous choice, it is moved to a candidate strictly after it when
// one exists.
func (m *Manager) CheckForConflict(ppUsages []dutycycle.PPUsage) error {
	if m.state != Scheduled {
		return nil
	}
	r, err := m.res.Table(m.shID).Get(m.broadcastAt)
	if err != nil {
		return err
	}
	if r.Action == wire.Tx && r.Target == wire.Unset {
		return nil
	}
	m.stats.SHCollisions.Add(1)
	prev := m.broadcastAt
	m.state = None
	if err := m.reselect(ppUsages); err != nil {
		return err
	}
	if m.broadcastAt <= prev {
		// Collapse onto the next candidate strictly after prev, per S4
		// ("reselects a new broadcast slot strictly greater than its
		// previous choice").
		k := m.candidateCount()
		candidates := m.res.FindSHCandidates(m.shID, k, prev+1)
		if len(candidates) > 0 {
			if err := m.res.Mark(m.shID, m.broadcastAt, wire.IdleReservation); err == nil {
				next := candidates[m.rng.Intn(len(candidates))]
				if err := m.res.Mark(m.shID, next, wire.Reservation{Target: wire.Unset, Action: wire.Tx}); err == nil {
					m.broadcastAt = next
				}
			}
		}
	}
	return nil
}

func (m *Manager) handleAdvertisement(sender wire.NodeID, off slot.Offset, ppUsages []dutycycle.PPUsage) error {
	r, err := m.res.Table(m.shID).Get(off)
	if err != nil {
		return err
	}
	switch {
	case r.Action == wire.Tx && m.state == Scheduled && off == m.broadcastAt:
		m.stats.SHCollisions.Add(1)
		m.state = None
		return m.reselect(ppUsages)
	case r.Action == wire.Idle:
		return m.res.Mark(m.shID, off, wire.Reservation{Target: sender, Action: wire.Rx})
	default:
		return nil
	}
}

// ProcessIncoming handles a received SH header (spec §4.5 "Header
// processing on RX").
func (m *Manager) ProcessIncoming(h *wire.SHHeader, sender wire.NodeID, ppUsages []dutycycle.PPUsage) {
	proposals := make([]wire.LinkProposal, 0, len(h.Proposals))
	for _, pm := range h.Proposals {
		proposals = append(proposals, pm.Proposal)
	}
	m.neighbors.ObserveBroadcast(sender, int32(h.SlotOffset), proposals)

	if h.SlotOffset != 0 {
		if err := m.handleAdvertisement(sender, slot.Offset(h.SlotOffset), ppUsages); err != nil && m.tracer != nil {
			m.tracer.Warnf("shlink", "advertisement from %d: %v", sender, err)
		}
	}

	for _, req := range h.Requests {
		m.handleRequest(sender, req)
	}
	if h.Reply != nil {
		m.handleReply(sender, *h.Reply)
	}
}

func (m *Manager) handleRequest(sender wire.NodeID, req wire.LinkRequest) {
	if req.DestID != m.self {
		if m.third != nil {
			m.third.ObserveRequest(sender, req.DestID, req)
		}
		return
	}
	replyOffset := slot.Offset(req.Proposal.SlotOffset)
	if nextB, scheduled := m.NextBroadcastOffset(); scheduled && replyOffset <= nextB {
		// B3: reply_offset == next_broadcast_offset is rejected too.
		m.stats.RequestsRejectedReply.Add(1)
		m.pp.BeginEstablishment(sender)
		return
	}
	accepted, ok := m.pp.ValidateIncomingProposal(sender, req.Proposal, replyOffset)
	if !ok {
		m.stats.RequestsRejectedProposal.Add(1)
		m.pp.BeginEstablishment(sender)
		return
	}
	m.EnqueueReply(sender, accepted)
}

func (m *Manager) handleReply(sender wire.NodeID, rep wire.LinkReply) {
	if rep.DestID != m.self {
		if m.third != nil {
			m.third.ObserveReply(sender, rep.DestID, rep)
		}
		return
	}
	if err := m.pp.AcceptReply(sender, rep.Proposal); err != nil && m.tracer != nil {
		m.tracer.Warnf("shlink", "accept reply from %d: %v", sender, err)
	}
}

// OnTransmissionReservation builds the SH broadcast packet when the
// scheduled slot fires (spec §4.5 "Header construction on TX",
// §4.8). advertisedProposals and utilizations are supplied by the MAC
// core, which has the full picture of active PP links; shlink owns only
// the request/reply queues.
func (m *Manager) OnTransmissionReservation(advertisedProposals []wire.LinkProposalMessage, utilizations []wire.LinkUtilization) wire.Packet {
	header := &wire.SHHeader{SourceID: m.self}
	if m.cfg.AdvertiseNextSlot {
		if off, ok := m.NextBroadcastOffset(); ok {
			header.SlotOffset = uint32(off)
		}
	}

	kept := m.pendingRequests[:0]
	for _, pr := range m.pendingRequests {
		proposal, err := m.pp.GenerateRequestProposal(pr.Peer)
		if err != nil {
			kept = append(kept, pr)
			continue
		}
		header.Requests = append(header.Requests, wire.LinkRequest{
			DestID: pr.Peer, Proposal: proposal, GenerationTime: pr.GenTime,
		})
	}
	m.pendingRequests = kept

	if len(m.pendingReplies) > 0 {
		rep := m.pendingReplies[0]
		m.pendingReplies = m.pendingReplies[1:]
		header.Reply = &wire.LinkReply{DestID: rep.Peer, Proposal: rep.Proposal}
	}

	header.Proposals = advertisedProposals
	header.Utilizations = utilizations

	m.state = None
	return wire.Packet{Records: []wire.Record{{Kind: wire.KindSH, SH: header}}}
}

// State reports the current broadcast state-machine value, for tests and
// status dumps.
func (m *Manager) State() State { return m.state }
