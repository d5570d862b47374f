// Package pplink implements the point-to-point link manager (spec §4.6,
// C6): one per-peer state machine driving establishment, data bursts,
// renewal and expiry of a bidirectional unicast link.
package pplink

import (
	"math"

	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/avg"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/config"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/dutycycle"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/macerr"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/reservation"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/slot"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/stats"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/trace"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/upper"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"
)

// Status is the per-peer PP link state (spec §3).
type Status uint8

const (
	Unestablished Status = iota
	AwaitingRequestGen
	AwaitingReply
	AwaitingDataTx
	Established
)

func (s Status) String() string {
	switch s {
	case Unestablished:
		return "Unestablished"
	case AwaitingRequestGen:
		return "AwaitingRequestGen"
	case AwaitingReply:
		return "AwaitingReply"
	case AwaitingDataTx:
		return "AwaitingDataTx"
	case Established:
		return "Established"
	default:
		return "Unknown"
	}
}

// PeerLink is the state spec §3 ("PP link state (per peer)") describes.
type PeerLink struct {
	Peer        wire.NodeID
	Status      Status
	IsInitiator bool

	ChannelID reservation.ID
	Proposal  wire.LinkProposal

	// Locks holds every offset locked during generation/acceptance, not
	// yet committed to a scheduled action; released atomically on
	// reply/timeout (spec §4.6).
	Locks []slot.Offset

	Scheduled reservation.ScheduledOffsets

	FwdBursts, RevBursts int
	Timeout              int
	TimeoutRemaining     int

	OutgoingAvg *avg.Window

	RequestSentAt int64
	AttemptCount  int

	RenewalPending  bool
	RenewalProposal *wire.LinkProposal
}

// SHLinkHandler is what the PP link manager needs from the SH link
// manager (spec §4.6): queueing outgoing requests/replies and knowing
// when this node's own next broadcast is, to normalize reply proposals.
type SHLinkHandler interface {
	EnqueueRequest(peer wire.NodeID, genTime int64)
	EnqueueReply(peer wire.NodeID, proposal wire.LinkProposal)
	NextBroadcastOffset() (slot.Offset, bool)
}

// Manager owns every peer's PeerLink state (spec §4.6, C6).
type Manager struct {
	cfg       config.Config
	self      wire.NodeID
	res       *reservation.Manager
	shID      reservation.ID
	duty      *dutycycle.Allocator
	sh        SHLinkHandler
	upperLink upper.Layer
	datarate  func() int
	stats     *stats.Counters
	tracer    *trace.Tracer

	peers       map[wire.NodeID]*PeerLink
	currentSlot int64
}

// New creates a PP link manager. datarate returns the current downward
// bits-per-slot rate (spec §6, current_datarate). sh may be nil at
// construction time and filled in later with SetSHLinkHandler — C5 and
// C6 each need a handler interface onto the other, so one of the two
// wirings must happen after both managers exist (cmd/mac-node and
// cmd/mac-tnc do so immediately after constructing both).
func New(cfg config.Config, self wire.NodeID, res *reservation.Manager, shID reservation.ID, duty *dutycycle.Allocator, sh SHLinkHandler, upperLink upper.Layer, datarate func() int, st *stats.Counters, tracer *trace.Tracer) *Manager {
	return &Manager{
		cfg: cfg, self: self, res: res, shID: shID, duty: duty,
		sh: sh, upperLink: upperLink, datarate: datarate, stats: st, tracer: tracer,
		peers: make(map[wire.NodeID]*PeerLink),
	}
}

// SetSHLinkHandler completes the C5<->C6 wiring for callers that must
// construct the PP link manager before the SH link manager exists.
func (m *Manager) SetSHLinkHandler(sh SHLinkHandler) { m.sh = sh }

func (m *Manager) peer(id wire.NodeID) *PeerLink {
	pl, ok := m.peers[id]
	if !ok {
		pl = &PeerLink{Peer: id, OutgoingAvg: avg.NewWindow(64)}
		m.peers[id] = pl
	}
	return pl
}

// Peer returns the peer's current state, for tests and status dumps.
func (m *Manager) Peer(id wire.NodeID) (PeerLink, bool) {
	pl, ok := m.peers[id]
	if !ok {
		return PeerLink{}, false
	}
	return *pl, true
}

// NotifyOutgoing implements upper.Layer's notify_outgoing contract as
// seen from below: new data for peer should trigger establishment if
// none exists (spec §3, "PP link states are created on first outgoing
// data to a peer").
func (m *Manager) NotifyOutgoing(peer wire.NodeID, numBits int) {
	pl := m.peer(peer)
	pl.OutgoingAvg.Put(float64(numBits))
	if pl.Status == Unestablished {
		pl.Status = AwaitingRequestGen
		pl.RequestSentAt = m.currentSlot
		m.sh.EnqueueRequest(peer, m.currentSlot)
	}
}

// BeginEstablishment implements shlink.PPLinkHandler: (re)start
// establishment toward peer from scratch, e.g. after our own request to
// them was rejected (spec §4.5).
func (m *Manager) BeginEstablishment(peer wire.NodeID) {
	pl := m.peer(peer)
	if pl.Status != Unestablished {
		return
	}
	pl.Status = AwaitingRequestGen
	pl.RequestSentAt = m.currentSlot
	m.sh.EnqueueRequest(peer, m.currentSlot)
}

func (m *Manager) splitBurst(pl *PeerLink) (fwd, rev int) {
	datarate := 1
	if m.datarate != nil {
		if d := m.datarate(); d > 0 {
			datarate = d
		}
	}
	est := pl.OutgoingAvg.Get()
	n := int(math.Ceil(est / float64(datarate)))
	if n < 1 {
		n = 1
	}
	fwd = n
	rev = 1
	if m.cfg.ForceBidirectionalLinks && rev < n {
		rev = n
	}
	return fwd, rev
}

func (m *Manager) periodFor() (uint8, error) {
	if m.cfg.ForcePPPeriod != nil {
		return *m.cfg.ForcePPPeriod, nil
	}
	period, _, err := m.duty.NewLinkPeriod(m.currentPPUsages())
	return period, err
}

// CurrentPPUsages reports every Established link's duty-cycle usage, for
// the duty-cycle allocator's budget calculations (spec §4.3).
func (m *Manager) CurrentPPUsages() []dutycycle.PPUsage {
	return m.currentPPUsages()
}

// PendingInitiatorProposals returns up to limit proposals this node has
// offered as initiator and is still awaiting a reply for, suitable for
// advertisement in an SH header (spec §4.5: "Up to N_proposals advertised
// link proposals, for peers to potentially adopt").
func (m *Manager) PendingInitiatorProposals(limit int) []wire.LinkProposal {
	var out []wire.LinkProposal
	for _, pl := range m.peers {
		if len(out) >= limit {
			break
		}
		if pl.Status == AwaitingReply && pl.IsInitiator {
			out = append(out, pl.Proposal)
		}
	}
	return out
}

// ActiveUtilizations summarizes every Established link's upcoming TX
// schedule (spec §4.5: "a summary of currently-utilized PP links").
func (m *Manager) ActiveUtilizations() []wire.LinkUtilization {
	var out []wire.LinkUtilization
	for peer, pl := range m.peers {
		if pl.Status != Established {
			continue
		}
		offsets := m.res.Table(pl.ChannelID).TxReservationsCopy(peer)
		ints := make([]int32, len(offsets))
		for i, off := range offsets {
			ints[i] = int32(off)
		}
		out = append(out, wire.LinkUtilization{Peer: peer, UpcomingTxOffsets: ints})
	}
	return out
}

func (m *Manager) currentPPUsages() []dutycycle.PPUsage {
	var out []dutycycle.PPUsage
	for _, pl := range m.peers {
		if pl.Status != Established {
			continue
		}
		spacing := slot.PeriodSlots(pl.Proposal.Period)
		used := float64(pl.FwdBursts+pl.RevBursts) / float64(2*spacing)
		out = append(out, dutycycle.PPUsage{
			Used:           used,
			ExpiresInSlots: int64(pl.TimeoutRemaining) * spacing * 2,
		})
	}
	return out
}

func (m *Manager) findChannelByFreq(freqKHz uint64) (reservation.ID, bool) {
	for _, id := range m.res.PPTables() {
		if m.res.Table(id).Channel().CenterFreqKHz == freqKHz {
			return id, true
		}
	}
	return reservation.None, false
}

// GenerateRequestProposal implements shlink.PPLinkHandler (spec §4.6
// "Proposal generation (initiator)"). Channels are tried in
// idleness-sorted order, stopping at the first that yields a feasible
// schedule (spec §4.1: "up to C candidate channels... find up to S
// feasible start offsets").
func (m *Manager) GenerateRequestProposal(peer wire.NodeID) (wire.LinkProposal, error) {
	pl := m.peer(peer)
	if pl.Status != AwaitingRequestGen && !pl.RenewalPending {
		return wire.LinkProposal{}, macerr.ErrUnexpectedState
	}

	period, err := m.periodFor()
	if err != nil {
		return wire.LinkProposal{}, err
	}
	fwd, rev := m.splitBurst(pl)

	channels := m.res.GetSortedPPTables()
	if m.cfg.NumProposedChannels > 0 && len(channels) > m.cfg.NumProposedChannels {
		channels = channels[:m.cfg.NumProposedChannels]
	}
	if len(channels) == 0 {
		return wire.LinkProposal{}, macerr.ErrNoCandidates
	}

	start := slot.Offset(m.cfg.MinOffsetToAllowProc) + 1

	for _, chID := range channels {
		starts := m.res.FindPPCandidates(chID, m.cfg.NumProposedSlots, start, fwd, rev, period, m.cfg.DefaultPPTimeout, true)
		if len(starts) == 0 {
			continue
		}
		chosen := starts[0]
		locked, err := m.res.LockBursts(chID, chosen, fwd, rev, period, m.cfg.DefaultPPTimeout, peer, true)
		if err != nil {
			continue
		}
		if err := m.res.Table(m.shID).Lock(chosen, peer); err != nil {
			m.res.UnlockOffsets(chID, locked, peer)
			continue
		}
		locked = append(locked, chosen)

		ch := m.res.Table(chID).Channel()
		pl.Status = AwaitingReply
		pl.IsInitiator = true
		pl.ChannelID = chID
		pl.Locks = locked
		pl.FwdBursts, pl.RevBursts, pl.Timeout = fwd, rev, m.cfg.DefaultPPTimeout
		pl.RequestSentAt = m.currentSlot
		pl.Proposal = wire.LinkProposal{
			CenterFreqKHz:  ch.CenterFreqKHz,
			SlotOffset:     int32(chosen),
			Period:         period,
			NumTxInitiator: uint8(fwd),
			NumTxRecipient: uint8(rev),
		}
		if m.tracer != nil {
			m.tracer.Debugf("pplink", "generated request for %d on ch=%d start=+%d period=%d", peer, ch.CenterFreqKHz, chosen, period)
		}
		return pl.Proposal, nil
	}
	return wire.LinkProposal{}, macerr.ErrNoCandidates
}

// ValidateIncomingProposal implements shlink.PPLinkHandler (spec §4.6
// "Proposal acceptance (responder)"). The accepted proposal returned is
// already normalized to the reply's own broadcast slot.
func (m *Manager) ValidateIncomingProposal(peer wire.NodeID, proposal wire.LinkProposal, replyOffset slot.Offset) (wire.LinkProposal, bool) {
	chID, ok := m.findChannelByFreq(proposal.CenterFreqKHz)
	if !ok {
		m.stats.RequestsRejectedProposal.Add(1)
		return wire.LinkProposal{}, false
	}
	fwd := int(proposal.NumTxInitiator)
	rev := int(proposal.NumTxRecipient)
	timeout := m.cfg.DefaultPPTimeout

	minStart := replyOffset + 1
	starts := m.res.FindPPCandidates(chID, 1, minStart, fwd, rev, proposal.Period, timeout, false)
	if len(starts) == 0 {
		m.stats.RequestsRejectedProposal.Add(1)
		return wire.LinkProposal{}, false
	}
	if _, _, err := m.duty.NewLinkPeriod(m.currentPPUsages()); err != nil {
		m.stats.RequestsRejectedProposal.Add(1)
		return wire.LinkProposal{}, false
	}

	start := starts[0]
	locked, err := m.res.LockBursts(chID, start, fwd, rev, proposal.Period, timeout, peer, false)
	if err != nil {
		m.stats.RequestsRejectedProposal.Add(1)
		return wire.LinkProposal{}, false
	}

	pl := m.peer(peer)
	pl.Status = AwaitingDataTx
	pl.IsInitiator = false
	pl.ChannelID = chID
	pl.Locks = locked
	pl.FwdBursts, pl.RevBursts, pl.Timeout = fwd, rev, timeout

	accepted := wire.LinkProposal{
		CenterFreqKHz:  proposal.CenterFreqKHz,
		SlotOffset:     int32(start),
		Period:         proposal.Period,
		NumTxInitiator: proposal.NumTxInitiator,
		NumTxRecipient: proposal.NumTxRecipient,
	}
	pl.Proposal = accepted

	replyAt, _ := m.sh.NextBroadcastOffset()
	if m.tracer != nil {
		m.tracer.Debugf("pplink", "accepted proposal from %d on ch=%d start=+%d", peer, chID, start)
	}
	return accepted.NormalizedTo(int32(replyAt)), true
}

// AcceptReply implements shlink.PPLinkHandler (spec §4.6 "Commit", the
// initiator path): an awaited reply arrived, commit the schedule.
func (m *Manager) AcceptReply(peer wire.NodeID, proposal wire.LinkProposal) error {
	pl, ok := m.peers[peer]
	if !ok || pl.Status != AwaitingReply {
		return macerr.ErrUnexpectedState
	}

	// proposal.SlotOffset is relative to the sender's own broadcast slot
	// (spec §4.6); rebase it onto "now" using that broadcast's already
	// known absolute offset — in this synchronous single-clock model the
	// sender's broadcast fires this same slot, so no further shift is
	// required beyond the field's own value.
	start := slot.Offset(proposal.SlotOffset)

	scheduled, err := m.res.ScheduleBursts(pl.ChannelID, start, pl.FwdBursts, pl.RevBursts, proposal.Period, pl.Timeout, m.self, peer, true)
	if err != nil {
		m.res.UnlockOffsets(pl.ChannelID, pl.Locks, peer)
		m.res.UnlockOffsets(m.shID, pl.Locks, peer)
		pl.Status = Unestablished
		pl.AttemptCount++
		m.stats.PPCollisions.Add(1)
		return err
	}

	m.res.UnlockOffsets(pl.ChannelID, pl.Locks, peer)
	m.res.UnlockOffsets(m.shID, pl.Locks, peer)

	pl.Scheduled = scheduled
	pl.Proposal = proposal
	pl.TimeoutRemaining = pl.Timeout
	pl.Status = Established
	m.stats.RecordEstablishLatency(m.currentSlot - pl.RequestSentAt)
	if m.tracer != nil {
		m.tracer.Debugf("pplink", "established link to %d, tx=%d rx=%d", peer, len(scheduled.Tx), len(scheduled.Rx))
	}
	return nil
}

// OnFirstBurst implements the responder side of commit (spec §4.6): call
// when the first scheduled TX or RX of an AwaitingDataTx link actually
// fires.
func (m *Manager) OnFirstBurst(peer wire.NodeID) error {
	pl, ok := m.peers[peer]
	if !ok || pl.Status != AwaitingDataTx {
		return nil
	}
	start := slot.Offset(pl.Proposal.SlotOffset)
	scheduled, err := m.res.ScheduleBursts(pl.ChannelID, start, pl.FwdBursts, pl.RevBursts, pl.Proposal.Period, pl.Timeout, peer, m.self, false)
	if err != nil {
		m.res.UnlockOffsets(pl.ChannelID, pl.Locks, peer)
		pl.Status = Unestablished
		m.stats.PPCollisions.Add(1)
		return err
	}
	m.res.UnlockOffsets(pl.ChannelID, pl.Locks, peer)
	pl.Scheduled = scheduled
	pl.TimeoutRemaining = pl.Timeout
	pl.Status = Established
	return nil
}

// DecrementTimeout implements timeout accounting (spec §4.6): call once
// per slot a TX or RX burst of this link fires, never more than once per
// slot.
func (m *Manager) DecrementTimeout(peer wire.NodeID) {
	pl, ok := m.peers[peer]
	if !ok || pl.Status != Established || pl.TimeoutRemaining <= 0 {
		return
	}
	pl.TimeoutRemaining--
	if pl.TimeoutRemaining > 0 {
		return
	}
	if pl.RenewalPending && pl.RenewalProposal != nil {
		pl.ChannelID, _ = m.findChannelByFreq(pl.RenewalProposal.CenterFreqKHz)
		pl.Proposal = *pl.RenewalProposal
		pl.TimeoutRemaining = pl.Timeout
		pl.RenewalPending = false
		pl.RenewalProposal = nil
		if m.tracer != nil {
			m.tracer.Debugf("pplink", "renewed link to %d", peer)
		}
		return
	}
	m.releaseLink(pl)
}

func (m *Manager) releaseLink(pl *PeerLink) {
	for _, off := range pl.Scheduled.Tx {
		m.res.Mark(pl.ChannelID, off, wire.IdleReservation)
	}
	for _, off := range pl.Scheduled.Rx {
		m.res.Mark(pl.ChannelID, off, wire.IdleReservation)
	}
	pl.Scheduled = reservation.ScheduledOffsets{}
	pl.Status = Unestablished
	if m.tracer != nil {
		m.tracer.Debugf("pplink", "link to %d expired, released", pl.Peer)
	}
}

// RequestRenewalIfDue piggybacks a renewal request on a data burst
// during the last few scheduled exchanges of an established link (spec
// §4.6 "Renewal").
func (m *Manager) RequestRenewalIfDue(peer wire.NodeID, maxRenewalRequests int) {
	pl, ok := m.peers[peer]
	if !ok || pl.Status != Established || pl.RenewalPending {
		return
	}
	if pl.TimeoutRemaining > maxRenewalRequests {
		return
	}
	if !m.upperLink.IsThereMoreData(peer) {
		return
	}
	pl.RenewalPending = true
	m.sh.EnqueueRequest(peer, m.currentSlot)
}

// OnTransmissionReservation is called by the MAC core when this peer's
// scheduled TX slot fires (spec §4.8): pull a segment from upper, wrap it
// in a PP header, and account for the burst against the link timeout.
func (m *Manager) OnTransmissionReservation(peer wire.NodeID, seqNum uint32) wire.Packet {
	pl := m.peer(peer)
	bits := 0
	if m.datarate != nil {
		bits = m.datarate()
	}
	pkt := m.upperLink.RequestSegment(peer, bits)
	pkt.Records = append(pkt.Records, wire.Record{Kind: wire.KindPPUnicast, PP: &wire.PPHeader{DestID: peer, SeqNum: seqNum}})
	if pl.Status == AwaitingDataTx {
		m.OnFirstBurst(peer)
	}
	m.DecrementTimeout(peer)
	return pkt
}

// ProcessIncoming handles a received PP unicast packet (spec §4.8).
func (m *Manager) ProcessIncoming(sender wire.NodeID, p wire.Packet) {
	pl := m.peer(sender)
	if pl.Status == AwaitingDataTx {
		m.OnFirstBurst(sender)
	}
	m.DecrementTimeout(sender)
	m.upperLink.PassToUpper(p)
}

// TickCloseSlot implements the per-slot hook (spec §5): here, expiring a
// request whose reply never arrived (spec §4.6 failure semantics).
func (m *Manager) TickCloseSlot() {
	m.currentSlot++
	for peer, pl := range m.peers {
		if pl.Status != AwaitingReply {
			continue
		}
		replyDeadline := pl.RequestSentAt + int64(slot.PeriodSlots(pl.Proposal.Period))
		if m.currentSlot > replyDeadline {
			m.res.UnlockOffsets(pl.ChannelID, pl.Locks, peer)
			m.res.UnlockOffsets(m.shID, pl.Locks, peer)
			pl.Status = Unestablished
			pl.AttemptCount++
			if m.stats != nil {
				if pl.AttemptCount >= m.cfg.MaxLinkRenewalAttempts {
					m.stats.EstablishAttemptsGiven.Add(1)
				}
			}
			if m.tracer != nil {
				m.tracer.Warnf("pplink", "reply from %d never arrived, attempt=%d", peer, pl.AttemptCount)
			}
		}
	}
}

// CurrentSlot returns the manager's own absolute slot counter.
func (m *Manager) CurrentSlot() int64 { return m.currentSlot }
