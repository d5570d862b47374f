package pplink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/channel"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/config"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/dutycycle"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/reservation"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/slot"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/stats"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/upper"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"
)

type fakeSH struct {
	requests []wire.NodeID
	replies  map[wire.NodeID]wire.LinkProposal
	nextBc   slot.Offset
	hasBc    bool
}

func newFakeSH() *fakeSH { return &fakeSH{replies: make(map[wire.NodeID]wire.LinkProposal)} }

func (f *fakeSH) EnqueueRequest(peer wire.NodeID, genTime int64) { f.requests = append(f.requests, peer) }
func (f *fakeSH) EnqueueReply(peer wire.NodeID, proposal wire.LinkProposal) {
	f.replies[peer] = proposal
}
func (f *fakeSH) NextBroadcastOffset() (slot.Offset, bool) { return f.nextBc, f.hasBc }

type fakeUpper struct {
	upper.NopLayer
	moreData bool
	segments [][]byte
	received []wire.Packet
}

func (f *fakeUpper) RequestSegment(wire.NodeID, int) wire.Packet {
	if len(f.segments) == 0 {
		return wire.Packet{}
	}
	seg := f.segments[0]
	f.segments = f.segments[1:]
	return wire.Packet{Records: []wire.Record{{Kind: wire.KindPPUnicast, Payload: seg}}}
}

func (f *fakeUpper) IsThereMoreData(wire.NodeID) bool { return f.moreData }
func (f *fakeUpper) PassToUpper(p wire.Packet)        { f.received = append(f.received, p) }

func newTestPPManager(cfg config.Config, sh SHLinkHandler, up upper.Layer) (*Manager, *reservation.Manager, reservation.ID) {
	res := reservation.NewManager(slot.Horizon(64), 1, nil)
	shID := res.AddSHChannel(channel.Channel{Kind: channel.KindSH, CenterFreqKHz: 5000})
	res.AddPPChannel(channel.Channel{Kind: channel.KindPP, CenterFreqKHz: 5025})
	duty := dutycycle.New(cfg.DutyCyclePeriod, cfg.MaxDutyCycle, cfg.MinSupportedPPLinks, dutycycle.Static)
	st := stats.New()
	m := New(cfg, wire.NodeID(1), res, shID, duty, sh, up, func() int { return 8 }, st, nil)
	return m, res, shID
}

func TestManager_NotifyOutgoing_startsEstablishmentOnFirstData(t *testing.T) {
	cfg := config.Default()
	sh := newFakeSH()
	m, _, _ := newTestPPManager(cfg, sh, &fakeUpper{})

	peer := wire.NodeID(2)
	m.NotifyOutgoing(peer, 80)

	pl, ok := m.Peer(peer)
	require.True(t, ok)
	assert.Equal(t, AwaitingRequestGen, pl.Status)
	assert.Equal(t, []wire.NodeID{peer}, sh.requests)
}

func TestManager_NotifyOutgoing_doesNotReenqueueWhenAlreadyEstablishing(t *testing.T) {
	cfg := config.Default()
	sh := newFakeSH()
	m, _, _ := newTestPPManager(cfg, sh, &fakeUpper{})

	peer := wire.NodeID(2)
	m.NotifyOutgoing(peer, 80)
	m.NotifyOutgoing(peer, 80)
	assert.Len(t, sh.requests, 1)
}

func TestManager_GenerateRequestProposal_wrongStateErrors(t *testing.T) {
	cfg := config.Default()
	m, _, _ := newTestPPManager(cfg, newFakeSH(), &fakeUpper{})

	_, err := m.GenerateRequestProposal(wire.NodeID(2))
	assert.Error(t, err)
}

func TestManager_GenerateRequestProposal_success(t *testing.T) {
	cfg := config.Default()
	sh := newFakeSH()
	m, _, _ := newTestPPManager(cfg, sh, &fakeUpper{})

	peer := wire.NodeID(2)
	m.NotifyOutgoing(peer, 80)

	proposal, err := m.GenerateRequestProposal(peer)
	require.NoError(t, err)
	assert.EqualValues(t, 5025, proposal.CenterFreqKHz)

	pl, ok := m.Peer(peer)
	require.True(t, ok)
	assert.Equal(t, AwaitingReply, pl.Status)
	assert.True(t, pl.IsInitiator)
	assert.NotEmpty(t, pl.Locks)
}

func TestManager_GenerateRequestProposal_noChannelsErrors(t *testing.T) {
	cfg := config.Default()
	res := reservation.NewManager(slot.Horizon(64), 1, nil)
	shID := res.AddSHChannel(channel.Channel{Kind: channel.KindSH, CenterFreqKHz: 5000})
	duty := dutycycle.New(cfg.DutyCyclePeriod, cfg.MaxDutyCycle, cfg.MinSupportedPPLinks, dutycycle.Static)
	sh := newFakeSH()
	m := New(cfg, wire.NodeID(1), res, shID, duty, sh, &fakeUpper{}, func() int { return 8 }, stats.New(), nil)

	peer := wire.NodeID(2)
	m.NotifyOutgoing(peer, 80)

	_, err := m.GenerateRequestProposal(peer)
	assert.Error(t, err)
}

func TestManager_ValidateIncomingProposal_acceptsAndNormalizesOffset(t *testing.T) {
	cfg := config.Default()
	sh := newFakeSH()
	sh.hasBc = true
	sh.nextBc = 3
	m, _, _ := newTestPPManager(cfg, sh, &fakeUpper{})

	incoming := wire.LinkProposal{CenterFreqKHz: 5025, SlotOffset: 1, Period: 0, NumTxInitiator: 1, NumTxRecipient: 1}
	accepted, ok := m.ValidateIncomingProposal(wire.NodeID(2), incoming, 1)
	require.True(t, ok)
	assert.EqualValues(t, 5025, accepted.CenterFreqKHz)

	pl, ok := m.Peer(wire.NodeID(2))
	require.True(t, ok)
	assert.Equal(t, AwaitingDataTx, pl.Status)
	assert.False(t, pl.IsInitiator)
	// accepted.SlotOffset is the absolute start rebased onto our own next
	// broadcast slot (nextBc=3), not the raw start offset from "now".
	assert.Equal(t, pl.Proposal.SlotOffset-3, accepted.SlotOffset)
}

func TestManager_ValidateIncomingProposal_unknownChannelRejected(t *testing.T) {
	cfg := config.Default()
	sh := newFakeSH()
	m, _, _ := newTestPPManager(cfg, sh, &fakeUpper{})

	incoming := wire.LinkProposal{CenterFreqKHz: 9999, SlotOffset: 1}
	_, ok := m.ValidateIncomingProposal(wire.NodeID(2), incoming, 1)
	assert.False(t, ok)
}

func TestManager_AcceptReply_establishesLink(t *testing.T) {
	cfg := config.Default()
	sh := newFakeSH()
	m, res, shID := newTestPPManager(cfg, sh, &fakeUpper{})

	peer := wire.NodeID(2)
	m.NotifyOutgoing(peer, 80)
	proposal, err := m.GenerateRequestProposal(peer)
	require.NoError(t, err)

	require.NoError(t, m.AcceptReply(peer, proposal))

	pl, ok := m.Peer(peer)
	require.True(t, ok)
	assert.Equal(t, Established, pl.Status)
	assert.NotEmpty(t, pl.Scheduled.Tx)

	// locks on both the pp channel and sh table were released
	r, err := res.Table(shID).Get(slot.Offset(proposal.SlotOffset))
	require.NoError(t, err)
	assert.NotEqual(t, wire.Locked, r.Action)
}

func TestManager_AcceptReply_wrongStateErrors(t *testing.T) {
	cfg := config.Default()
	m, _, _ := newTestPPManager(cfg, newFakeSH(), &fakeUpper{})
	err := m.AcceptReply(wire.NodeID(2), wire.LinkProposal{})
	assert.Error(t, err)
}

func TestManager_DecrementTimeout_releasesExpiredLink(t *testing.T) {
	cfg := config.Default()
	sh := newFakeSH()
	m, _, _ := newTestPPManager(cfg, sh, &fakeUpper{})

	peer := wire.NodeID(2)
	m.NotifyOutgoing(peer, 80)
	proposal, err := m.GenerateRequestProposal(peer)
	require.NoError(t, err)
	require.NoError(t, m.AcceptReply(peer, proposal))

	pl, _ := m.Peer(peer)
	for i := 0; i < pl.TimeoutRemaining; i++ {
		m.DecrementTimeout(peer)
	}

	after, _ := m.Peer(peer)
	assert.Equal(t, Unestablished, after.Status)
}

func TestManager_DecrementTimeout_renewsInsteadOfReleasing(t *testing.T) {
	cfg := config.Default()
	sh := newFakeSH()
	m, _, _ := newTestPPManager(cfg, sh, &fakeUpper{})

	peer := wire.NodeID(2)
	m.NotifyOutgoing(peer, 80)
	proposal, err := m.GenerateRequestProposal(peer)
	require.NoError(t, err)
	require.NoError(t, m.AcceptReply(peer, proposal))

	pl := m.peers[peer]
	renewal := wire.LinkProposal{CenterFreqKHz: 5025, Period: 0}
	pl.RenewalPending = true
	pl.RenewalProposal = &renewal

	// pl is the live record, so read the bound once before decrementing
	for i, n := 0, pl.TimeoutRemaining; i < n; i++ {
		m.DecrementTimeout(peer)
	}

	after, _ := m.Peer(peer)
	assert.Equal(t, Established, after.Status, "a due renewal keeps the link established")
	assert.False(t, after.RenewalPending)
}

func TestManager_RequestRenewalIfDue(t *testing.T) {
	cfg := config.Default()
	sh := newFakeSH()
	up := &fakeUpper{moreData: true}
	m, _, _ := newTestPPManager(cfg, sh, up)

	peer := wire.NodeID(2)
	m.NotifyOutgoing(peer, 80)
	proposal, err := m.GenerateRequestProposal(peer)
	require.NoError(t, err)
	require.NoError(t, m.AcceptReply(peer, proposal))

	pl := m.peers[peer]
	pl.TimeoutRemaining = 1

	m.RequestRenewalIfDue(peer, 2)
	after, _ := m.Peer(peer)
	assert.True(t, after.RenewalPending)
	assert.Contains(t, sh.requests, peer)
}

func TestManager_RequestRenewalIfDue_skipsWithoutMoreData(t *testing.T) {
	cfg := config.Default()
	sh := newFakeSH()
	up := &fakeUpper{moreData: false}
	m, _, _ := newTestPPManager(cfg, sh, up)

	peer := wire.NodeID(2)
	m.NotifyOutgoing(peer, 80)
	proposal, err := m.GenerateRequestProposal(peer)
	require.NoError(t, err)
	require.NoError(t, m.AcceptReply(peer, proposal))

	pl := m.peers[peer]
	pl.TimeoutRemaining = 1

	m.RequestRenewalIfDue(peer, 2)
	after, _ := m.Peer(peer)
	assert.False(t, after.RenewalPending)
}

func TestManager_OnTransmissionReservation_pullsSegmentAndDecrementsTimeout(t *testing.T) {
	cfg := config.Default()
	sh := newFakeSH()
	up := &fakeUpper{segments: [][]byte{[]byte("hello")}}
	m, _, _ := newTestPPManager(cfg, sh, up)

	peer := wire.NodeID(2)
	m.NotifyOutgoing(peer, 80)
	proposal, err := m.GenerateRequestProposal(peer)
	require.NoError(t, err)
	require.NoError(t, m.AcceptReply(peer, proposal))

	before, _ := m.Peer(peer)
	pkt := m.OnTransmissionReservation(peer, 1)

	ppHeader, ok := pkt.FindPP()
	require.True(t, ok)
	assert.EqualValues(t, peer, ppHeader.DestID)

	after, _ := m.Peer(peer)
	assert.Equal(t, before.TimeoutRemaining-1, after.TimeoutRemaining)
}

func TestManager_ProcessIncoming_passesToUpper(t *testing.T) {
	cfg := config.Default()
	sh := newFakeSH()
	up := &fakeUpper{}
	m, _, _ := newTestPPManager(cfg, sh, up)

	peer := wire.NodeID(2)
	m.NotifyOutgoing(peer, 80)
	proposal, err := m.GenerateRequestProposal(peer)
	require.NoError(t, err)
	require.NoError(t, m.AcceptReply(peer, proposal))

	p := wire.Packet{Records: []wire.Record{{Kind: wire.KindPPUnicast, Payload: []byte("x")}}}
	m.ProcessIncoming(peer, p)
	assert.Len(t, up.received, 1)
}

func TestManager_TickCloseSlot_expiresUnansweredRequest(t *testing.T) {
	cfg := config.Default()
	sh := newFakeSH()
	m, _, _ := newTestPPManager(cfg, sh, &fakeUpper{})

	peer := wire.NodeID(2)
	m.NotifyOutgoing(peer, 80)
	_, err := m.GenerateRequestProposal(peer)
	require.NoError(t, err)

	pl := m.peers[peer]
	deadline := pl.RequestSentAt + int64(slot.PeriodSlots(pl.Proposal.Period))
	for i := int64(0); i <= deadline+1; i++ {
		m.TickCloseSlot()
	}

	after, _ := m.Peer(peer)
	assert.Equal(t, Unestablished, after.Status)
	assert.Equal(t, 1, after.AttemptCount)
}
