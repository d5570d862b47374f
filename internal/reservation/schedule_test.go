package reservation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/channel"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/slot"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"
)

func TestScheduleBursts_overwritesBusyAdvertisedForSamePeer(t *testing.T) {
	m := newTestManager(20, 1)
	pp := m.AddPPChannel(channel.Channel{Kind: channel.KindPP, CenterFreqKHz: 5025})
	initiator, recipient := wire.NodeID(1), wire.NodeID(2)

	// offset 1 (the first forward burst) was already advertised as a
	// third party's plan for the recipient before this node commits.
	require.NoError(t, m.Mark(pp, 1, wire.Reservation{Target: recipient, Action: wire.Busy}))

	result, err := m.ScheduleBursts(pp, 1, 1, 1, 0, 2, initiator, recipient, true)
	require.NoError(t, err)
	assert.Contains(t, result.Tx, slot.Offset(1))

	r, err := m.Table(pp).Get(1)
	require.NoError(t, err)
	assert.Equal(t, wire.Tx, r.Action, "a Busy slot advertised for the same peer commits to the real action")
}

func TestScheduleBursts_commitsPreviouslyLockedSlot(t *testing.T) {
	m := newTestManager(20, 1)
	pp := m.AddPPChannel(channel.Channel{Kind: channel.KindPP, CenterFreqKHz: 5025})
	initiator, recipient := wire.NodeID(1), wire.NodeID(2)

	locked, err := m.LockBursts(pp, 1, 1, 1, 0, 2, recipient, true)
	require.NoError(t, err)
	require.NotEmpty(t, locked)

	result, err := m.ScheduleBursts(pp, 1, 1, 1, 0, 2, initiator, recipient, true)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Tx)
	assert.NotEmpty(t, result.Rx)
}

func TestScheduleBursts_skipsSlotBusyForOtherPeer(t *testing.T) {
	m := newTestManager(20, 1)
	pp := m.AddPPChannel(channel.Channel{Kind: channel.KindPP, CenterFreqKHz: 5025})
	initiator, recipient := wire.NodeID(1), wire.NodeID(2)
	other := wire.NodeID(99)

	require.NoError(t, m.Mark(pp, 1, wire.Reservation{Target: other, Action: wire.Busy}))

	result, err := m.ScheduleBursts(pp, 1, 1, 1, 0, 2, initiator, recipient, true)
	require.NoError(t, err, "the second exchange still provides candidates")
	assert.NotContains(t, result.Tx, slot.Offset(1))
}

func TestScheduleBursts_recipientPerspective(t *testing.T) {
	m := newTestManager(20, 1)
	pp := m.AddPPChannel(channel.Channel{Kind: channel.KindPP, CenterFreqKHz: 5025})
	initiator, recipient := wire.NodeID(1), wire.NodeID(2)

	// from the recipient's own Manager, isInitiator is false: the forward
	// half of the exchange is the recipient's RX, the reverse half is TX.
	result, err := m.ScheduleBursts(pp, 1, 1, 1, 0, 2, initiator, recipient, false)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Tx)
	assert.NotEmpty(t, result.Rx)

	r, err := m.Table(pp).Get(1)
	require.NoError(t, err)
	assert.Equal(t, wire.Rx, r.Action, "forward burst is RX from the recipient's perspective")
}
