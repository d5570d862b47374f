// Package phy defines the downward interface contract toward the
// physical layer (spec §6) and the demo hardware adapters that implement
// it (SPEC_FULL §3 domain stack).
package phy

import "github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"

// Radio is implemented by whatever sits below the MAC. current_datarate
// bounds how many bits request_segment may ask the upper layer for in
// one slot.
type Radio interface {
	PassToLower(p wire.Packet, centerFreqKHz uint64) error
	TuneReceiver(centerFreqKHz uint64) error
	IsTransmitterIdle(offsetSlots int32, n int) bool
	IsAnyReceiverIdle(offsetSlots int32, n int) bool
	CurrentDatarateBitsPerSlot() int
}

// ReceiveFunc is how a Radio hands a received packet back up to the MAC
// core, mirroring receive_from_lower(packet, center_freq) (spec §6).
type ReceiveFunc func(p wire.Packet, centerFreqKHz uint64)
