// Package upper defines the contract between the MAC core and the
// collaborator above it (ARQ/RLC/NET), named but left unimplemented by
// spec §6 ("OUT OF SCOPE and treated as external collaborators").
package upper

import "github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/wire"

// Layer is implemented by whatever sits above the MAC. The core calls it
// from within a slot's execute() phase, never across a suspension point
// (spec §5: "there are no suspension points inside MAC logic").
type Layer interface {
	// NotifyOutgoing reports that numBits of new data are available for
	// peer, prompting link establishment if none exists yet.
	NotifyOutgoing(peer wire.NodeID, numBits int)

	// RequestSegment is called just-in-time when a TX reservation fires;
	// it must return a packet sized to fit within one slot's datarate.
	RequestSegment(peer wire.NodeID, numBits int) wire.Packet

	// IsThereMoreData is queried before scheduling a renewal, to decide
	// whether a link is worth extending.
	IsThereMoreData(peer wire.NodeID) bool

	// InjectIntoUpper re-dispatches a control packet the MAC produced for
	// itself (e.g. a forwarded third-party message) back through the
	// upper layer's own processing.
	InjectIntoUpper(p wire.Packet)

	// PassToUpper delivers a received data packet.
	PassToUpper(p wire.Packet)
}

// NopLayer implements Layer with no-ops, for components under test that
// do not exercise the upward interface.
type NopLayer struct{}

func (NopLayer) NotifyOutgoing(wire.NodeID, int)          {}
func (NopLayer) RequestSegment(wire.NodeID, int) wire.Packet { return wire.Packet{} }
func (NopLayer) IsThereMoreData(wire.NodeID) bool         { return false }
func (NopLayer) InjectIntoUpper(wire.Packet)              {}
func (NopLayer) PassToUpper(wire.Packet)                  {}
