package wire

import "github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/geoutil"

// HeaderKind tags which concrete header type a Record carries (spec §6).
type HeaderKind uint8

const (
	KindBase HeaderKind = iota
	KindSH
	KindPPUnicast
	KindBeacon
)

// BaseHeader is required on every packet (spec §6).
type BaseHeader struct {
	SourceID        NodeID
	Position        geoutil.Position
	HopsToGroundStn uint8
}

// SHHeader carries control traffic on the shared channel (spec §6).
// SlotOffset is the sender's own next-broadcast advertisement; 0 means
// unset.
type SHHeader struct {
	SourceID    NodeID
	SlotOffset  uint32
	Requests    []LinkRequest
	Reply       *LinkReply
	Proposals   []LinkProposalMessage
	Utilizations []LinkUtilization
}

// PPHeader is a point-to-point unicast data header (spec §6).
type PPHeader struct {
	DestID  NodeID
	SeqNum  uint32
}

// BeaconHeader is the optional beacon payload (spec §6, SPEC_FULL §4):
// position, CPR parity, congestion level, and an encoded reservation
// plan summary.
type BeaconHeader struct {
	SourceID        NodeID
	Position        geoutil.Position
	CPRParityOdd    bool
	CongestionLevel uint8
	PlanSummary     []LinkUtilization
}

// Record pairs one header with its payload bytes. A packet is an ordered
// list of such records (spec §6).
type Record struct {
	Kind    HeaderKind
	Base    *BaseHeader
	SH      *SHHeader
	PP      *PPHeader
	Beacon  *BeaconHeader
	Payload []byte
}

// Packet is the wire format's top-level unit: an ordered list of
// (header, payload) records (spec §6).
type Packet struct {
	Records []Record
}

// FindBase returns the packet's Base header, if present.
func (p Packet) FindBase() (*BaseHeader, bool) {
	for _, r := range p.Records {
		if r.Kind == KindBase && r.Base != nil {
			return r.Base, true
		}
	}
	return nil, false
}

// FindSH returns the packet's SH header, if present.
func (p Packet) FindSH() (*SHHeader, bool) {
	for _, r := range p.Records {
		if r.Kind == KindSH && r.SH != nil {
			return r.SH, true
		}
	}
	return nil, false
}

// FindPP returns the packet's PP unicast header, if present.
func (p Packet) FindPP() (*PPHeader, bool) {
	for _, r := range p.Records {
		if r.Kind == KindPPUnicast && r.PP != nil {
			return r.PP, true
		}
	}
	return nil, false
}

// FindBeacon returns the packet's Beacon header, if present.
func (p Packet) FindBeacon() (*BeaconHeader, bool) {
	for _, r := range p.Records {
		if r.Kind == KindBeacon && r.Beacon != nil {
			return r.Beacon, true
		}
	}
	return nil, false
}
