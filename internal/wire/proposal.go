package wire

import (
	"encoding/binary"
	"fmt"
)

// LinkProposal describes a candidate (or accepted) PP link schedule
// (spec §3, §6). Period n encodes an inter-burst spacing of 5*2^n slots.
type LinkProposal struct {
	CenterFreqKHz   uint64
	SlotOffset      int32
	Period          uint8
	NumTxInitiator  uint8
	NumTxRecipient  uint8
}

// proposalWireLen is the fixed encoded length of a LinkProposal: 8 (freq)
// + 4 (offset) + 1 + 1 + 1 bytes.
const proposalWireLen = 8 + 4 + 1 + 1 + 1

// Marshal encodes the proposal into a fixed-length byte slice. Used both
// for the header's binary form and to prove round-trip identity (spec
// §8, R1).
func (p LinkProposal) Marshal() []byte {
	buf := make([]byte, proposalWireLen)
	binary.BigEndian.PutUint64(buf[0:8], p.CenterFreqKHz)
	binary.BigEndian.PutUint32(buf[8:12], uint32(p.SlotOffset))
	buf[12] = p.Period
	buf[13] = p.NumTxInitiator
	buf[14] = p.NumTxRecipient
	return buf
}

// UnmarshalProposal is the inverse of Marshal.
func UnmarshalProposal(buf []byte) (LinkProposal, error) {
	if len(buf) < proposalWireLen {
		return LinkProposal{}, fmt.Errorf("wire: short link proposal buffer: %d bytes", len(buf))
	}
	return LinkProposal{
		CenterFreqKHz:  binary.BigEndian.Uint64(buf[0:8]),
		SlotOffset:     int32(binary.BigEndian.Uint32(buf[8:12])),
		Period:         buf[12],
		NumTxInitiator: buf[13],
		NumTxRecipient: buf[14],
	}, nil
}

// NormalizedTo returns a copy of the proposal whose SlotOffset is
// rebased from "now" to be relative to a reply's own broadcast slot, per
// spec §4.6 ("Attach the accepted proposal (normalized so that
// slot_offset is counted from the reply's broadcast slot, not from
// 'now')").
func (p LinkProposal) NormalizedTo(replyOffset int32) LinkProposal {
	cp := p
	cp.SlotOffset = p.SlotOffset - replyOffset
	return cp
}

// LinkRequest is a request for a new or renewed PP link (spec §6).
type LinkRequest struct {
	DestID         NodeID
	Proposal       LinkProposal
	GenerationTime int64
}

// LinkReply accepts a previously-requested link (spec §6).
type LinkReply struct {
	DestID   NodeID
	Proposal LinkProposal
}

// LinkProposalMessage advertises a proposal neighbors may adopt (spec §6).
type LinkProposalMessage struct {
	Proposal LinkProposal
}

// LinkUtilization summarizes a currently-utilized PP link, attached to SH
// headers as the "summary of currently-utilized PP links" (spec §4.5)
// and doubling as the supplemented link-info fallback (SPEC_FULL §4).
type LinkUtilization struct {
	Peer          NodeID
	UpcomingTxOffsets []int32
}
