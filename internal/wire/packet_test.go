package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPacket_FindBase(t *testing.T) {
	p := Packet{Records: []Record{
		{Kind: KindBase, Base: &BaseHeader{SourceID: 7}},
		{Kind: KindSH, SH: &SHHeader{SourceID: 7}},
	}}

	base, ok := p.FindBase()
	assert.True(t, ok)
	assert.Equal(t, NodeID(7), base.SourceID)

	sh, ok := p.FindSH()
	assert.True(t, ok)
	assert.Equal(t, NodeID(7), sh.SourceID)

	_, ok = p.FindPP()
	assert.False(t, ok)
	_, ok = p.FindBeacon()
	assert.False(t, ok)
}

func TestPacket_Find_ignoresKindWithoutPointer(t *testing.T) {
	// A record carrying a Kind tag but no corresponding header pointer
	// (e.g. a bare payload record the PP link manager appends its real
	// header to) must not be mistaken for a populated header.
	p := Packet{Records: []Record{
		{Kind: KindPPUnicast, Payload: []byte("hello")},
		{Kind: KindPPUnicast, PP: &PPHeader{DestID: 3, SeqNum: 1}},
	}}

	pp, ok := p.FindPP()
	assert.True(t, ok)
	assert.Equal(t, NodeID(3), pp.DestID)
}

func TestPacket_FindOnEmptyPacket(t *testing.T) {
	var p Packet
	_, ok := p.FindBase()
	assert.False(t, ok)
}
