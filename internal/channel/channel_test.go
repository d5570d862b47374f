package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_String(t *testing.T) {
	assert.Equal(t, "SH", KindSH.String())
	assert.Equal(t, "PP", KindPP.String())
}

func TestChannel_Equal(t *testing.T) {
	a := Channel{Kind: KindPP, CenterFreqKHz: 5000, BandwidthKHz: 25}
	b := Channel{Kind: KindPP, CenterFreqKHz: 5000, BandwidthKHz: 25, Blacklisted: true}
	c := Channel{Kind: KindPP, CenterFreqKHz: 5025, BandwidthKHz: 25}

	assert.True(t, a.Equal(b), "Blacklisted must not affect equality")
	assert.False(t, a.Equal(c))
}

func TestLess(t *testing.T) {
	a := Channel{CenterFreqKHz: 5000}
	b := Channel{CenterFreqKHz: 5025}

	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
	assert.False(t, Less(a, a))
}
