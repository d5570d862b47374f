package slot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/macerr"
)

func TestHorizon_Validate(t *testing.T) {
	h := Horizon(10)

	assert.NoError(t, h.Validate(0))
	assert.NoError(t, h.Validate(10))
	assert.NoError(t, h.Validate(-10))
	assert.ErrorIs(t, h.Validate(11), macerr.ErrOutOfHorizon)
	assert.ErrorIs(t, h.Validate(-11), macerr.ErrOutOfHorizon)
}

func TestHorizon_Width(t *testing.T) {
	assert.Equal(t, 21, Horizon(10).Width())
	assert.Equal(t, 1, Horizon(0).Width())
}

func TestHorizon_Index(t *testing.T) {
	h := Horizon(2)
	// width is 5: offsets -2..2 map onto 0..4
	assert.Equal(t, 0, h.Index(-2))
	assert.Equal(t, 2, h.Index(0))
	assert.Equal(t, 4, h.Index(2))
}

func TestHorizon_Index_stableForValidOffsets(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := Horizon(rapid.Int32Range(1, 200).Draw(t, "h"))
		off := Offset(rapid.Int32Range(int32(-h), int32(h)).Draw(t, "off"))

		idx := h.Index(off)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, h.Width())
	})
}

func TestPeriodSlots(t *testing.T) {
	assert.Equal(t, int64(5), PeriodSlots(0))
	assert.Equal(t, int64(10), PeriodSlots(1))
	assert.Equal(t, int64(40), PeriodSlots(3))
}
