// Package slot holds the slot-offset arithmetic shared by every MCSOTDMA
// component: offsets are always relative to "now" (offset 0), bounded by
// a planning horizon H, positive into the future and negative into the
// past.
package slot

import "github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/macerr"

// Offset is a signed slot offset relative to the current slot.
type Offset int32

// Horizon bounds valid offsets to [-H, +H].
type Horizon int32

// Validate returns macerr.ErrOutOfHorizon if off falls outside [-h, +h].
func (h Horizon) Validate(off Offset) error {
	if off < Offset(-h) || off > Offset(h) {
		return macerr.ErrOutOfHorizon
	}
	return nil
}

// Width returns the number of slots spanned by the ring: 2H+1.
func (h Horizon) Width() int {
	return 2*int(h) + 1
}

// Index maps a slot offset to its position in a ring of Width() slots
// centered on "now". It does not validate the offset against the horizon.
func (h Horizon) Index(off Offset) int {
	w := h.Width()
	idx := (int(off) + int(h)) % w
	if idx < 0 {
		idx += w
	}
	return idx
}

// PeriodSlots returns the inter-burst spacing encoded by a link-proposal
// period n: 5*2^n slots (spec §3, Link proposal).
func PeriodSlots(n uint8) int64 {
	return 5 * (int64(1) << n)
}
