// Package dutycycle implements the duty-cycle budget allocator (spec
// §4.3, C3): it tracks a moving average of this node's own transmissions
// and computes the minimum permissible inter-burst period and SH access
// offset.
package dutycycle

import (
	"math"

	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/avg"
	"github.com/ComNetsHH/ldacs-mcsotdma-sub001/internal/macerr"
)

// Strategy selects the allocation policy (spec §4.3).
type Strategy uint8

const (
	Static Strategy = iota
	Dynamic
)

// PPUsage reports a currently-active PP link's share of the duty cycle
// and, for the dynamic strategy, when it next frees budget.
type PPUsage struct {
	Used          float64 // fraction of slots this link transmits on
	ExpiresInSlots int64   // timeout remaining, in exchanges-worth of slots; <=0 if unknown
}

// Allocator tracks this node's transmit duty cycle and grants PP-link
// periods and SH offsets against a budget ceiling (spec §4.3).
type Allocator struct {
	window   *avg.Window
	strategy Strategy
	dMax     float64
	k        int // minimum supported concurrent PP links
}

// New creates an Allocator with a window of windowSlots slots, a ceiling
// of dMax (0,1], and minimum supported concurrent link count k.
func New(windowSlots int, dMax float64, k int, strategy Strategy) *Allocator {
	return &Allocator{
		window:   avg.NewWindow(windowSlots),
		strategy: strategy,
		dMax:     dMax,
		k:        k,
	}
}

// RecordSlot must be called exactly once per slot with whether this node
// transmitted in it, closing the moving-average window (spec §5: "Moving
// average samples are closed exactly once per slot").
func (a *Allocator) RecordSlot(transmitted bool) {
	if transmitted {
		a.window.Put(1)
	}
	a.window.TickCloseSlot()
}

// CurrentDutyCycle returns the moving average of transmissions per slot.
func (a *Allocator) CurrentDutyCycle() float64 {
	return a.window.Get()
}

// sh budget per spec §4.3: "the SH receives d_max/(k+1) of the budget"
// under the static strategy; the same share is also used as the
// per-PP-link share.
func (a *Allocator) staticShare() float64 {
	return a.dMax / float64(a.k+1)
}

// GetSHBudget returns the duty-cycle budget fraction granted to the SH
// channel.
func (a *Allocator) GetSHBudget(ppUsages []PPUsage) (float64, error) {
	switch a.strategy {
	case Static:
		return a.staticShare(), nil
	case Dynamic:
		return a.dynamicRemaining(ppUsages), nil
	default:
		return 0, macerr.ErrNoBudgetLeft
	}
}

// GetSHOffset returns the current SH access offset: max(1, ceil(1/budget))
// slots, per spec §4.3.
func (a *Allocator) GetSHOffset(ppUsages []PPUsage) int64 {
	budget, err := a.GetSHBudget(ppUsages)
	if err != nil || budget <= 0 {
		return 1
	}
	off := int64(math.Ceil(1 / budget))
	if off < 1 {
		off = 1
	}
	return off
}

// periodEpsilon is the minimum leftover budget treated as "enough to
// allow period 0" under the dynamic strategy (spec §4.3: "If >= epsilon,
// allow period 0").
const periodEpsilon = 1.0 / 5120.0 // 1/(5*2^10): smallest meaningful period step at H=1024

// NewLinkPeriod computes the smallest period n a new PP link may use
// (spec §4.3).
//
// Static: smallest n such that 1/(10*2^n) <= d_max/(k+1).
// Dynamic: period 0 if remaining budget >= epsilon; otherwise the
// nearest PP timeout that frees enough budget, reporting how many slots
// until that budget is available via minOffset (spec §4.3: "report
// min_offset = timeout+1 slots until more budget is available").
func (a *Allocator) NewLinkPeriod(ppUsages []PPUsage) (period uint8, minOffset int64, err error) {
	switch a.strategy {
	case Static:
		target := a.staticShare()
		var n uint8
		for {
			rate := 1.0 / float64(10*(int64(1)<<n))
			if rate <= target {
				return n, 0, nil
			}
			n++
			if n > 31 {
				return 0, 0, macerr.ErrNoBudgetLeft
			}
		}
	case Dynamic:
		remaining := a.dynamicRemaining(ppUsages)
		if remaining >= periodEpsilon {
			return 0, 0, nil
		}
		// Find the PP link (or pseudo-PP SH usage) that expires soonest
		// among those whose expiry frees enough budget to cross
		// periodEpsilon once it lapses.
		var best *PPUsage
		for i := range ppUsages {
			u := &ppUsages[i]
			if u.ExpiresInSlots <= 0 {
				continue
			}
			if remaining+u.Used >= periodEpsilon {
				if best == nil || u.ExpiresInSlots < best.ExpiresInSlots {
					best = u
				}
			}
		}
		if best == nil {
			return 0, 0, macerr.ErrNoBudgetLeft
		}
		return 0, best.ExpiresInSlots + 1, nil
	default:
		return 0, 0, macerr.ErrNoBudgetLeft
	}
}

func (a *Allocator) dynamicRemaining(ppUsages []PPUsage) float64 {
	used := a.CurrentDutyCycle()
	for _, u := range ppUsages {
		used += u.Used
	}
	remaining := a.dMax - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
