// Package stats holds the user-visible failure counters spec §7 requires
// ("No packet is ever silently dropped without an incremented counter").
// The physical-layer simulation harness that would normally export these
// to an external metrics system is out of scope (spec §1); this is the
// minimal in-process sink the core writes to.
package stats

import "sync/atomic"

// Counters aggregates the statistics named in spec §7.
type Counters struct {
	SHCollisions             atomic.Int64
	PPCollisions             atomic.Int64
	RequestsRejectedReply    atomic.Int64 // reply slot unacceptable
	RequestsRejectedProposal atomic.Int64 // proposal unacceptable
	EstablishAttemptsGiven   atomic.Int64 // attempts exceeded max_link_renewal_attempts
	establishLatencySum      atomic.Int64 // slots, summed
	establishLatencyCount    atomic.Int64
}

// New returns a zeroed counter set.
func New() *Counters {
	return &Counters{}
}

// RecordEstablishLatency records how many slots elapsed between a link's
// first request and its establishment.
func (c *Counters) RecordEstablishLatency(slots int64) {
	c.establishLatencySum.Add(slots)
	c.establishLatencyCount.Add(1)
}

// AverageEstablishLatency returns the mean establishment latency in
// slots, or 0 if none have been recorded.
func (c *Counters) AverageEstablishLatency() float64 {
	n := c.establishLatencyCount.Load()
	if n == 0 {
		return 0
	}
	return float64(c.establishLatencySum.Load()) / float64(n)
}

// Snapshot is a point-in-time copy safe to serialize or print.
type Snapshot struct {
	SHCollisions             int64
	PPCollisions             int64
	RequestsRejectedReply    int64
	RequestsRejectedProposal int64
	EstablishAttemptsGiven   int64
	AverageEstablishLatency  float64
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		SHCollisions:             c.SHCollisions.Load(),
		PPCollisions:             c.PPCollisions.Load(),
		RequestsRejectedReply:    c.RequestsRejectedReply.Load(),
		RequestsRejectedProposal: c.RequestsRejectedProposal.Load(),
		EstablishAttemptsGiven:   c.EstablishAttemptsGiven.Load(),
		AverageEstablishLatency:  c.AverageEstablishLatency(),
	}
}
