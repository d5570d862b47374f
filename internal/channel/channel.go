// Package channel describes the frequency channels a node can reserve
// slots on (spec §3, Frequency channel).
package channel

// Kind distinguishes the shared (broadcast) channel from point-to-point
// channels.
type Kind uint8

const (
	KindSH Kind = iota
	KindPP
)

func (k Kind) String() string {
	if k == KindSH {
		return "SH"
	}
	return "PP"
}

// Channel identifies an RF resource by kind, center frequency and
// bandwidth. Equality is on (kind, center, bandwidth); ordering is on
// center frequency, matching spec §3.
type Channel struct {
	Kind          Kind
	CenterFreqKHz uint64
	BandwidthKHz  uint32
	Blacklisted   bool
}

// Equal reports whether two channels name the same resource, ignoring
// the Blacklisted flag.
func (c Channel) Equal(o Channel) bool {
	return c.Kind == o.Kind && c.CenterFreqKHz == o.CenterFreqKHz && c.BandwidthKHz == o.BandwidthKHz
}

// Less orders channels by center frequency, used to break ties between
// otherwise-equal proposals (spec §9 open question: "pick lowest center
// frequency").
func Less(a, b Channel) bool {
	return a.CenterFreqKHz < b.CenterFreqKHz
}
