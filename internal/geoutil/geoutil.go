// Package geoutil represents the decoded node position carried in the
// Base header (spec §6) and renders it for human-readable status dumps.
// CPR position *encoding* stays out of scope (spec §1); this package only
// ever sees an already-decoded geodetic position.
package geoutil

import (
	"fmt"

	"github.com/golang/geo/s2"
	"github.com/tzneal/coordconv"
)

// Position is a decoded geodetic position plus altitude, the payload the
// Base header's "position" field carries.
type Position struct {
	LatLng     s2.LatLng
	AltitudeM  float64
}

// FromDegrees builds a Position from plain degrees, the form most
// upper-layer collaborators will hand us.
func FromDegrees(latDeg, lonDeg, altM float64) Position {
	return Position{
		LatLng:    s2.LatLngFromDegrees(latDeg, lonDeg),
		AltitudeM: altM,
	}
}

// GreatCircleDistanceM returns the great-circle distance between two
// positions in meters. The MAC core does not call it.
func GreatCircleDistanceM(a, b Position) float64 {
	const earthRadiusM = 6371008.8
	angle := a.LatLng.Distance(b.LatLng)
	return float64(angle) * earthRadiusM
}

// UTMString renders a position as a UTM coordinate string, mirroring the
// teacher's ll2utm conversion (cmd/samoyed-ll2utm). Neither demo CLI
// calls it.
func UTMString(p Position) string {
	utm, err := coordconv.DefaultUTMConverter.ConvertFromGeodetic(p.LatLng, 0)
	if err != nil {
		return fmt.Sprintf("<utm unavailable: %s>", err)
	}
	return fmt.Sprintf("%d%c %.0fE %.0fN", utm.Zone, hemisphereRune(utm.Hemisphere), utm.Easting, utm.Northing)
}

func hemisphereRune(h coordconv.Hemisphere) rune {
	switch h {
	case coordconv.HemisphereNorth:
		return 'N'
	case coordconv.HemisphereSouth:
		return 'S'
	default:
		return '?'
	}
}
