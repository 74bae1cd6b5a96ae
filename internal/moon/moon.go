// Package moon computes the lunar phase for moon-based rule conditions.
//
// Phase is expressed on a 0..28 scale: 0 is the new moon, 7 the first
// quarter, 14 the full moon, 21 the last quarter. Each named quarter
// covers a quarter of the cycle, so "full_moon" spans 14..20.99 rather
// than the single night of astronomical fullness.
package moon

import (
	"math"
	"time"
)

// Quarter names, in cycle order.
const (
	PhaseNewMoon      = "new_moon"
	PhaseFirstQuarter = "first_quarter"
	PhaseFullMoon     = "full_moon"
	PhaseLastQuarter  = "last_quarter"
)

const (
	// synodicMonth is the mean length of one lunar cycle in days.
	synodicMonth = 29.530588853

	// referenceNewMoon is the new moon of 2000-01-06 18:14 UTC, in Unix
	// seconds, used as the cycle epoch.
	referenceNewMoon = 947182440

	phaseScale = 28.0
)

// Phase returns the lunar phase at t on the 0..28 scale.
func Phase(t time.Time) float64 {
	days := t.Sub(time.Unix(referenceNewMoon, 0)).Hours() / 24
	age := math.Mod(days, synodicMonth)
	if age < 0 {
		age += synodicMonth
	}
	return age / synodicMonth * phaseScale
}

// PhaseName returns the quarter name for the lunar phase at t.
func PhaseName(t time.Time) string {
	p := Phase(t)
	switch {
	case p < 7:
		return PhaseNewMoon
	case p < 14:
		return PhaseFirstQuarter
	case p < 21:
		return PhaseFullMoon
	default:
		return PhaseLastQuarter
	}
}
