package options

import "math"

// Selection is the quote picked for a threshold.
type Selection struct {
	Quote      Quote      `json:"quote"`
	Instrument Instrument `json:"instrument"`
	Distance   float64    `json:"distance"`
}

// SelectNearest returns the quote whose strike is closest to threshold.
// Ties go to the earlier quote in chain order. No interpolation is done
// between neighbouring strikes: the nearest strike's volatility stands in for
// the skew at the threshold.
//
// An empty chain, a non-positive threshold, or a chain with no parseable
// identifiers yields ok=false.
func SelectNearest(threshold float64, chain []Quote) (sel Selection, ok bool) {
	if threshold <= 0 || math.IsNaN(threshold) {
		return Selection{}, false
	}

	best := math.Inf(1)
	for _, q := range chain {
		inst, err := q.Instrument()
		if err != nil {
			continue
		}

		d := math.Abs(inst.Strike - threshold)
		if d < best {
			best = d
			sel = Selection{Quote: q, Instrument: inst, Distance: d}
			ok = true
		}
	}
	return sel, ok
}
