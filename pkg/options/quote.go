package options

import (
	"sort"
)

// Quote is a single option quote from a chain.
type Quote struct {
	InstrumentName string   `json:"instrument_name"`
	IV             float64  `json:"iv"` // percentage points, 0 when absent
	Bid            *float64 `json:"bid,omitempty"`
	Ask            *float64 `json:"ask,omitempty"`
}

// Instrument parses the quote's identifier.
func (q Quote) Instrument() (Instrument, error) {
	return ParseInstrument(q.InstrumentName)
}

// Volatility returns the implied volatility as a decimal (60 -> 0.6).
func (q Quote) Volatility() float64 {
	if q.IV <= 0 {
		return 0
	}
	return q.IV / 100
}

// HasIV reports whether the quote carries an implied volatility.
func (q Quote) HasIV() bool {
	return q.IV > 0
}

// FilterExpiry keeps the well-formed quotes with the given expiry code, in
// chain order. It also returns how many malformed identifiers were skipped.
func FilterExpiry(chain []Quote, code string) ([]Quote, int) {
	out := make([]Quote, 0, len(chain))
	skipped := 0
	for _, q := range chain {
		inst, err := q.Instrument()
		if err != nil {
			skipped++
			continue
		}
		if inst.ExpiryCode == code {
			out = append(out, q)
		}
	}
	return out, skipped
}

// Expiries lists the distinct expiry codes in chain order.
func Expiries(chain []Quote) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, q := range chain {
		inst, err := q.Instrument()
		if err != nil || seen[inst.ExpiryCode] {
			continue
		}
		seen[inst.ExpiryCode] = true
		codes = append(codes, inst.ExpiryCode)
	}
	return codes
}

// StrikeRow pairs the call and put quoted at one strike.
type StrikeRow struct {
	Strike float64 `json:"strike"`
	Call   *Quote  `json:"call,omitempty"`
	Put    *Quote  `json:"put,omitempty"`
}

// GroupByStrike groups a single-expiry chain by strike, ascending.
// Malformed identifiers are skipped; for duplicates the first quote wins.
func GroupByStrike(chain []Quote) []StrikeRow {
	rows := make(map[float64]*StrikeRow)
	for i := range chain {
		inst, err := chain[i].Instrument()
		if err != nil {
			continue
		}

		row, ok := rows[inst.Strike]
		if !ok {
			row = &StrikeRow{Strike: inst.Strike}
			rows[inst.Strike] = row
		}

		q := chain[i]
		switch inst.Kind {
		case Call:
			if row.Call == nil {
				row.Call = &q
			}
		case Put:
			if row.Put == nil {
				row.Put = &q
			}
		}
	}

	out := make([]StrikeRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}
