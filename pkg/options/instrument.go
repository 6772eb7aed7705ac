// Package options models option-chain quotes and the nearest-strike
// volatility lookup used to price threshold probabilities.
package options

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedInstrument is returned for identifiers that do not follow
// UNDERLYING-EXPIRY-STRIKE-KIND.
var ErrMalformedInstrument = errors.New("malformed option instrument")

// expiryLayout matches codes like 16DEC24 and 5MAY24. time.Parse matches
// month names case-insensitively.
const expiryLayout = "2Jan06"

// Kind is the option type.
type Kind string

const (
	Call Kind = "C"
	Put  Kind = "P"
)

// Instrument is a parsed option identifier, e.g. BTC-16DEC24-100000-C.
type Instrument struct {
	Underlying string  `json:"underlying"`
	ExpiryCode string  `json:"expiry_code"`
	Strike     float64 `json:"strike"`
	Kind       Kind    `json:"kind"`
}

// ParseInstrument parses an option identifier.
func ParseInstrument(name string) (Instrument, error) {
	parts := strings.Split(name, "-")
	if len(parts) != 4 {
		return Instrument{}, fmt.Errorf("%w: %q has %d parts", ErrMalformedInstrument, name, len(parts))
	}

	underlying, code, strikeStr, kindStr := parts[0], parts[1], parts[2], parts[3]
	if underlying == "" || code == "" {
		return Instrument{}, fmt.Errorf("%w: %q", ErrMalformedInstrument, name)
	}

	strike, err := strconv.ParseFloat(strikeStr, 64)
	if err != nil || strike <= 0 {
		return Instrument{}, fmt.Errorf("%w: bad strike in %q", ErrMalformedInstrument, name)
	}

	var kind Kind
	switch strings.ToUpper(kindStr) {
	case "C":
		kind = Call
	case "P":
		kind = Put
	default:
		return Instrument{}, fmt.Errorf("%w: bad kind in %q", ErrMalformedInstrument, name)
	}

	return Instrument{
		Underlying: underlying,
		ExpiryCode: strings.ToUpper(code),
		Strike:     strike,
		Kind:       kind,
	}, nil
}

// Expiry parses the expiry code back into a date (UTC midnight).
func (i Instrument) Expiry() (time.Time, error) {
	t, err := time.Parse(expiryLayout, i.ExpiryCode)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiry %q: %w", i.ExpiryCode, err)
	}
	return t, nil
}

// String formats the instrument back into its identifier.
func (i Instrument) String() string {
	return fmt.Sprintf("%s-%s-%s-%s", i.Underlying, i.ExpiryCode,
		strconv.FormatFloat(i.Strike, 'f', -1, 64), i.Kind)
}

// ExpiryCode converts a date into the chain's expiry convention: day of month
// without padding, upper-case month abbreviation, two-digit year.
// 2024-12-16 -> 16DEC24, 2024-05-05 -> 5MAY24.
func ExpiryCode(t time.Time) string {
	return strings.ToUpper(t.Format(expiryLayout))
}
