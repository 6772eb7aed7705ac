// Package session turns market snapshots into published analyses. A session
// tracks one outcome market and only ever publishes the result of its most
// recently triggered computation.
package session

import (
	"errors"
	"math"
	"time"

	"github.com/phenomenon0/polymarket-options-edge/pkg/market"
	"github.com/phenomenon0/polymarket-options-edge/pkg/options"
	"github.com/phenomenon0/polymarket-options-edge/pkg/probability"
)

// Missing inputs. None of these is fatal: the session publishes an
// unavailable analysis and waits for the next snapshot or an override.
var (
	ErrNoMarket = errors.New("no market quote")
	ErrNoSpot   = errors.New("no spot price")
	ErrNoQuote  = errors.New("no option quote for the market expiry")
)

// IsMissingInput reports whether err means an input was absent rather than
// invalid.
func IsMissingInput(err error) bool {
	return errors.Is(err, market.ErrNoThreshold) ||
		errors.Is(err, ErrNoQuote) ||
		errors.Is(err, ErrNoSpot) ||
		errors.Is(err, ErrNoMarket)
}

// missingReason is the metric label for a missing input.
func missingReason(err error) string {
	switch {
	case errors.Is(err, market.ErrNoThreshold):
		return "no_threshold"
	case errors.Is(err, ErrNoQuote):
		return "no_quote"
	case errors.Is(err, ErrNoSpot):
		return "no_spot"
	case errors.Is(err, ErrNoMarket):
		return "no_market"
	default:
		return "other"
	}
}

// Snapshot is one observation of the external inputs.
type Snapshot struct {
	Market *market.Quote
	Spot   float64
	Chain  []options.Quote // already filtered to the market's expiry
	Now    time.Time
}

// Overrides are user-supplied inputs. Zero values defer to the policy.
type Overrides struct {
	Threshold     float64           `json:"threshold,omitempty"`
	Model         probability.Model `json:"model,omitempty"`
	VolMultiplier float64           `json:"vol_multiplier,omitempty"`
}

// Inputs is everything one computation depends on, kept with the analysis so
// the result can be explained.
type Inputs struct {
	Threshold       float64                `json:"threshold"`
	ThresholdSource market.ThresholdSource `json:"threshold_source"`
	Selected        options.Selection      `json:"selected"`
	Touch           bool                   `json:"touch"`
	ZeroVolatility  bool                   `json:"zero_volatility,omitempty"`
	Request         probability.Request    `json:"request"`
}

// same reports whether both inputs would produce the same estimate.
func (in *Inputs) same(other *Inputs) bool {
	if in == nil || other == nil {
		return false
	}
	return in.Request == other.Request &&
		in.Selected.Quote.InstrumentName == other.Selected.Quote.InstrumentName
}

// Policy decides which estimator runs and with what parameters.
type Policy struct {
	Touch         *market.TouchPolicy
	DefaultModel  probability.Model
	VolMultiplier float64
}

// NewPolicy creates a policy. A nil touch policy uses the default keywords,
// an empty model means closed form, and a non-positive multiplier means 1.
func NewPolicy(touch *market.TouchPolicy, model probability.Model, volMultiplier float64) *Policy {
	if touch == nil {
		touch = market.NewTouchPolicy(nil)
	}
	if model == "" {
		model = probability.ModelClosedForm
	}
	if volMultiplier <= 0 {
		volMultiplier = 1
	}
	return &Policy{Touch: touch, DefaultModel: model, VolMultiplier: volMultiplier}
}

// Inputs assembles the estimation request for a snapshot.
//
// The threshold comes from the market question, then the event title, then
// the override. Touch wording selects the simulation with an ever-touched
// barrier unless a model override says otherwise; the closed form can only
// express a terminal condition.
func (p *Policy) Inputs(snap Snapshot, ov Overrides) (*Inputs, error) {
	if snap.Market == nil {
		return nil, ErrNoMarket
	}
	if !(snap.Spot > 0) || math.IsInf(snap.Spot, 0) {
		return nil, ErrNoSpot
	}

	threshold, source, err := market.ResolveThreshold(snap.Market.Question, snap.Market.EventTitle, ov.Threshold)
	if err != nil {
		return nil, err
	}

	sel, ok := options.SelectNearest(threshold, snap.Chain)
	if !ok {
		return nil, ErrNoQuote
	}

	touch := p.Touch.IsTouch(snap.Market.Question, snap.Market.EventTitle)

	model := p.DefaultModel
	switch {
	case ov.Model != "":
		model = ov.Model
	case touch:
		model = probability.ModelSimulation
	}

	barrier := probability.TerminalOnly
	if touch && model == probability.ModelSimulation {
		barrier = probability.EverTouched
	}

	mult := p.VolMultiplier
	if ov.VolMultiplier > 0 {
		mult = ov.VolMultiplier
	}

	now := snap.Now
	if now.IsZero() {
		now = time.Now()
	}

	return &Inputs{
		Threshold:       threshold,
		ThresholdSource: source,
		Selected:        sel,
		Touch:           touch,
		ZeroVolatility:  !sel.Quote.HasIV(),
		Request: probability.Request{
			Spot:          snap.Spot,
			Threshold:     threshold,
			Years:         snap.Market.YearsUntilEnd(now),
			Volatility:    sel.Quote.Volatility(),
			Model:         model,
			VolMultiplier: mult,
			Barrier:       barrier,
		},
	}, nil
}
