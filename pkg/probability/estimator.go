package probability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultRiskFreeRate is the annualized rate used when none is configured.
const DefaultRiskFreeRate = 0.04

// MaxYears bounds the horizon of a request. Touch simulations step daily, so
// the horizon sets the per-path cost.
const MaxYears = 10

// ErrInvalidRequest wraps every request validation failure.
var ErrInvalidRequest = errors.New("invalid estimation request")

// Model selects the estimator.
type Model string

const (
	ModelClosedForm Model = "closed_form"
	ModelSimulation Model = "simulation"
)

// ParseModel parses a model name. Empty input yields "".
func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "closed_form", "closed-form", "bs", "black_scholes", "black-scholes":
		return ModelClosedForm, nil
	case "simulation", "monte_carlo", "monte-carlo", "mc":
		return ModelSimulation, nil
	default:
		return "", fmt.Errorf("unknown model %q", s)
	}
}

// BarrierMode says which event a simulated path has to hit.
type BarrierMode string

const (
	// TerminalOnly counts paths that finish above the threshold.
	TerminalOnly BarrierMode = "terminal"
	// EverTouched counts paths that reach the threshold at any monitoring step.
	EverTouched BarrierMode = "touch"
)

// Request is a single estimation input.
type Request struct {
	Spot          float64     `json:"spot" validate:"gt=0"`
	Threshold     float64     `json:"threshold" validate:"gt=0"`
	Years         float64     `json:"years" validate:"gte=0,lte=10"`
	Volatility    float64     `json:"volatility" validate:"gte=0"`
	Model         Model       `json:"model" validate:"omitempty,oneof=closed_form simulation"`
	VolMultiplier float64     `json:"vol_multiplier" validate:"gte=0"`
	Barrier       BarrierMode `json:"barrier" validate:"omitempty,oneof=terminal touch"`
}

var validate = validator.New()

// Validate checks the request and fills the optional fields.
func (r *Request) Validate() error {
	for _, f := range []float64{r.Spot, r.Threshold, r.Years, r.Volatility, r.VolMultiplier} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite input", ErrInvalidRequest)
		}
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.Model == "" {
		r.Model = ModelClosedForm
	}
	if r.Barrier == "" {
		r.Barrier = TerminalOnly
	}
	if r.VolMultiplier == 0 {
		r.VolMultiplier = 1
	}
	return nil
}

// Result is the outcome of one estimation.
type Result struct {
	Probability float64     `json:"probability"`
	Model       Model       `json:"model"`
	Barrier     BarrierMode `json:"barrier"`
	Iterations  int         `json:"iterations,omitempty"`
	Steps       int         `json:"steps,omitempty"`
	StdErr      float64     `json:"std_err"`
}

// Estimator dispatches requests to the closed-form or simulation model.
type Estimator struct {
	closed *ClosedForm
	sim    *Simulation
}

// NewEstimator creates an estimator. Nil models fall back to defaults.
func NewEstimator(closed *ClosedForm, sim *Simulation) *Estimator {
	if closed == nil {
		closed = NewClosedForm(DefaultRiskFreeRate)
	}
	if sim == nil {
		sim = NewSimulation(nil)
	}
	return &Estimator{closed: closed, sim: sim}
}

// Estimate validates the request and runs the selected model.
func (e *Estimator) Estimate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	switch req.Model {
	case ModelClosedForm:
		return &Result{
			Probability: e.closed.Probability(req.Spot, req.Threshold, req.Years, req.Volatility),
			Model:       ModelClosedForm,
			Barrier:     TerminalOnly,
		}, nil

	case ModelSimulation:
		return e.sim.Run(ctx, SimulationParams{
			Spot:          req.Spot,
			Strike:        req.Threshold,
			Years:         req.Years,
			Volatility:    req.Volatility,
			VolMultiplier: req.VolMultiplier,
			Barrier:       req.Barrier,
		})

	default:
		return nil, fmt.Errorf("%w: unknown model %q", ErrInvalidRequest, req.Model)
	}
}

// boundary is the exact answer at expiry: 1 if spot is above the strike.
func boundary(spot, strike float64) float64 {
	if spot > strike {
		return 1
	}
	return 0
}
