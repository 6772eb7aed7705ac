package probability

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"
)

const (
	// DefaultIterations gives roughly 0.45pp standard error at p=0.5.
	DefaultIterations = 50000

	// Touch paths are monitored once per calendar day.
	stepsPerYear = 365

	// How many normal draws a worker makes between context polls.
	ctxCheckEvery = 1024
)

// SimulationConfig configures the Monte-Carlo estimator.
type SimulationConfig struct {
	RiskFreeRate float64 // Default: 0.04
	Iterations   int     // Default: 50000
	Workers      int     // Default: GOMAXPROCS
	Seed         uint64  // 0 draws a fresh seed per run
}

// DefaultSimulationConfig returns default configuration.
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		RiskFreeRate: DefaultRiskFreeRate,
		Iterations:   DefaultIterations,
		Workers:      runtime.GOMAXPROCS(0),
	}
}

// Simulation estimates threshold probabilities by simulating geometric
// Brownian motion paths.
type Simulation struct {
	riskFreeRate float64
	iterations   int
	workers      int
	seed         uint64
}

// NewSimulation creates a Monte-Carlo estimator.
func NewSimulation(cfg *SimulationConfig) *Simulation {
	if cfg == nil {
		cfg = DefaultSimulationConfig()
	}

	defaults := DefaultSimulationConfig()
	s := &Simulation{
		riskFreeRate: cfg.RiskFreeRate,
		iterations:   cfg.Iterations,
		workers:      cfg.Workers,
		seed:         cfg.Seed,
	}
	if s.iterations <= 0 {
		s.iterations = defaults.Iterations
	}
	if s.workers <= 0 {
		s.workers = defaults.Workers
	}
	// RiskFreeRate can be 0 intentionally, so don't default it

	return s
}

// SimulationParams is the input of a single simulation run.
type SimulationParams struct {
	Spot          float64
	Strike        float64
	Years         float64
	Volatility    float64 // decimal, 0.6 = 60%
	VolMultiplier float64 // effective sigma = Volatility * VolMultiplier
	Barrier       BarrierMode
}

// StepCount returns the number of monitoring steps for a path.
// Terminal-only paths need a single draw; touch paths step daily.
func StepCount(years float64, barrier BarrierMode) int {
	if barrier != EverTouched {
		return 1
	}
	steps := int(math.Ceil(years * stepsPerYear))
	if steps < 1 {
		steps = 1
	}
	return steps
}

// Run simulates the configured number of paths.
func (s *Simulation) Run(ctx context.Context, p SimulationParams) (*Result, error) {
	if p.Spot <= 0 || p.Strike <= 0 {
		return nil, fmt.Errorf("%w: spot and strike must be positive", ErrInvalidRequest)
	}
	if p.Years < 0 || p.Volatility < 0 {
		return nil, fmt.Errorf("%w: years and volatility must be non-negative", ErrInvalidRequest)
	}
	if p.Years > MaxYears {
		return nil, fmt.Errorf("%w: horizon exceeds %d years", ErrInvalidRequest, MaxYears)
	}
	if p.VolMultiplier == 0 {
		p.VolMultiplier = 1
	}
	if p.VolMultiplier < 0 {
		return nil, fmt.Errorf("%w: volatility multiplier must be positive", ErrInvalidRequest)
	}
	if p.Barrier == "" {
		p.Barrier = TerminalOnly
	}

	result := &Result{
		Model:   ModelSimulation,
		Barrier: p.Barrier,
	}

	if p.Years == 0 {
		result.Probability = boundary(p.Spot, p.Strike)
		return result, nil
	}

	steps := StepCount(p.Years, p.Barrier)
	sigma := p.Volatility * p.VolMultiplier
	dt := p.Years / float64(steps)

	pp := pathParams{
		spot:   p.Spot,
		strike: p.Strike,
		steps:  steps,
		drift:  (s.riskFreeRate - 0.5*sigma*sigma) * dt,
		shock:  sigma * math.Sqrt(dt),
		touch:  p.Barrier == EverTouched,
	}

	seed := s.seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	workers := s.workers
	if workers > s.iterations {
		workers = s.iterations
	}

	hits := make([]int, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		n := s.iterations / workers
		if w < s.iterations%workers {
			n++
		}

		wg.Add(1)
		go func(w, n int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, uint64(w)))
			hits[w], errs[w] = pp.simulate(ctx, rng, n)
		}(w, n)
	}
	wg.Wait()

	total := 0
	for w := range hits {
		if errs[w] != nil {
			return nil, errs[w]
		}
		total += hits[w]
	}

	prob := float64(total) / float64(s.iterations)
	result.Probability = prob
	result.Iterations = s.iterations
	result.Steps = steps
	result.StdErr = math.Sqrt(prob * (1 - prob) / float64(s.iterations))

	return result, nil
}

type pathParams struct {
	spot   float64
	strike float64
	steps  int
	drift  float64
	shock  float64
	touch  bool
}

// simulate runs n paths and returns how many succeeded.
func (pp pathParams) simulate(ctx context.Context, rng *rand.Rand, n int) (int, error) {
	// A path that starts on or above the barrier has already touched it.
	if pp.touch && pp.spot >= pp.strike {
		return n, nil
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	hits, draws := 0, 0
	for i := 0; i < n; i++ {
		price := pp.spot
		touched := false
		for step := 0; step < pp.steps; step++ {
			if draws++; draws%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return 0, err
				}
			}

			price *= math.Exp(pp.drift + pp.shock*standardNormal(rng))
			if pp.touch && price >= pp.strike {
				touched = true
				break
			}
		}

		if pp.touch {
			if touched {
				hits++
			}
		} else if price > pp.strike {
			hits++
		}
	}
	return hits, nil
}

// standardNormal draws N(0,1) with the Box-Muller transform.
func standardNormal(rng *rand.Rand) float64 {
	u1 := nonZeroUniform(rng)
	u2 := nonZeroUniform(rng)
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// nonZeroUniform draws from (0,1); zero would put log(0) into Box-Muller.
func nonZeroUniform(rng *rand.Rand) float64 {
	for {
		if u := rng.Float64(); u != 0 {
			return u
		}
	}
}
