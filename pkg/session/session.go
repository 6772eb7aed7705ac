package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/phenomenon0/polymarket-options-edge/pkg/edge"
	"github.com/phenomenon0/polymarket-options-edge/pkg/market"
	"github.com/phenomenon0/polymarket-options-edge/pkg/metrics"
	"github.com/phenomenon0/polymarket-options-edge/pkg/probability"
)

// Estimator computes a threshold probability. *probability.Estimator
// implements it.
type Estimator interface {
	Estimate(ctx context.Context, req probability.Request) (*probability.Result, error)
}

// State is the session's position in the estimation lifecycle.
type State int

const (
	// StateIdle: no threshold or no matching quote.
	StateIdle State = iota
	// StateReady: inputs are valid but no result has been computed for them.
	StateReady
	// StateComputing: the newest trigger is being estimated.
	StateComputing
	// StateResulted: the newest trigger's result is published.
	StateResulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateComputing:
		return "computing"
	case StateResulted:
		return "resulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Analysis is what the presentation layer sees for one computation.
type Analysis struct {
	ID         string              `json:"id"`
	Session    string              `json:"session"`
	Seq        uint64              `json:"seq"`
	Market     *market.Quote       `json:"market,omitempty"`
	Available  bool                `json:"available"`
	Reason     string              `json:"reason,omitempty"`
	Inputs     *Inputs             `json:"inputs,omitempty"`
	Result     *probability.Result `json:"result,omitempty"`
	Edge       *edge.Metric        `json:"edge,omitempty"`
	Elapsed    time.Duration       `json:"elapsed_ns,omitempty"`
	ComputedAt time.Time           `json:"computed_at"`
}

// Option configures a session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithMetrics records estimations and publications.
func WithMetrics(m *metrics.EstimatorMetrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithPublishHook is called, in sequence order, for every published analysis.
// An analysis is never passed after a newer one.
func WithPublishHook(fn func(*Analysis)) Option {
	return func(s *Session) {
		s.onPublish = fn
	}
}

// WithDiscardHook is called for every computation superseded before it
// finished.
func WithDiscardHook(fn func(*Analysis)) Option {
	return func(s *Session) {
		s.onDiscard = fn
	}
}

// Session tracks one outcome market.
type Session struct {
	id        string
	key       string
	policy    *Policy
	estimator Estimator
	metrics   *metrics.EstimatorMetrics
	log       zerolog.Logger
	onPublish func(*Analysis)
	onDiscard func(*Analysis)

	mu       sync.Mutex
	seq      uint64 // last triggered
	state    State
	latest   *Analysis
	computed *Inputs // inputs behind latest, when available

	notifyMu sync.Mutex
	notified uint64
}

// New creates a session for the market identified by key.
func New(key string, policy *Policy, estimator Estimator, opts ...Option) *Session {
	if policy == nil {
		policy = NewPolicy(nil, "", 1)
	}

	s := &Session{
		id:        uuid.NewString(),
		key:       key,
		policy:    policy,
		estimator: estimator,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("session", s.id).Str("market", key).Logger()

	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Key returns the market key the session was created for.
func (s *Session) Key() string {
	return s.key
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Latest returns the most recently published analysis, or nil.
func (s *Session) Latest() *Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Trigger assembles inputs from snap and ov and, when they changed, runs the
// estimator. It returns the analysis this call produced and whether that
// analysis was published.
//
// Concurrent triggers are allowed. Each one takes the next sequence number;
// a computation whose number is no longer the newest when it finishes is
// discarded, whatever order the computations finish in. Superseded work is
// not cancelled.
//
// Missing inputs publish an unavailable analysis and return no error. If the
// inputs and quote are unchanged since the latest result, that result is
// returned unpublished. If only the market's bid or ask moved, the edge is
// re-evaluated without recomputing the probability.
func (s *Session) Trigger(ctx context.Context, snap Snapshot, ov Overrides) (*Analysis, bool, error) {
	inputs, err := s.policy.Inputs(snap, ov)

	s.mu.Lock()
	if err != nil {
		if !IsMissingInput(err) {
			s.mu.Unlock()
			return nil, false, err
		}
		s.seq++
		a := s.newAnalysis(s.seq, snap.Market)
		a.Reason = err.Error()
		s.state = StateIdle
		s.latest = a
		s.computed = nil
		s.mu.Unlock()

		s.log.Warn().Uint64("seq", a.Seq).Str("reason", a.Reason).Msg("analysis unavailable")
		if s.metrics != nil {
			s.metrics.RecordMissingInput(missingReason(err))
		}
		s.publish(a)
		return a, true, nil
	}

	if s.state == StateResulted && inputs.same(s.computed) {
		prev := s.latest
		if sameBook(prev.Market, snap.Market) {
			s.mu.Unlock()
			return prev, false, nil
		}

		s.seq++
		a := s.newAnalysis(s.seq, snap.Market)
		a.Available = true
		a.Inputs = prev.Inputs
		a.Result = prev.Result
		a.Edge = edge.Evaluate(prev.Result.Probability, snap.Market.Bid, snap.Market.Ask)
		s.latest = a
		s.mu.Unlock()

		s.log.Debug().Uint64("seq", a.Seq).Msg("book moved, edge re-evaluated")
		s.publish(a)
		return a, true, nil
	}

	s.seq++
	seq := s.seq
	s.state = StateComputing
	s.mu.Unlock()

	req := inputs.Request
	if inputs.ZeroVolatility {
		s.log.Warn().Uint64("seq", seq).Str("instrument", inputs.Selected.Quote.InstrumentName).
			Msg("computing with zero implied volatility")
	}
	s.log.Debug().
		Uint64("seq", seq).
		Str("model", string(req.Model)).
		Str("barrier", string(req.Barrier)).
		Float64("threshold", req.Threshold).
		Str("instrument", inputs.Selected.Quote.InstrumentName).
		Msg("computing")

	start := time.Now()
	res, err := s.estimator.Estimate(ctx, req)
	elapsed := time.Since(start)

	if s.metrics != nil {
		status := "ok"
		var stdErr float64
		if err != nil {
			status = "error"
		} else {
			stdErr = res.StdErr
		}
		s.metrics.RecordEstimation(string(req.Model), string(req.Barrier), status, elapsed.Seconds(), stdErr)
	}

	a := s.newAnalysis(seq, snap.Market)
	a.Inputs = inputs
	a.Elapsed = elapsed
	if err == nil {
		a.Available = true
		a.Result = res
		a.Edge = edge.Evaluate(res.Probability, snap.Market.Bid, snap.Market.Ask)
	}

	s.mu.Lock()
	if seq != s.seq {
		newest := s.seq
		s.mu.Unlock()

		s.log.Debug().Uint64("seq", seq).Uint64("newest", newest).Msg("discarding superseded result")
		if s.metrics != nil {
			s.metrics.RecordDiscarded(string(req.Model))
		}
		if s.onDiscard != nil {
			s.onDiscard(a)
		}
		return a, false, nil
	}

	if err != nil {
		s.state = StateReady
		s.mu.Unlock()
		return nil, false, fmt.Errorf("estimate %s: %w", s.key, err)
	}

	s.state = StateResulted
	s.latest = a
	s.computed = inputs
	s.mu.Unlock()

	s.publish(a)
	return a, true, nil
}

func (s *Session) newAnalysis(seq uint64, q *market.Quote) *Analysis {
	return &Analysis{
		ID:         uuid.NewString(),
		Session:    s.id,
		Seq:        seq,
		Market:     q,
		ComputedAt: time.Now(),
	}
}

// publish logs a, updates the signal gauges and hands a to the hook, unless a
// newer analysis already went out.
func (s *Session) publish(a *Analysis) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if a.Seq <= s.notified {
		return
	}
	s.notified = a.Seq

	status := "unavailable"
	if a.Available {
		status = "available"
		s.log.Info().
			Uint64("seq", a.Seq).
			Str("model", string(a.Result.Model)).
			Float64("threshold", a.Inputs.Threshold).
			Float64("probability", a.Result.Probability).
			Float64("edge_pct", a.Edge.EdgeFloat()).
			Float64("spread_pct", a.Edge.SpreadFloat()).
			Bool("good_opportunity", a.Edge.GoodOpportunity).
			Bool("low_liquidity", a.Edge.LowLiquidity).
			Msg("analysis published")
	}

	if s.metrics != nil {
		if a.Available {
			s.metrics.UpdateSignal(s.key, string(a.Result.Model), a.Result.Probability,
				a.Edge.EdgePct, a.Edge.SpreadPct, a.Edge.GoodOpportunity, a.Edge.LowLiquidity)
		}
		s.metrics.RecordPublished(status)
	}
	if s.onPublish != nil {
		s.onPublish(a)
	}
}

func sameBook(a, b *market.Quote) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Bid == b.Bid && a.Ask == b.Ask
}
