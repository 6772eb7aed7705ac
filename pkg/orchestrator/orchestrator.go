// Package orchestrator runs the refresh loop: it fetches market data for the
// configured events and triggers one estimation session per outcome market.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/phenomenon0/polymarket-options-edge/pkg/deribit"
	"github.com/phenomenon0/polymarket-options-edge/pkg/market"
	"github.com/phenomenon0/polymarket-options-edge/pkg/metrics"
	"github.com/phenomenon0/polymarket-options-edge/pkg/options"
	"github.com/phenomenon0/polymarket-options-edge/pkg/polymarket/gamma"
	"github.com/phenomenon0/polymarket-options-edge/pkg/session"
)

// ErrUnknownMarket is returned for a market slug with no session.
var ErrUnknownMarket = errors.New("unknown market")

// MarketSource supplies outcome markets. *gamma.Client implements it.
type MarketSource interface {
	GetEventBySlug(ctx context.Context, slug string) (*gamma.Event, error)
}

// OptionSource supplies the option chain and spot. *deribit.Client
// implements it.
type OptionSource interface {
	GetOptionChain(ctx context.Context, currency string) ([]options.Quote, error)
	GetIndexPrice(ctx context.Context, indexName string) (float64, error)
}

// Target is an event whose markets are tracked.
type Target struct {
	EventSlug string
	Markets   []string // empty tracks every open market
	Overrides session.Overrides
}

func (t Target) wants(slug string) bool {
	if len(t.Markets) == 0 {
		return true
	}
	for _, s := range t.Markets {
		if s == slug {
			return true
		}
	}
	return false
}

// Config configures the refresh loop.
type Config struct {
	Currency        string
	RefreshInterval time.Duration
	Targets         []Target
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		Currency:        "BTC",
		RefreshInterval: 30 * time.Second,
	}
}

// tracked is one market's session and the data it last saw.
type tracked struct {
	event     string
	sess      *session.Session
	overrides session.Overrides
	snapshot  session.Snapshot
}

// Orchestrator coordinates data refresh and estimation sessions.
type Orchestrator struct {
	config    *Config
	markets   MarketSource
	options   OptionSource
	policy    *session.Policy
	estimator session.Estimator
	metrics   *metrics.EstimatorMetrics
	log       zerolog.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}

	// State
	sessions    map[string]*tracked // market slug -> session
	spot        float64
	chain       []options.Quote
	lastRefresh time.Time
	lastError   string

	// Callbacks
	onAnalysis func(*session.Analysis)
	onError    func(error)
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(
	config *Config,
	markets MarketSource,
	opts OptionSource,
	policy *session.Policy,
	estimator session.Estimator,
	m *metrics.EstimatorMetrics,
	log zerolog.Logger,
) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}

	defaults := DefaultConfig()
	if config.Currency == "" {
		config.Currency = defaults.Currency
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = defaults.RefreshInterval
	}
	if m == nil {
		m = metrics.Default()
	}

	return &Orchestrator{
		config:    config,
		markets:   markets,
		options:   opts,
		policy:    policy,
		estimator: estimator,
		metrics:   m,
		log:       log.With().Str("component", "orchestrator").Logger(),
		stopCh:    make(chan struct{}),
		sessions:  make(map[string]*tracked),
	}
}

// OnAnalysis sets a callback for published analyses.
func (o *Orchestrator) OnAnalysis(fn func(*session.Analysis)) {
	o.onAnalysis = fn
}

// OnError sets a callback for errors.
func (o *Orchestrator) OnError(fn func(error)) {
	o.onError = fn
}

// Start runs an initial refresh and then refreshes on every interval until
// ctx is done or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.stopCh = make(chan struct{})
	stopCh := o.stopCh
	o.mu.Unlock()

	if err := o.RunOnce(ctx); err != nil {
		o.handleError(fmt.Errorf("initial refresh failed: %w", err))
	}

	go o.refreshLoop(ctx, stopCh)

	return nil
}

// Stop stops the refresh loop.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		close(o.stopCh)
		o.running = false
	}
}

// IsRunning returns true if the refresh loop is running.
func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

func (o *Orchestrator) refreshLoop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(o.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if err := o.RunOnce(ctx); err != nil {
				o.handleError(fmt.Errorf("refresh failed: %w", err))
			}
		}
	}
}

// RunOnce fetches spot, the option chain and every target event, then
// triggers the session of each tracked market. A failing event is reported
// and skipped; a failing spot or chain fetch aborts the cycle.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	start := time.Now()

	spot, err := o.options.GetIndexPrice(ctx, deribit.IndexName(o.config.Currency))
	if err != nil {
		o.metrics.RecordFetchError("deribit")
		return fmt.Errorf("fetch spot: %w", err)
	}

	chain, err := o.options.GetOptionChain(ctx, o.config.Currency)
	if err != nil {
		o.metrics.RecordFetchError("deribit")
		return fmt.Errorf("fetch option chain: %w", err)
	}

	o.mu.Lock()
	o.spot = spot
	o.chain = chain
	o.mu.Unlock()

	byExpiry := make(map[string][]options.Quote)
	malformedCounted := false
	now := time.Now()
	triggered := 0
	fetched := make(map[string]bool)
	seen := make(map[string]bool)

	for _, target := range o.config.Targets {
		event, err := o.markets.GetEventBySlug(ctx, target.EventSlug)
		if err != nil {
			o.metrics.RecordFetchError("gamma")
			o.handleError(fmt.Errorf("fetch event %s: %w", target.EventSlug, err))
			continue
		}
		fetched[target.EventSlug] = true

		for _, m := range event.OpenMarkets() {
			if !target.wants(m.Slug) {
				continue
			}

			q, perr := market.FromGamma(&m, event.Title)
			if perr != nil {
				o.log.Warn().Err(perr).Str("market", m.Slug).Msg("outcome list unparseable, using raw text")
			}

			code := options.ExpiryCode(m.EndDate.UTC())
			filtered, ok := byExpiry[code]
			if !ok {
				var skipped int
				filtered, skipped = options.FilterExpiry(chain, code)
				byExpiry[code] = filtered
				if !malformedCounted {
					malformedCounted = true
					o.metrics.RecordMalformed(skipped)
					if skipped > 0 {
						o.log.Debug().Int("skipped", skipped).Msg("malformed option instruments skipped")
					}
				}
			}

			seen[m.Slug] = true
			t := o.track(target.EventSlug, m.Slug, target.Overrides)
			snap := session.Snapshot{Market: q, Spot: spot, Chain: filtered, Now: now}

			o.mu.Lock()
			t.snapshot = snap
			ov := t.overrides
			o.mu.Unlock()

			if _, _, err := t.sess.Trigger(ctx, snap, ov); err != nil {
				o.handleError(err)
			}
			triggered++
		}
	}

	o.prune(fetched, seen)

	o.mu.Lock()
	o.lastRefresh = now
	n := len(o.sessions)
	o.mu.Unlock()
	o.metrics.UpdateActiveSessions(n)

	o.log.Info().
		Float64("spot", spot).
		Int("options", len(chain)).
		Int("markets", triggered).
		Dur("took", time.Since(start)).
		Msg("refresh complete")

	return nil
}

// track returns the market's session, creating it on first sight.
func (o *Orchestrator) track(event, slug string, ov session.Overrides) *tracked {
	o.mu.Lock()
	defer o.mu.Unlock()

	if t, ok := o.sessions[slug]; ok {
		return t
	}

	t := &tracked{
		event:     event,
		overrides: ov,
	}
	t.sess = session.New(slug, o.policy, o.estimator,
		session.WithLogger(o.log),
		session.WithMetrics(o.metrics),
		session.WithPublishHook(func(a *session.Analysis) {
			if o.onAnalysis != nil {
				o.onAnalysis(a)
			}
		}),
	)
	o.sessions[slug] = t
	return t
}

// prune drops the sessions of markets that closed or left the filter. Only
// events fetched this cycle are considered, so a failed fetch keeps its
// markets.
func (o *Orchestrator) prune(fetched, seen map[string]bool) {
	var gone []string

	o.mu.Lock()
	for slug, t := range o.sessions {
		if fetched[t.event] && !seen[slug] {
			delete(o.sessions, slug)
			gone = append(gone, slug)
		}
	}
	o.mu.Unlock()

	for _, slug := range gone {
		o.metrics.ForgetMarket(slug)
		o.log.Info().Str("market", slug).Msg("market no longer tracked")
	}
}

// SetOverrides replaces a market's overrides and re-triggers its session
// with the last snapshot.
func (o *Orchestrator) SetOverrides(ctx context.Context, slug string, ov session.Overrides) (*session.Analysis, error) {
	o.mu.Lock()
	t, ok := o.sessions[slug]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, slug)
	}
	t.overrides = ov
	snap := t.snapshot
	o.mu.Unlock()

	a, _, err := t.sess.Trigger(ctx, snap, ov)
	return a, err
}

// Analyses returns the latest analysis of every tracked market, by slug.
func (o *Orchestrator) Analyses() []*session.Analysis {
	o.mu.RLock()
	slugs := make([]string, 0, len(o.sessions))
	for slug := range o.sessions {
		slugs = append(slugs, slug)
	}
	o.mu.RUnlock()
	sort.Strings(slugs)

	out := make([]*session.Analysis, 0, len(slugs))
	for _, slug := range slugs {
		if a, ok := o.Analysis(slug); ok && a != nil {
			out = append(out, a)
		}
	}
	return out
}

// Analysis returns the latest analysis for a market slug.
func (o *Orchestrator) Analysis(slug string) (*session.Analysis, bool) {
	o.mu.RLock()
	t, ok := o.sessions[slug]
	o.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return t.sess.Latest(), true
}

// Chain returns the last fetched option chain for one expiry, grouped by
// strike, plus every expiry code seen.
func (o *Orchestrator) Chain(code string) ([]options.StrikeRow, []string) {
	o.mu.RLock()
	chain := o.chain
	o.mu.RUnlock()

	filtered, _ := options.FilterExpiry(chain, code)
	return options.GroupByStrike(filtered), options.Expiries(chain)
}

func (o *Orchestrator) handleError(err error) {
	o.mu.Lock()
	o.lastError = err.Error()
	o.mu.Unlock()

	o.log.Error().Err(err).Msg("orchestrator error")
	if o.onError != nil {
		o.onError(err)
	}
}

// Status returns the current orchestrator status.
type Status struct {
	Running     bool           `json:"running"`
	Currency    string         `json:"currency"`
	Spot        float64        `json:"spot"`
	Options     int            `json:"options"`
	Sessions    int            `json:"sessions"`
	States      map[string]int `json:"states"`
	LastRefresh time.Time      `json:"last_refresh"`
	LastError   string         `json:"last_error,omitempty"`
}

// GetStatus returns the current status.
func (o *Orchestrator) GetStatus() *Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	status := &Status{
		Running:     o.running,
		Currency:    o.config.Currency,
		Spot:        o.spot,
		Options:     len(o.chain),
		Sessions:    len(o.sessions),
		States:      make(map[string]int),
		LastRefresh: o.lastRefresh,
		LastError:   o.lastError,
	}
	for _, t := range o.sessions {
		status.States[t.sess.State().String()]++
	}
	return status
}
