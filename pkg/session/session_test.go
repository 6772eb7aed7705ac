package session

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"github.com/phenomenon0/polymarket-options-edge/pkg/market"
	"github.com/phenomenon0/polymarket-options-edge/pkg/metrics"
	"github.com/phenomenon0/polymarket-options-edge/pkg/options"
	"github.com/phenomenon0/polymarket-options-edge/pkg/probability"
)

var testNow = time.Date(2024, time.December, 27, 17, 0, 0, 0, time.UTC).Add(-365 * 24 * time.Hour)

func testChain() []options.Quote {
	return []options.Quote{
		{InstrumentName: "BTC-27DEC24-90000-C", IV: 48},
		{InstrumentName: "BTC-27DEC24-100000-C", IV: 50},
		{InstrumentName: "BTC-27DEC24-110000-C", IV: 53},
		{InstrumentName: "garbage"},
	}
}

func testSnapshot(question string, spot float64) Snapshot {
	return Snapshot{
		Market: &market.Quote{
			Slug:       "btc-market",
			Question:   question,
			EventTitle: "Bitcoin price on December 27",
			Bid:        0.40,
			Ask:        0.45,
			EndDate:    time.Date(2024, time.December, 27, 17, 0, 0, 0, time.UTC),
		},
		Spot:  spot,
		Chain: testChain(),
		Now:   testNow,
	}
}

func TestPolicyInputs(t *testing.T) {
	p := NewPolicy(nil, "", 0)

	tests := []struct {
		name        string
		question    string
		ov          Overrides
		wantModel   probability.Model
		wantBarrier probability.BarrierMode
		wantStrike  float64
		wantMult    float64
		wantSource  market.ThresholdSource
	}{
		{"terminal default", "Bitcoin above $101,000 on December 27?", Overrides{},
			probability.ModelClosedForm, probability.TerminalOnly, 100000, 1, market.SourceQuestion},
		{"touch selects simulation", "Will Bitcoin hit 112k?", Overrides{},
			probability.ModelSimulation, probability.EverTouched, 110000, 1, market.SourceQuestion},
		{"model override beats touch", "Will Bitcoin hit 112k?", Overrides{Model: probability.ModelClosedForm},
			probability.ModelClosedForm, probability.TerminalOnly, 110000, 1, market.SourceQuestion},
		{"simulation override keeps touch", "Will Bitcoin reach $95,000?", Overrides{Model: probability.ModelSimulation},
			probability.ModelSimulation, probability.EverTouched, 90000, 1, market.SourceQuestion},
		{"override threshold and multiplier", "Up or down?", Overrides{Threshold: 104000, VolMultiplier: 1.5},
			probability.ModelClosedForm, probability.TerminalOnly, 100000, 1.5, market.SourceOverride},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := testSnapshot(tt.question, 97000)
			snap.Market.EventTitle = "Bitcoin daily"

			in, err := p.Inputs(snap, tt.ov)
			if err != nil {
				t.Fatalf("Inputs failed: %v", err)
			}
			if in.Request.Model != tt.wantModel || in.Request.Barrier != tt.wantBarrier {
				t.Errorf("model/barrier = %s/%s, want %s/%s", in.Request.Model, in.Request.Barrier, tt.wantModel, tt.wantBarrier)
			}
			if in.Selected.Instrument.Strike != tt.wantStrike {
				t.Errorf("selected strike = %v, want %v", in.Selected.Instrument.Strike, tt.wantStrike)
			}
			if in.Request.VolMultiplier != tt.wantMult {
				t.Errorf("multiplier = %v, want %v", in.Request.VolMultiplier, tt.wantMult)
			}
			if in.ThresholdSource != tt.wantSource {
				t.Errorf("source = %s, want %s", in.ThresholdSource, tt.wantSource)
			}
			if math.Abs(in.Request.Years-1) > 1e-9 {
				t.Errorf("years = %v, want 1", in.Request.Years)
			}
			if in.Request.Volatility != in.Selected.Quote.IV/100 {
				t.Errorf("volatility = %v for IV %v", in.Request.Volatility, in.Selected.Quote.IV)
			}
		})
	}
}

func TestPolicyMissingInputs(t *testing.T) {
	p := NewPolicy(nil, "", 1)

	noChain := testSnapshot("Bitcoin above $100,000?", 97000)
	noChain.Chain = nil

	noThreshold := testSnapshot("Up or down?", 97000)
	noThreshold.Market.EventTitle = "Bitcoin daily"

	tests := []struct {
		name string
		snap Snapshot
		want error
	}{
		{"no market", Snapshot{Spot: 97000, Chain: testChain()}, ErrNoMarket},
		{"no spot", testSnapshot("Bitcoin above $100,000?", 0), ErrNoSpot},
		{"nan spot", testSnapshot("Bitcoin above $100,000?", math.NaN()), ErrNoSpot},
		{"no threshold", noThreshold, market.ErrNoThreshold},
		{"no quote", noChain, ErrNoQuote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Inputs(tt.snap, Overrides{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !IsMissingInput(err) {
				t.Errorf("IsMissingInput(%v) = false", err)
			}
		})
	}

	if IsMissingInput(errors.New("boom")) {
		t.Error("arbitrary error classified as missing input")
	}
}

// gatedEstimator blocks each call until the test releases it. The returned
// probability encodes the request's spot so results can be told apart.
type gatedEstimator struct {
	mu      sync.Mutex
	gates   map[float64]chan struct{}
	entered chan float64
	calls   atomic.Int32
}

func newGatedEstimator() *gatedEstimator {
	return &gatedEstimator{
		gates:   make(map[float64]chan struct{}),
		entered: make(chan float64, 8),
	}
}

func (g *gatedEstimator) gate(spot float64) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[spot]
	if !ok {
		ch = make(chan struct{})
		g.gates[spot] = ch
	}
	return ch
}

func (g *gatedEstimator) release(spot float64) {
	close(g.gate(spot))
}

func (g *gatedEstimator) Estimate(ctx context.Context, req probability.Request) (*probability.Result, error) {
	g.calls.Add(1)
	g.entered <- req.Spot
	<-g.gate(req.Spot)
	return &probability.Result{Probability: req.Spot / 1000, Model: req.Model, Barrier: req.Barrier}, nil
}

func waitEntered(t *testing.T, g *gatedEstimator, spot float64) {
	t.Helper()
	select {
	case got := <-g.entered:
		if got != spot {
			t.Fatalf("entered with spot %v, want %v", got, spot)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("computation for spot %v never started", spot)
	}
}

type triggerOutcome struct {
	analysis  *Analysis
	published bool
	err       error
}

func TestSupersededComputation(t *testing.T) {
	for _, order := range []string{"older finishes first", "newer finishes first"} {
		t.Run(order, func(t *testing.T) {
			est := newGatedEstimator()

			var mu sync.Mutex
			var hooked []*Analysis
			var discarded []*Analysis
			s := New("btc-market", NewPolicy(nil, "", 1), est,
				WithPublishHook(func(a *Analysis) {
					mu.Lock()
					hooked = append(hooked, a)
					mu.Unlock()
				}),
				WithDiscardHook(func(a *Analysis) {
					mu.Lock()
					discarded = append(discarded, a)
					mu.Unlock()
				}),
			)

			const spotA, spotB = 400.0, 500.0
			outA := make(chan triggerOutcome, 1)
			outB := make(chan triggerOutcome, 1)

			go func() {
				a, ok, err := s.Trigger(context.Background(), testSnapshot("Bitcoin above $100,000?", spotA), Overrides{})
				outA <- triggerOutcome{a, ok, err}
			}()
			waitEntered(t, est, spotA)

			go func() {
				a, ok, err := s.Trigger(context.Background(), testSnapshot("Bitcoin above $100,000?", spotB), Overrides{})
				outB <- triggerOutcome{a, ok, err}
			}()
			waitEntered(t, est, spotB)

			if s.State() != StateComputing {
				t.Errorf("state = %s, want computing", s.State())
			}

			var resA, resB triggerOutcome
			if order == "older finishes first" {
				est.release(spotA)
				resA = <-outA
				est.release(spotB)
				resB = <-outB
			} else {
				est.release(spotB)
				resB = <-outB
				est.release(spotA)
				resA = <-outA
			}

			if resA.err != nil || resB.err != nil {
				t.Fatalf("errors: %v, %v", resA.err, resB.err)
			}
			if resA.published {
				t.Error("superseded computation was published")
			}
			if !resB.published {
				t.Error("newest computation was not published")
			}

			latest := s.Latest()
			if latest == nil || latest.Result == nil {
				t.Fatal("no published result")
			}
			if latest.Result.Probability != spotB/1000 || latest.Seq != resB.analysis.Seq {
				t.Errorf("latest = %+v, want B's result", latest.Result)
			}
			if s.State() != StateResulted {
				t.Errorf("state = %s, want resulted", s.State())
			}

			mu.Lock()
			defer mu.Unlock()
			if len(hooked) != 1 || hooked[0].Result.Probability != spotB/1000 {
				t.Errorf("publish hook saw %d analyses", len(hooked))
			}
			if len(discarded) != 1 || discarded[0].Seq != resA.analysis.Seq {
				t.Errorf("discard hook saw %d analyses", len(discarded))
			}
		})
	}
}

func TestMissingInputSupersedesInFlight(t *testing.T) {
	est := newGatedEstimator()
	s := New("btc-market", nil, est)

	out := make(chan triggerOutcome, 1)
	go func() {
		a, ok, err := s.Trigger(context.Background(), testSnapshot("Bitcoin above $100,000?", 300), Overrides{})
		out <- triggerOutcome{a, ok, err}
	}()
	waitEntered(t, est, 300)

	noThreshold := testSnapshot("Up or down?", 300)
	noThreshold.Market.EventTitle = "Bitcoin daily"
	a, published, err := s.Trigger(context.Background(), noThreshold, Overrides{})
	if err != nil {
		t.Fatalf("missing input returned error: %v", err)
	}
	if !published || a.Available || a.Reason == "" {
		t.Errorf("unavailable analysis = %+v", a)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}

	est.release(300)
	if res := <-out; res.published {
		t.Error("computation superseded by missing input was published")
	}
	if latest := s.Latest(); latest.Available {
		t.Error("latest should stay unavailable")
	}
}

func TestUnchangedInputsSkipRecompute(t *testing.T) {
	est := newGatedEstimator()
	est.release(97000)

	var published atomic.Int32
	s := New("btc-market", nil, est, WithPublishHook(func(*Analysis) { published.Add(1) }))
	snap := testSnapshot("Bitcoin above $100,000?", 97000)

	first, ok, err := s.Trigger(context.Background(), snap, Overrides{})
	if err != nil || !ok {
		t.Fatalf("first trigger: %v %v", ok, err)
	}
	<-est.entered

	again, ok, err := s.Trigger(context.Background(), snap, Overrides{})
	if err != nil || ok {
		t.Fatalf("unchanged trigger: published=%v err=%v", ok, err)
	}
	if again != first {
		t.Error("unchanged trigger should return the latest analysis")
	}

	moved := testSnapshot("Bitcoin above $100,000?", 97000)
	moved.Market.Bid = 0.44
	a, ok, err := s.Trigger(context.Background(), moved, Overrides{})
	if err != nil || !ok {
		t.Fatalf("book move: published=%v err=%v", ok, err)
	}
	if a.Result != first.Result {
		t.Error("book move should reuse the computed probability")
	}
	if a.Edge.SpreadFloat() >= first.Edge.SpreadFloat() {
		t.Errorf("spread did not tighten: %v -> %v", first.Edge.SpreadFloat(), a.Edge.SpreadFloat())
	}

	if n := est.calls.Load(); n != 1 {
		t.Errorf("estimator called %d times, want 1", n)
	}
	if n := published.Load(); n != 2 {
		t.Errorf("published %d analyses, want 2", n)
	}
}

type failingEstimator struct{}

func (failingEstimator) Estimate(ctx context.Context, req probability.Request) (*probability.Result, error) {
	return nil, context.Canceled
}

func TestEstimatorError(t *testing.T) {
	s := New("btc-market", nil, failingEstimator{})

	_, ok, err := s.Trigger(context.Background(), testSnapshot("Bitcoin above $100,000?", 97000), Overrides{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if ok {
		t.Error("failed computation published")
	}
	if s.State() != StateReady {
		t.Errorf("state = %s, want ready", s.State())
	}
	if s.Latest() != nil {
		t.Error("no analysis should be published")
	}
}

func TestTriggerWithRealEstimator(t *testing.T) {
	est := probability.NewEstimator(
		probability.NewClosedForm(probability.DefaultRiskFreeRate),
		probability.NewSimulation(&probability.SimulationConfig{
			RiskFreeRate: probability.DefaultRiskFreeRate,
			Iterations:   20000,
			Workers:      2,
			Seed:         42,
		}),
	)
	m := metrics.NewEstimatorMetrics()
	s := New("btc-market", NewPolicy(nil, probability.ModelClosedForm, 1), est, WithMetrics(m))

	a, ok, err := s.Trigger(context.Background(), testSnapshot("Bitcoin above $100,000 on December 27?", 100000), Overrides{})
	if err != nil || !ok {
		t.Fatalf("trigger: published=%v err=%v", ok, err)
	}

	// ATM, sigma 0.5, one year.
	want := probability.NewClosedForm(probability.DefaultRiskFreeRate).Probability(100000, 100000, 1, 0.5)
	if math.Abs(a.Result.Probability-want) > 1e-12 {
		t.Errorf("probability = %v, want %v", a.Result.Probability, want)
	}
	if a.Edge == nil || !a.Edge.LowLiquidity {
		t.Errorf("edge = %+v, want low liquidity flag for 0.40/0.45", a.Edge)
	}
	if a.Inputs.Selected.Quote.InstrumentName != "BTC-27DEC24-100000-C" {
		t.Errorf("selected = %s", a.Inputs.Selected.Quote.InstrumentName)
	}

	touch, ok, err := s.Trigger(context.Background(), testSnapshot("Will Bitcoin hit $110,000?", 100000), Overrides{})
	if err != nil || !ok {
		t.Fatalf("touch trigger: published=%v err=%v", ok, err)
	}
	if touch.Result.Model != probability.ModelSimulation || touch.Result.Barrier != probability.EverTouched {
		t.Errorf("touch result = %+v", touch.Result)
	}
	if touch.Result.Steps != 365 {
		t.Errorf("steps = %d, want 365", touch.Result.Steps)
	}
	if touch.Seq <= a.Seq {
		t.Errorf("seq did not increase: %d -> %d", a.Seq, touch.Seq)
	}
}

func TestZeroVolatilityTagged(t *testing.T) {
	var buf bytes.Buffer
	est := probability.NewEstimator(probability.NewClosedForm(probability.DefaultRiskFreeRate), nil)
	s := New("btc-market", NewPolicy(nil, probability.ModelClosedForm, 1), est, WithLogger(zerolog.New(&buf)))

	snap := testSnapshot("Bitcoin above $100,000 on December 27?", 97000)
	snap.Chain = []options.Quote{{InstrumentName: "BTC-27DEC24-100000-C"}}

	a, ok, err := s.Trigger(context.Background(), snap, Overrides{})
	if err != nil || !ok {
		t.Fatalf("trigger: published=%v err=%v", ok, err)
	}
	if !a.Available || !a.Inputs.ZeroVolatility || a.Inputs.Request.Volatility != 0 {
		t.Errorf("inputs = %+v", a.Inputs)
	}
	if !bytes.Contains(buf.Bytes(), []byte("computing with zero implied volatility")) {
		t.Errorf("missing zero volatility warning in %s", buf.String())
	}

	snap.Chain = testChain()
	a, _, err = s.Trigger(context.Background(), snap, Overrides{})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if a.Inputs.ZeroVolatility {
		t.Error("quote with IV should not be tagged")
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle:      "idle",
		StateReady:     "ready",
		StateComputing: "computing",
		StateResulted:  "resulted",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %s, want %s", int(s), s.String(), want)
		}
	}
}

// stallingWriter blocks the first log write containing every pattern until
// release is closed.
type stallingWriter struct {
	patterns [][]byte
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (w *stallingWriter) Write(p []byte) (int, error) {
	for _, pat := range w.patterns {
		if !bytes.Contains(p, pat) {
			return len(p), nil
		}
	}
	w.once.Do(func() {
		close(w.entered)
		<-w.release
	})
	return len(p), nil
}

func TestStaleResultNeverReachesGauges(t *testing.T) {
	est := newGatedEstimator()
	est.release(450)
	est.release(600)

	w := &stallingWriter{
		patterns: [][]byte{[]byte(`"seq":1,`), []byte(`"analysis published"`)},
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	m := metrics.NewEstimatorMetrics()

	var mu sync.Mutex
	var hooked []uint64
	s := New("btc-market", NewPolicy(nil, "", 1), est,
		WithLogger(zerolog.New(w)),
		WithMetrics(m),
		WithPublishHook(func(a *Analysis) {
			mu.Lock()
			hooked = append(hooked, a.Seq)
			mu.Unlock()
		}),
	)

	out1 := make(chan triggerOutcome, 1)
	go func() {
		a, ok, err := s.Trigger(context.Background(), testSnapshot("Bitcoin above $100,000?", 450), Overrides{})
		out1 <- triggerOutcome{a, ok, err}
	}()
	select {
	case <-w.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first result never reached publication")
	}

	out2 := make(chan triggerOutcome, 1)
	go func() {
		a, ok, err := s.Trigger(context.Background(), testSnapshot("Bitcoin above $100,000?", 600), Overrides{})
		out2 <- triggerOutcome{a, ok, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if l := s.Latest(); l != nil && l.Seq == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second result never became latest")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(w.release)
	for _, ch := range []chan triggerOutcome{out1, out2} {
		if res := <-ch; res.err != nil {
			t.Fatalf("trigger failed: %v", res.err)
		}
	}

	latest := s.Latest()
	if latest.Seq != 2 || latest.Result.Probability != 0.6 {
		t.Fatalf("latest = seq %d prob %v, want seq 2 prob 0.6", latest.Seq, latest.Result.Probability)
	}

	var g dto.Metric
	if err := m.ModelProb.WithLabelValues("btc-market", string(latest.Result.Model)).Write(&g); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if v := g.GetGauge().GetValue(); v != 0.6 {
		t.Errorf("model probability gauge = %v, want 0.6", v)
	}
	g.Reset()
	if err := m.EdgePct.WithLabelValues("btc-market").Write(&g); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if v, want := g.GetGauge().GetValue(), latest.Edge.EdgeFloat(); v != want {
		t.Errorf("edge gauge = %v, want %v", v, want)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hooked) == 0 || hooked[len(hooked)-1] != 2 {
		t.Errorf("publish hook order = %v, want to end with seq 2", hooked)
	}
	for i := 1; i < len(hooked); i++ {
		if hooked[i] <= hooked[i-1] {
			t.Errorf("publish hook out of order: %v", hooked)
		}
	}
}
