package edge

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		prob       float64
		bid, ask   float64
		wantEdge   float64
		wantSpread float64
		wantGood   bool
		wantLowLiq bool
		wantPriced bool
	}{
		{"positive edge", 0.50, 0.39, 0.40, 10.0, 2.5, true, false, true},
		{"wide spread", 0.42, 0.40, 0.45, -3.0, 11.111111, false, true, true},
		{"at threshold", 0.45, 0.40, 0.40, 5.0, 0, false, false, true},
		{"no ask", 0.30, 0, 0, 30.0, 0, false, false, false},
		{"overpriced", 0.10, 0.19, 0.20, -10.0, 5.0, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Evaluate(tt.prob, tt.bid, tt.ask)

			if math.Abs(m.EdgeFloat()-tt.wantEdge) > 1e-6 {
				t.Errorf("edge = %v, want %v", m.EdgeFloat(), tt.wantEdge)
			}
			if math.Abs(m.SpreadFloat()-tt.wantSpread) > 1e-6 {
				t.Errorf("spread = %v, want %v", m.SpreadFloat(), tt.wantSpread)
			}
			if m.GoodOpportunity != tt.wantGood {
				t.Errorf("good = %v, want %v", m.GoodOpportunity, tt.wantGood)
			}
			if m.LowLiquidity != tt.wantLowLiq {
				t.Errorf("low liquidity = %v, want %v", m.LowLiquidity, tt.wantLowLiq)
			}
			if m.Priced != tt.wantPriced {
				t.Errorf("priced = %v, want %v", m.Priced, tt.wantPriced)
			}
		})
	}
}

func TestEvaluateExactDecimal(t *testing.T) {
	m := Evaluate(0.50, 0.39, 0.40)
	if !m.EdgePct.Equal(decimal.NewFromInt(10)) {
		t.Errorf("edge = %s, want exactly 10", m.EdgePct)
	}
	if !m.MarketYesPrice.Equal(decimal.RequireFromString("0.4")) {
		t.Errorf("market price = %s", m.MarketYesPrice)
	}
}
