package probability

import "math"

// ClosedForm prices a cash-or-nothing digital call: P(S_T > K) = N(d2).
type ClosedForm struct {
	RiskFreeRate float64
}

// NewClosedForm creates a closed-form estimator.
func NewClosedForm(riskFreeRate float64) *ClosedForm {
	return &ClosedForm{RiskFreeRate: riskFreeRate}
}

// D2 returns the Black-Scholes d2 term. Callers must ensure years > 0 and
// sigma > 0.
func (c *ClosedForm) D2(spot, strike, years, sigma float64) float64 {
	return (math.Log(spot/strike) + (c.RiskFreeRate-0.5*sigma*sigma)*years) / (sigma * math.Sqrt(years))
}

// Probability returns P(terminal price > strike).
//
// At expiry, or with no volatility, the answer collapses to the indicator
// spot > strike.
func (c *ClosedForm) Probability(spot, strike, years, sigma float64) float64 {
	if years <= 0 || sigma <= 0 {
		return boundary(spot, strike)
	}
	return NormCDF(c.D2(spot, strike, years, sigma))
}
