// Package probability estimates the chance that an asset finishes above, or
// touches, a price threshold before expiry.
package probability

import "math"

// Abramowitz & Stegun 26.2.17 coefficients.
const (
	asP  = 0.2316419
	asB1 = 0.31938153
	asB2 = -0.356563782
	asB3 = 1.781477937
	asB4 = -1.821255978
	asB5 = 1.330274429
)

var invSqrt2Pi = 1 / math.Sqrt(2*math.Pi)

// NormCDF approximates the standard normal cumulative distribution function.
// Absolute error is below 7.5e-8.
func NormCDF(x float64) float64 {
	if x < 0 {
		return 1 - NormCDF(-x)
	}

	t := 1 / (1 + asP*x)
	poly := t * (asB1 + t*(asB2+t*(asB3+t*(asB4+t*asB5))))
	pdf := invSqrt2Pi * math.Exp(-0.5*x*x)

	return 1 - pdf*poly
}
