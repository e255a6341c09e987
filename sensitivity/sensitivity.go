// Package sensitivity holds the risk containers shared by the pricing engines
// and the capability interface implemented by the two propagation strategies.
package sensitivity

import (
	"context"
	"sort"
)

// Point is the sensitivity to the continuously-compounded zero rate at Time.
type Point struct {
	Time   float64
	Amount float64
}

// CurveSensitivity maps a curve name to its time-keyed sensitivity points.
type CurveSensitivity map[string][]Point

// Add returns the sum of s and other. Neither operand is modified.
func (s CurveSensitivity) Add(other CurveSensitivity) CurveSensitivity {
	out := make(CurveSensitivity, len(s)+len(other))
	for name, pts := range s {
		out[name] = append(out[name], pts...)
	}
	for name, pts := range other {
		out[name] = append(out[name], pts...)
	}
	return out
}

// Multiply returns f·s.
func (s CurveSensitivity) Multiply(f float64) CurveSensitivity {
	out := make(CurveSensitivity, len(s))
	for name, pts := range s {
		scaled := make([]Point, len(pts))
		for i, p := range pts {
			scaled[i] = Point{Time: p.Time, Amount: f * p.Amount}
		}
		out[name] = scaled
	}
	return out
}

// Cleaned merges points with identical times and sorts them by time.
func (s CurveSensitivity) Cleaned() CurveSensitivity {
	out := make(CurveSensitivity, len(s))
	for name, pts := range s {
		byTime := make(map[float64]float64, len(pts))
		for _, p := range pts {
			byTime[p.Time] += p.Amount
		}
		merged := make([]Point, 0, len(byTime))
		for t, a := range byTime {
			merged = append(merged, Point{Time: t, Amount: a})
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i].Time < merged[j].Time })
		out[name] = merged
	}
	return out
}

// Total returns the sum of the amounts on a curve, i.e. the parallel-shift sensitivity.
func (s CurveSensitivity) Total(name string) float64 {
	total := 0.0
	for _, p := range s[name] {
		total += p.Amount
	}
	return total
}

// Weighted returns Σ w(t)·amount on a curve; the sensitivity to a rate shift of shape w.
func (s CurveSensitivity) Weighted(name string, w func(t float64) float64) float64 {
	total := 0.0
	for _, p := range s[name] {
		total += w(p.Time) * p.Amount
	}
	return total
}

// ExpiryMaturity keys reference-model parameters by option expiry and underlying maturity (model times).
type ExpiryMaturity struct {
	Expiry   float64
	Maturity float64
}

// SABRTriple is a sensitivity to the SABR alpha, rho and nu parameters.
type SABRTriple struct {
	Alpha float64
	Rho   float64
	Nu    float64
}

// SABRSensitivity maps an (expiry, maturity) point to its parameter sensitivities.
type SABRSensitivity map[ExpiryMaturity]SABRTriple

// Add returns the pointwise sum of s and other.
func (s SABRSensitivity) Add(other SABRSensitivity) SABRSensitivity {
	out := make(SABRSensitivity, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		cur := out[k]
		out[k] = SABRTriple{Alpha: cur.Alpha + v.Alpha, Rho: cur.Rho + v.Rho, Nu: cur.Nu + v.Nu}
	}
	return out
}

// Multiply returns f·s.
func (s SABRSensitivity) Multiply(f float64) SABRSensitivity {
	out := make(SABRSensitivity, len(s))
	for k, v := range s {
		out[k] = SABRTriple{Alpha: f * v.Alpha, Rho: f * v.Rho, Nu: f * v.Nu}
	}
	return out
}

// Result is the output of one valuation request.
type Result struct {
	Value  float64
	Curves CurveSensitivity
	// SABR is empty for pathways without a reference smile model.
	SABR SABRSensitivity
}

// Propagator is a valuation request that prices an instrument and propagates
// its sensitivities through whatever numerical procedure produced the price.
//
// Implementations own their instrument, market and seed parameters; they must
// not mutate shared inputs so that many requests can run concurrently.
type Propagator interface {
	Propagate(ctx context.Context) (Result, error)
}
