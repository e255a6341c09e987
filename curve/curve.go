// Package curve holds the discounting data consumed by the pricing engines.
package curve

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

var (
	// ErrUnknownCurve is returned when a curve name is not present in a bundle.
	ErrUnknownCurve = errors.New("unknown curve")
	// ErrInvalidCurve is returned for malformed node sets.
	ErrInvalidCurve = errors.New("invalid curve")
)

// Provider supplies discount factors by curve name (currency or issuer) and model time.
type Provider interface {
	DiscountFactor(name string, t float64) (float64, error)
}

// YieldCurve is a continuously-compounded zero-rate curve interpolated linearly
// on rates, with flat extrapolation on both sides.
//
// An optional shift function is added to the interpolated rate; it is how
// bumped copies for risk checks are represented without touching the nodes.
type YieldCurve struct {
	times []float64
	rates []float64
	pl    *interp.PiecewiseLinear
	shift func(t float64) float64
}

// NewYieldCurve builds a curve from strictly increasing node times and zero rates (decimal).
func NewYieldCurve(times, rates []float64) (*YieldCurve, error) {
	if len(times) == 0 || len(times) != len(rates) {
		return nil, fmt.Errorf("NewYieldCurve: %d times and %d rates: %w", len(times), len(rates), ErrInvalidCurve)
	}
	if !sort.Float64sAreSorted(times) {
		return nil, fmt.Errorf("NewYieldCurve: node times are not sorted: %w", ErrInvalidCurve)
	}
	c := &YieldCurve{
		times: append([]float64(nil), times...),
		rates: append([]float64(nil), rates...),
	}
	if len(times) > 1 {
		var pl interp.PiecewiseLinear
		if err := pl.Fit(c.times, c.rates); err != nil {
			return nil, fmt.Errorf("NewYieldCurve: %v: %w", err, ErrInvalidCurve)
		}
		c.pl = &pl
	}
	return c, nil
}

// NewFlatCurve returns a curve with a constant zero rate.
func NewFlatCurve(rate float64) *YieldCurve {
	c, _ := NewYieldCurve([]float64{1}, []float64{rate})
	return c
}

// ZeroRate returns the continuously-compounded zero rate at t.
func (c *YieldCurve) ZeroRate(t float64) float64 {
	r := c.rates[0]
	if c.pl != nil {
		r = c.pl.Predict(t)
	}
	if c.shift != nil {
		r += c.shift(t)
	}
	return r
}

// DF returns exp(-r(t)·t).
func (c *YieldCurve) DF(t float64) float64 {
	return math.Exp(-c.ZeroRate(t) * t)
}

// WithShift returns a copy whose zero rates are moved by fn(t).
func (c *YieldCurve) WithShift(fn func(t float64) float64) *YieldCurve {
	out := *c
	prev := c.shift
	out.shift = func(t float64) float64 {
		s := fn(t)
		if prev != nil {
			s += prev(t)
		}
		return s
	}
	return &out
}

// WithParallelShift moves every zero rate by h.
func (c *YieldCurve) WithParallelShift(h float64) *YieldCurve {
	return c.WithShift(func(float64) float64 { return h })
}

// Bundle is a read-only set of named curves.
type Bundle map[string]*YieldCurve

// DiscountFactor implements Provider.
func (b Bundle) DiscountFactor(name string, t float64) (float64, error) {
	c, ok := b[name]
	if !ok || c == nil {
		return 0, fmt.Errorf("DiscountFactor: %q: %w", name, ErrUnknownCurve)
	}
	return c.DF(t), nil
}

// With returns a copy of the bundle with name replaced by c. The receiver is not modified.
func (b Bundle) With(name string, c *YieldCurve) Bundle {
	out := make(Bundle, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	out[name] = c
	return out
}
