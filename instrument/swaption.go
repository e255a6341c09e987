// Package instrument describes the interest-rate instruments priced by the
// calibration engines. Times are model times in years from the valuation date.
package instrument

import (
	"errors"
	"fmt"
	"time"

	"github.com/meenmo/mocalib/curve"
	"github.com/meenmo/mocalib/schedule"
	"github.com/meenmo/mocalib/sensitivity"
	"github.com/meenmo/mocalib/utils"
)

// ErrInvalidInstrument is returned for swaptions that cannot be priced.
var ErrInvalidInstrument = errors.New("invalid instrument")

// Period is one fixed-vs-ibor accrual period of a swaption underlying.
// The ibor rate fixes on Start and both legs pay on End.
type Period struct {
	Start    float64
	End      float64
	Accrual  float64
	Notional float64
}

// Swaption is a physically settled European option on a fixed vs ibor swap.
// Per-period notionals make amortising underlyings possible; a vanilla
// swaption has a constant notional.
type Swaption struct {
	Expiry    float64
	Periods   []Period
	Strike    float64
	Payer     bool
	CurveName string
}

// Maturity returns the end time of the last period.
func (s Swaption) Maturity() float64 {
	if len(s.Periods) == 0 {
		return s.Expiry
	}
	return s.Periods[len(s.Periods)-1].End
}

// Tenor returns the underlying length from first start to maturity.
func (s Swaption) Tenor() float64 {
	if len(s.Periods) == 0 {
		return 0
	}
	return s.Maturity() - s.Periods[0].Start
}

// MaxNotional returns the largest period notional in absolute value.
func (s Swaption) MaxNotional() float64 {
	m := 0.0
	for _, p := range s.Periods {
		if p.Notional > m {
			m = p.Notional
		} else if -p.Notional > m {
			m = -p.Notional
		}
	}
	return m
}

// Validate checks the structural requirements shared by all pricers.
func (s Swaption) Validate() error {
	if len(s.Periods) == 0 {
		return fmt.Errorf("Validate: swaption has no periods: %w", ErrInvalidInstrument)
	}
	if s.Expiry <= 0 {
		return fmt.Errorf("Validate: expiry %.6f must be positive: %w", s.Expiry, ErrInvalidInstrument)
	}
	for i, p := range s.Periods {
		if p.End <= p.Start || p.Accrual <= 0 {
			return fmt.Errorf("Validate: period %d [%.6f, %.6f] accrual %.6f: %w", i, p.Start, p.End, p.Accrual, ErrInvalidInstrument)
		}
		if p.Start < s.Expiry-1e-10 {
			return fmt.Errorf("Validate: period %d starts before expiry: %w", i, ErrInvalidInstrument)
		}
	}
	return nil
}

// WithStrike returns a copy with a different strike. Periods are shared read-only.
func (s Swaption) WithStrike(k float64) Swaption {
	out := s
	out.Strike = k
	return out
}

// FromDates builds a swaption from a dated fixed-leg schedule. Every period
// carries the same notional unless notionals is non-empty, in which case it
// must have one entry per generated period.
func FromDates(valuation, expiry, effective, maturity time.Time, leg schedule.LegConvention,
	notionals []float64, notional, strike float64, payer bool, curveName string) (Swaption, error) {
	periods, err := schedule.Generate(effective, maturity, leg)
	if err != nil {
		return Swaption{}, fmt.Errorf("FromDates: %w", err)
	}
	if len(notionals) > 0 && len(notionals) != len(periods) {
		return Swaption{}, fmt.Errorf("FromDates: %d notionals for %d periods: %w", len(notionals), len(periods), ErrInvalidInstrument)
	}
	out := Swaption{
		Expiry:    utils.TimeFrom(valuation, expiry),
		Strike:    strike,
		Payer:     payer,
		CurveName: curveName,
		Periods:   make([]Period, len(periods)),
	}
	for i, p := range periods {
		n := notional
		if len(notionals) > 0 {
			n = notionals[i]
		}
		out.Periods[i] = Period{
			Start:    utils.TimeFrom(valuation, p.StartDate),
			End:      utils.TimeFrom(valuation, p.PayDate),
			Accrual:  p.Accrual,
			Notional: n,
		}
	}
	return out, out.Validate()
}

// Underlying holds the curve-derived quantities of a swaption underlying:
// ibor forwards, the notional-weighted annuity and the frozen swap-rate weights.
type Underlying struct {
	DFStart  []float64
	DFEnd    []float64
	Forwards []float64
	Weights  []float64
	Annuity  float64
	SwapRate float64
}

// NewUnderlying evaluates the underlying on a single curve.
func NewUnderlying(s Swaption, p curve.Provider) (Underlying, error) {
	n := len(s.Periods)
	u := Underlying{
		DFStart:  make([]float64, n),
		DFEnd:    make([]float64, n),
		Forwards: make([]float64, n),
		Weights:  make([]float64, n),
	}
	for j, per := range s.Periods {
		ps, err := p.DiscountFactor(s.CurveName, per.Start)
		if err != nil {
			return Underlying{}, fmt.Errorf("NewUnderlying: %w", err)
		}
		pe, err := p.DiscountFactor(s.CurveName, per.End)
		if err != nil {
			return Underlying{}, fmt.Errorf("NewUnderlying: %w", err)
		}
		u.DFStart[j], u.DFEnd[j] = ps, pe
		u.Forwards[j] = (ps/pe - 1) / per.Accrual
		u.Annuity += per.Notional * per.Accrual * pe
	}
	if u.Annuity == 0 {
		return Underlying{}, fmt.Errorf("NewUnderlying: annuity is zero: %w", ErrInvalidInstrument)
	}
	for j, per := range s.Periods {
		u.Weights[j] = per.Notional * per.Accrual * u.DFEnd[j] / u.Annuity
		u.SwapRate += u.Weights[j] * u.Forwards[j]
	}
	return u, nil
}

// Backward pushes adjoints of the annuity, forwards and weights back to the
// discount factors and returns the resulting curve sensitivity
// (d DF / d r = -t·DF).
func (u Underlying) Backward(s Swaption, annuityBar float64, forwardBar, weightBar []float64) sensitivity.CurveSensitivity {
	n := len(s.Periods)
	dfStartBar := make([]float64, n)
	dfEndBar := make([]float64, n)
	aBar := annuityBar
	for j, per := range s.Periods {
		dfEndBar[j] += weightBar[j] * per.Notional * per.Accrual / u.Annuity
		aBar -= weightBar[j] * u.Weights[j] / u.Annuity
	}
	pts := make([]sensitivity.Point, 0, 2*n)
	for j, per := range s.Periods {
		dfEndBar[j] += aBar * per.Notional * per.Accrual
		dfStartBar[j] += forwardBar[j] / (per.Accrual * u.DFEnd[j])
		dfEndBar[j] -= forwardBar[j] * u.DFStart[j] / (per.Accrual * u.DFEnd[j] * u.DFEnd[j])
		pts = append(pts,
			sensitivity.Point{Time: per.Start, Amount: -per.Start * u.DFStart[j] * dfStartBar[j]},
			sensitivity.Point{Time: per.End, Amount: -per.End * u.DFEnd[j] * dfEndBar[j]},
		)
	}
	return sensitivity.CurveSensitivity{s.CurveName: pts}
}
