package lmm

import (
	"errors"
	"fmt"
	"math"

	"github.com/meenmo/mocalib/black"
	"github.com/meenmo/mocalib/curve"
	"github.com/meenmo/mocalib/instrument"
	"github.com/meenmo/mocalib/sensitivity"
)

// ErrNonPositiveDisplacedRate is returned when the displaced swap rate is not positive.
var ErrNonPositiveDisplacedRate = errors.New("displaced swap rate is not positive")

// Pricer prices swaptions in the LMM with the frozen-weight approximation:
// the swap rate is a weighted basket of forwards, displaced by the weighted
// displacements, and treated as a displaced lognormal with the basket variance.
type Pricer struct {
	Curves curve.Provider
}

// Sensitivities is the output of Pricer.Sensitivity. Slices are indexed by LMM forward.
type Sensitivities struct {
	Price float64
	// VolatilityScale[j] is dPrice/dm for the volatility of forward j scaled by m, at m = 1.
	VolatilityScale []float64
	Displacement    []float64
	Curves          sensitivity.CurveSensitivity
}

// Price returns the swaption present value.
func (p Pricer) Price(s instrument.Swaption, params *Parameters) (float64, error) {
	out, err := p.Sensitivity(s, params)
	if err != nil {
		return 0, err
	}
	return out.Price, nil
}

// Sensitivity returns the price and its adjoint derivatives with respect to
// per-forward volatility scale, displacement and the discount curve.
func (p Pricer) Sensitivity(s instrument.Swaption, params *Parameters) (Sensitivities, error) {
	if err := s.Validate(); err != nil {
		return Sensitivities{}, fmt.Errorf("lmm.Sensitivity: %w", err)
	}
	u, err := instrument.NewUnderlying(s, p.Curves)
	if err != nil {
		return Sensitivities{}, fmt.Errorf("lmm.Sensitivity: %w", err)
	}
	n := len(s.Periods)
	idx := make([]int, n)
	for j, per := range s.Periods {
		if idx[j], err = params.ForwardIndex(per.Start); err != nil {
			return Sensitivities{}, fmt.Errorf("lmm.Sensitivity: period %d: %w", j, err)
		}
	}

	c := make([]float64, n)
	displacedRate := 0.0
	for j := range s.Periods {
		c[j] = u.Weights[j] * (u.Forwards[j] + params.Displacement[idx[j]])
		displacedRate += c[j]
	}
	if displacedRate <= 0 {
		return Sensitivities{}, fmt.Errorf("lmm.Sensitivity: %.6g: %w", displacedRate, ErrNonPositiveDisplacedRate)
	}
	displacedStrike := s.Strike + displacedRate - u.SwapRate

	cov := make([][]float64, n)
	rc := make([]float64, n)
	q := 0.0
	for i := range s.Periods {
		cov[i] = make([]float64, n)
		for j := range s.Periods {
			cov[i][j] = params.covariance(idx[i], idx[j], s.Expiry)
			rc[i] += c[j] * cov[i][j]
		}
		q += c[i] * rc[i]
	}
	variance := q / (displacedRate * displacedRate)
	stdDev := math.Sqrt(math.Max(variance, 0))
	b, dB := black.Price(displacedRate, displacedStrike, stdDev, s.Payer)

	// Backward sweep.
	annuityBar := b
	rateBar := u.Annuity * dB.Forward
	strikeBar := u.Annuity * dB.Strike
	varianceBar := 0.0
	if stdDev > 0 {
		varianceBar = u.Annuity * dB.StdDev / (2 * stdDev)
	}
	qBar := varianceBar / (displacedRate * displacedRate)
	rateBar -= 2 * q * varianceBar / (displacedRate * displacedRate * displacedRate)
	rateBar += strikeBar
	swapRateBar := -strikeBar

	out := Sensitivities{
		Price:           u.Annuity * b,
		VolatilityScale: make([]float64, params.NbForwards()),
		Displacement:    make([]float64, params.NbForwards()),
	}
	fBar := make([]float64, n)
	wBar := make([]float64, n)
	for j := range s.Periods {
		cBar := rateBar + 2*qBar*rc[j]
		out.VolatilityScale[idx[j]] += 2 * qBar * c[j] * rc[j]
		out.Displacement[idx[j]] += cBar * u.Weights[j]
		wBar[j] = cBar*(u.Forwards[j]+params.Displacement[idx[j]]) + swapRateBar*u.Forwards[j]
		fBar[j] = (cBar + swapRateBar) * u.Weights[j]
	}
	out.Curves = u.Backward(s, annuityBar, fBar, wBar)
	return out, nil
}
