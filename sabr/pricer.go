package sabr

import (
	"errors"
	"fmt"
	"math"

	"github.com/meenmo/mocalib/black"
	"github.com/meenmo/mocalib/curve"
	"github.com/meenmo/mocalib/instrument"
	"github.com/meenmo/mocalib/sensitivity"
)

// ErrNonPositiveRate is returned when the swap rate or strike is not positive,
// outside the domain of the lognormal Hagan formula.
var ErrNonPositiveRate = errors.New("non-positive rate in lognormal SABR")

// Pricer prices swaptions with Black on the Hagan SABR volatility of the
// notional-weighted swap rate. It is stateless; Surface and Curves are read-only.
type Pricer struct {
	Surface Surface
	Curves  curve.Provider
}

// Sensitivities is the output of Pricer.Sensitivity.
type Sensitivities struct {
	Price float64
	// Point is the (expiry, maturity) at which the SABR parameters were read.
	Point  sensitivity.ExpiryMaturity
	Params sensitivity.SABRTriple
	Curves sensitivity.CurveSensitivity
}

// Price returns the swaption present value.
func (p Pricer) Price(s instrument.Swaption) (float64, error) {
	out, err := p.Sensitivity(s)
	if err != nil {
		return 0, err
	}
	return out.Price, nil
}

// Sensitivity returns the price together with its derivatives with respect to
// the SABR parameters at the swaption's point and to the discount curve.
func (p Pricer) Sensitivity(s instrument.Swaption) (Sensitivities, error) {
	if err := s.Validate(); err != nil {
		return Sensitivities{}, fmt.Errorf("sabr.Sensitivity: %w", err)
	}
	u, err := instrument.NewUnderlying(s, p.Curves)
	if err != nil {
		return Sensitivities{}, fmt.Errorf("sabr.Sensitivity: %w", err)
	}
	if u.SwapRate <= 0 || s.Strike <= 0 {
		return Sensitivities{}, fmt.Errorf("sabr.Sensitivity: forward %.6f, strike %.6f: %w", u.SwapRate, s.Strike, ErrNonPositiveRate)
	}
	params := p.Surface.Parameters(s.Expiry, s.Tenor())
	vol, dVol := Volatility(u.SwapRate, s.Strike, s.Expiry, params)
	sqrtT := math.Sqrt(s.Expiry)
	b, dB := black.Price(u.SwapRate, s.Strike, vol*sqrtT, s.Payer)

	volBar := u.Annuity * dB.StdDev * sqrtT
	rateBar := u.Annuity*dB.Forward + volBar*dVol.Forward

	n := len(s.Periods)
	fBar := make([]float64, n)
	wBar := make([]float64, n)
	for j := range s.Periods {
		fBar[j] = rateBar * u.Weights[j]
		wBar[j] = rateBar * u.Forwards[j]
	}
	return Sensitivities{
		Price: u.Annuity * b,
		Point: sensitivity.ExpiryMaturity{Expiry: s.Expiry, Maturity: s.Maturity()},
		Params: sensitivity.SABRTriple{
			Alpha: volBar * dVol.Alpha,
			Rho:   volBar * dVol.Rho,
			Nu:    volBar * dVol.Nu,
		},
		Curves: u.Backward(s, b, fBar, wBar),
	}, nil
}
