// Package basket builds the vanilla calibration instruments for a target swaption.
package basket

import (
	"errors"
	"fmt"
	"time"

	"github.com/meenmo/mocalib/curve"
	"github.com/meenmo/mocalib/instrument"
	"github.com/meenmo/mocalib/schedule"
	"github.com/meenmo/mocalib/sensitivity"
)

// ErrBasketConstruction is returned when the target schedule cannot be partitioned.
var ErrBasketConstruction = errors.New("basket construction failed")

// Basket is an ordered set of NbPeriods*NbStrikes vanilla swaptions. Period p
// occupies Instruments[p*NbStrikes : (p+1)*NbStrikes], one per moneyness offset.
type Basket struct {
	Instruments       []instrument.Swaption
	NbPeriods         int
	NbStrikes         int
	ForwardsPerPeriod int
	// Points holds the (expiry, maturity) of each period's underlying.
	Points []sensitivity.ExpiryMaturity
}

// Period returns the instruments of period p.
func (b Basket) Period(p int) []instrument.Swaption {
	return b.Instruments[p*b.NbStrikes : (p+1)*b.NbStrikes]
}

// PeriodOf returns the period of the i-th instrument.
func (b Basket) PeriodOf(i int) int {
	return i / b.NbStrikes
}

// Build partitions the target's periods into consecutive blocks of
// forwardsPerPeriod and, for each block p, emits co-initial vanilla swaptions
// from the target's first period start to the end of block p, one per
// moneyness offset, struck at the underlying par rate plus the offset.
func Build(target instrument.Swaption, curves curve.Provider, moneyness []float64, forwardsPerPeriod int) (Basket, error) {
	if len(target.Periods) == 0 {
		return Basket{}, fmt.Errorf("Build: target has no periods: %w", ErrBasketConstruction)
	}
	if len(moneyness) == 0 {
		return Basket{}, fmt.Errorf("Build: no moneyness offsets: %w", ErrBasketConstruction)
	}
	if forwardsPerPeriod < 1 || len(target.Periods)%forwardsPerPeriod != 0 {
		return Basket{}, fmt.Errorf("Build: %d periods cannot be split in blocks of %d: %w",
			len(target.Periods), forwardsPerPeriod, ErrBasketConstruction)
	}
	if err := target.Validate(); err != nil {
		return Basket{}, fmt.Errorf("Build: %v: %w", err, ErrBasketConstruction)
	}

	nbPeriods := len(target.Periods) / forwardsPerPeriod
	notional := target.MaxNotional()
	b := Basket{
		Instruments:       make([]instrument.Swaption, 0, nbPeriods*len(moneyness)),
		NbPeriods:         nbPeriods,
		NbStrikes:         len(moneyness),
		ForwardsPerPeriod: forwardsPerPeriod,
		Points:            make([]sensitivity.ExpiryMaturity, nbPeriods),
	}
	for p := 0; p < nbPeriods; p++ {
		periods := make([]instrument.Period, (p+1)*forwardsPerPeriod)
		for j := range periods {
			periods[j] = target.Periods[j]
			periods[j].Notional = notional
		}
		underlying := instrument.Swaption{
			Expiry:    target.Expiry,
			Periods:   periods,
			Payer:     target.Payer,
			CurveName: target.CurveName,
		}
		u, err := instrument.NewUnderlying(underlying, curves)
		if err != nil {
			return Basket{}, fmt.Errorf("Build: period %d: %v: %w", p, err, ErrBasketConstruction)
		}
		for _, m := range moneyness {
			// The reference smile is lognormal.
			if k := u.SwapRate + m; k <= 0 {
				return Basket{}, fmt.Errorf("Build: period %d: strike %.6f (par %.6f%+.6f) is not positive: %w",
					p, k, u.SwapRate, m, ErrBasketConstruction)
			}
			b.Instruments = append(b.Instruments, underlying.WithStrike(u.SwapRate+m))
		}
		b.Points[p] = sensitivity.ExpiryMaturity{Expiry: underlying.Expiry, Maturity: underlying.Maturity()}
	}
	return b, nil
}

// DatedTarget describes a target swaption by dates.
type DatedTarget struct {
	Valuation time.Time
	Expiry    time.Time
	Effective time.Time
	Maturity  time.Time
	Leg       schedule.LegConvention
	Notional  float64
	// Notionals optionally gives one notional per generated period (amortising underlying).
	Notionals []float64
	Strike    float64
	Payer     bool
	CurveName string
}

// BuildFromDates derives the target schedule and builds its basket.
func BuildFromDates(target DatedTarget, curves curve.Provider, moneyness []float64, forwardsPerPeriod int) (instrument.Swaption, Basket, error) {
	s, err := instrument.FromDates(target.Valuation, target.Expiry, target.Effective, target.Maturity,
		target.Leg, target.Notionals, target.Notional, target.Strike, target.Payer, target.CurveName)
	if err != nil {
		return instrument.Swaption{}, Basket{}, fmt.Errorf("BuildFromDates: %v: %w", err, ErrBasketConstruction)
	}
	b, err := Build(s, curves, moneyness, forwardsPerPeriod)
	if err != nil {
		return instrument.Swaption{}, Basket{}, err
	}
	return s, b, nil
}
