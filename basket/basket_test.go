package basket_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meenmo/mocalib/basket"
	"github.com/meenmo/mocalib/calendar"
	"github.com/meenmo/mocalib/curve"
	"github.com/meenmo/mocalib/instrument"
	"github.com/meenmo/mocalib/schedule"
	"github.com/meenmo/mocalib/utils"
)

func target(nb int) instrument.Swaption {
	s := instrument.Swaption{Expiry: 1, Strike: 0.03, Payer: true, CurveName: "EUR"}
	for j := 0; j < nb; j++ {
		start := 1 + 0.5*float64(j)
		s.Periods = append(s.Periods, instrument.Period{Start: start, End: start + 0.5, Accrual: 0.5, Notional: 1e6 - 1e5*float64(j)})
	}
	return s
}

func TestBuild_OrderingAndStrikes(t *testing.T) {
	t.Parallel()

	curves := curve.Bundle{"EUR": curve.NewFlatCurve(0.02)}
	moneyness := []float64{-0.005, 0.005}
	b, err := basket.Build(target(6), curves, moneyness, 2)
	require.NoError(t, err)

	require.Equal(t, 3, b.NbPeriods)
	require.Equal(t, 2, b.NbStrikes)
	require.Len(t, b.Instruments, 6)
	for p := 0; p < b.NbPeriods; p++ {
		insts := b.Period(p)
		require.Len(t, insts, 2)
		u, err := instrument.NewUnderlying(insts[0], curves)
		require.NoError(t, err)
		for k, inst := range insts {
			assert.Len(t, inst.Periods, 2*(p+1))
			assert.Equal(t, 1e6, inst.Periods[0].Notional)
			assert.InDelta(t, u.SwapRate+moneyness[k], inst.Strike, 1e-15)
			assert.Equal(t, p, b.PeriodOf(p*2+k))
		}
		assert.InDelta(t, 1+float64(p+1), b.Points[p].Maturity, 1e-15)
	}

	again, err := basket.Build(target(6), curves, moneyness, 2)
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	curves := curve.Bundle{"EUR": curve.NewFlatCurve(0.02)}
	tests := []struct {
		name      string
		target    instrument.Swaption
		moneyness []float64
		k         int
	}{
		{"no periods", instrument.Swaption{Expiry: 1, CurveName: "EUR"}, []float64{0}, 1},
		{"no moneyness", target(4), nil, 1},
		{"uneven blocks", target(5), []float64{0}, 2},
		{"zero block", target(4), []float64{0}, 0},
		{"negative strike", target(4), []float64{-0.03, 0.005}, 1},
		{"offset below par", target(4), []float64{0, -0.1}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := basket.Build(tc.target, curves, tc.moneyness, tc.k)
			assert.ErrorIs(t, err, basket.ErrBasketConstruction)
		})
	}

	missing := target(2)
	missing.CurveName = "USD"
	_, err := basket.Build(missing, curves, []float64{0}, 1)
	assert.ErrorIs(t, err, basket.ErrBasketConstruction)
}

func TestBuildFromDates(t *testing.T) {
	t.Parallel()

	valuation := time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC)
	dt := basket.DatedTarget{
		Valuation: valuation,
		Expiry:    valuation.AddDate(1, 0, 0),
		Effective: valuation.AddDate(1, 0, 2),
		Maturity:  valuation.AddDate(5, 0, 2),
		Leg: schedule.LegConvention{
			DayCount:     utils.Act360,
			PayFrequency: schedule.FreqAnnual,
			Calendar:     calendar.TARGET,
			Direction:    schedule.Backward,
		},
		Notional:  1e7,
		Strike:    0.025,
		CurveName: "EUR",
	}
	curves := curve.Bundle{"EUR": curve.NewFlatCurve(0.02)}
	s, b, err := basket.BuildFromDates(dt, curves, []float64{-0.01, 0, 0.01}, 1)
	require.NoError(t, err)
	assert.Len(t, s.Periods, 4)
	assert.Equal(t, 4, b.NbPeriods)
	assert.Len(t, b.Instruments, 12)

	dt.Maturity = dt.Effective
	_, _, err = basket.BuildFromDates(dt, curves, []float64{0}, 1)
	assert.ErrorIs(t, err, basket.ErrBasketConstruction)
}
