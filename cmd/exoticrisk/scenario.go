package main

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meenmo/mocalib/basket"
	"github.com/meenmo/mocalib/bond"
	"github.com/meenmo/mocalib/calendar"
	"github.com/meenmo/mocalib/curve"
	"github.com/meenmo/mocalib/future"
	"github.com/meenmo/mocalib/hullwhite"
	"github.com/meenmo/mocalib/instrument"
	"github.com/meenmo/mocalib/lmm"
	"github.com/meenmo/mocalib/sabr"
	"github.com/meenmo/mocalib/schedule"
	"github.com/meenmo/mocalib/utils"
)

const dateLayout = "2006-01-02"

type scenario struct {
	ValuationDate string                `yaml:"valuation_date"`
	Curves        map[string]curveInput `yaml:"curves"`
	SABR          sabrInput             `yaml:"sabr"`
	LMM           lmmInput              `yaml:"lmm"`
	HullWhite     hullWhiteInput        `yaml:"hull_white"`
	Swaptions     []swaptionInput       `yaml:"swaptions"`
	Futures       []futureInput         `yaml:"futures"`
}

type curveInput struct {
	Times []float64 `yaml:"times"`
	Rates []float64 `yaml:"rates"`
}

type sabrInput struct {
	Beta     float64     `yaml:"beta"`
	Expiries []float64   `yaml:"expiries"`
	Tenors   []float64   `yaml:"tenors"`
	Alpha    [][]float64 `yaml:"alpha"`
	Rho      [][]float64 `yaml:"rho"`
	Nu       [][]float64 `yaml:"nu"`
}

// lmmInput describes the seed: every forward gets Volatility spread over
// NbFactors factors with angle AngleStep·j, and the same Displacement.
type lmmInput struct {
	MeanReversion float64 `yaml:"mean_reversion"`
	NbFactors     int     `yaml:"nb_factors"`
	Volatility    float64 `yaml:"volatility"`
	AngleStep     float64 `yaml:"angle_step"`
	Displacement  float64 `yaml:"displacement"`
}

type hullWhiteInput struct {
	MeanReversion  float64   `yaml:"mean_reversion"`
	Volatility     []float64 `yaml:"volatility"`
	VolatilityTime []float64 `yaml:"volatility_time"`
}

type swaptionInput struct {
	ID                string    `yaml:"id"`
	Expiry            string    `yaml:"expiry"`
	Effective         string    `yaml:"effective"`
	Maturity          string    `yaml:"maturity"`
	PayFrequency      int       `yaml:"pay_frequency_months"`
	DayCount          string    `yaml:"day_count"`
	Calendar          string    `yaml:"calendar"`
	Notional          float64   `yaml:"notional"`
	Notionals         []float64 `yaml:"notionals"`
	Strike            float64   `yaml:"strike"`
	Payer             bool      `yaml:"payer"`
	Curve             string    `yaml:"curve"`
	Moneyness         []float64 `yaml:"moneyness"`
	ForwardsPerPeriod int       `yaml:"forwards_per_period"`
}

type futureInput struct {
	ID             string      `yaml:"id"`
	NoticeDate     string      `yaml:"notice_date"`
	DeliveryDate   string      `yaml:"delivery_date"`
	Notional       float64     `yaml:"notional"`
	ReferencePrice float64     `yaml:"reference_price"`
	Curve          string      `yaml:"curve"`
	Bonds          []bondInput `yaml:"bonds"`
}

type bondInput struct {
	ID               string  `yaml:"id"`
	Maturity         string  `yaml:"maturity"`
	Coupon           float64 `yaml:"coupon"`
	Frequency        int     `yaml:"frequency"`
	ConversionFactor float64 `yaml:"conversion_factor"`
}

func loadScenario(path string) (scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return scenario{}, err
	}
	var s scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return scenario{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

func parseDate(field, v string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %v", field, err)
	}
	return d, nil
}

func (s scenario) curves() (curve.Bundle, error) {
	out := make(curve.Bundle, len(s.Curves))
	for name, c := range s.Curves {
		yc, err := curve.NewYieldCurve(c.Times, c.Rates)
		if err != nil {
			return nil, fmt.Errorf("curve %s: %w", name, err)
		}
		out[name] = yc
	}
	return out, nil
}

func (s scenario) surface() (*sabr.GridSurface, error) {
	return sabr.NewGridSurface(s.SABR.Expiries, s.SABR.Tenors, s.SABR.Alpha, s.SABR.Rho, s.SABR.Nu, s.SABR.Beta)
}

func (s scenario) hullWhite() (*hullwhite.Parameters, error) {
	return hullwhite.NewParameters(s.HullWhite.MeanReversion, s.HullWhite.Volatility, s.HullWhite.VolatilityTime)
}

// swaption builds the target, its basket and an LMM seed on the target's forwards.
func (s scenario) swaption(in swaptionInput, curves curve.Provider) (instrument.Swaption, basket.Basket, *lmm.Parameters, error) {
	valuation, err := parseDate("valuation_date", s.ValuationDate)
	if err != nil {
		return instrument.Swaption{}, basket.Basket{}, nil, err
	}
	dates := make([]time.Time, 3)
	for i, f := range []struct{ name, v string }{{"expiry", in.Expiry}, {"effective", in.Effective}, {"maturity", in.Maturity}} {
		if dates[i], err = parseDate(f.name, f.v); err != nil {
			return instrument.Swaption{}, basket.Basket{}, nil, err
		}
	}
	target := basket.DatedTarget{
		Valuation: valuation,
		Expiry:    dates[0],
		Effective: dates[1],
		Maturity:  dates[2],
		Leg: schedule.LegConvention{
			DayCount:     in.DayCount,
			PayFrequency: schedule.Frequency(in.PayFrequency),
			Calendar:     calendar.CalendarID(in.Calendar),
			Direction:    schedule.Backward,
		},
		Notional:  in.Notional,
		Notionals: in.Notionals,
		Strike:    in.Strike,
		Payer:     in.Payer,
		CurveName: in.Curve,
	}
	swn, b, err := basket.BuildFromDates(target, curves, in.Moneyness, in.ForwardsPerPeriod)
	if err != nil {
		return instrument.Swaption{}, basket.Basket{}, nil, err
	}

	n := len(swn.Periods)
	times := make([]float64, n+1)
	vol := make([][]float64, n)
	disp := make([]float64, n)
	for j, p := range swn.Periods {
		times[j] = p.Start
		vol[j] = make([]float64, s.LMM.NbFactors)
		for k := range vol[j] {
			// Factor loadings on the unit sphere, rotating with the forward index.
			vol[j][k] = s.LMM.Volatility * loading(k, s.LMM.NbFactors, s.LMM.AngleStep*float64(j))
		}
		disp[j] = s.LMM.Displacement
	}
	times[n] = swn.Maturity()
	seed, err := lmm.NewParameters(times, vol, disp, s.LMM.MeanReversion)
	if err != nil {
		return instrument.Swaption{}, basket.Basket{}, nil, err
	}
	return swn, b, seed, nil
}

func loading(k, nbFactors int, angle float64) float64 {
	if nbFactors == 1 {
		return 1
	}
	if k == 0 {
		return math.Cos(angle)
	}
	return math.Sin(angle) / math.Sqrt(float64(nbFactors-1))
}

func (s scenario) future(in futureInput) (future.BondFuture, error) {
	valuation, err := parseDate("valuation_date", s.ValuationDate)
	if err != nil {
		return future.BondFuture{}, err
	}
	notice, err := parseDate("notice_date", in.NoticeDate)
	if err != nil {
		return future.BondFuture{}, err
	}
	delivery, err := parseDate("delivery_date", in.DeliveryDate)
	if err != nil {
		return future.BondFuture{}, err
	}
	f := future.BondFuture{
		NoticeLastTime:   utils.TimeFrom(valuation, notice),
		DeliveryLastTime: utils.TimeFrom(valuation, delivery),
		Notional:         in.Notional,
		ReferencePrice:   in.ReferencePrice,
		CurveName:        in.Curve,
	}
	for _, b := range in.Bonds {
		maturity, err := parseDate("bond maturity", b.Maturity)
		if err != nil {
			return future.BondFuture{}, err
		}
		d, err := bond.NewFixedCoupon(bond.FixedCouponInput{
			ID:               b.ID,
			Valuation:        valuation,
			Delivery:         delivery,
			Maturity:         maturity,
			CouponRate:       b.Coupon,
			CouponFrequency:  b.Frequency,
			ConversionFactor: b.ConversionFactor,
		})
		if err != nil {
			return future.BondFuture{}, err
		}
		f.Basket = append(f.Basket, d)
	}
	return f, nil
}
