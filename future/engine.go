package future

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/meenmo/mocalib/bond"
	"github.com/meenmo/mocalib/config"
	"github.com/meenmo/mocalib/curve"
	"github.com/meenmo/mocalib/hullwhite"
	"github.com/meenmo/mocalib/rootfind"
)

// Engine prices bond futures. It is stateless; Curves and Model are read-only.
type Engine struct {
	Config config.Config
	Logger *zap.Logger
	Curves curve.Provider
	Model  *hullwhite.Parameters
}

// Interval is a range of the state variable on which one bond is cheapest.
type Interval struct {
	Lower float64
	Upper float64
	CTD   int
}

// Valuation is the detailed output of Engine.Value.
type Valuation struct {
	Price     float64
	Intervals []Interval
}

// bondTerms holds the per-bond inputs of the state-space value
// value(x) = Σ e_i exp(-α_i²/2 - α_i x) - k.
type bondTerms struct {
	e, alpha, df, beta []float64
	k                  float64
}

type state struct {
	dfDelivery float64
	bonds      []bondTerms
}

func (s state) value(b int, x float64) float64 {
	t := s.bonds[b]
	v := -t.k
	for i, e := range t.e {
		v += e * math.Exp(-0.5*t.alpha[i]*t.alpha[i]-t.alpha[i]*x)
	}
	return v
}

func (e Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Engine) prepare(f BondFuture) (state, error) {
	if err := e.Config.Validate(); err != nil {
		return state{}, err
	}
	if e.Curves == nil || e.Model == nil {
		return state{}, fmt.Errorf("engine needs curves and a model: %w", ErrInvalidFuture)
	}
	if err := f.Validate(); err != nil {
		return state{}, err
	}
	v := f.DeliveryLastTime
	pv, err := e.Curves.DiscountFactor(f.CurveName, v)
	if err != nil {
		return state{}, err
	}
	s := state{dfDelivery: pv, bonds: make([]bondTerms, len(f.Basket))}
	for b, d := range f.Basket {
		n := len(d.Flows)
		t := bondTerms{
			e:     make([]float64, n),
			alpha: make([]float64, n),
			df:    make([]float64, n),
			beta:  make([]float64, n),
			k:     d.AccruedInterest / d.ConversionFactor,
		}
		for i, flow := range d.Flows {
			if t.df[i], err = e.Curves.DiscountFactor(f.CurveName, flow.Time); err != nil {
				return state{}, err
			}
			t.alpha[i] = e.Model.Alpha(f.NoticeLastTime, flow.Time, v)
			t.beta[i] = e.Model.FuturesConvexityFactor(f.NoticeLastTime, flow.Time, v)
			t.e[i] = flow.Amount * t.df[i] / pv * t.beta[i] / d.ConversionFactor
		}
		s.bonds[b] = t
	}
	return s, nil
}

// Grid returns the sorted abscissae: nbPoint - 2·(nbPoint/4) uniform points on
// [-center, center] and nbPoint/4 geometric points per wing out to ±halfWidth.
// Arguments must satisfy config.Config.Validate (nbPoint >= 8, 0 < center < halfWidth).
func Grid(nbPoint int, center, halfWidth float64) []float64 {
	nbWing := nbPoint / 4
	nbCenter := nbPoint - 2*nbWing
	wing := make([]float64, nbWing)
	ratio := math.Pow(halfWidth/center, 1/float64(nbWing))
	for k := range wing {
		wing[k] = center * math.Pow(ratio, float64(k+1))
	}
	wing[nbWing-1] = halfWidth

	x := make([]float64, 0, nbPoint)
	for k := nbWing - 1; k >= 0; k-- {
		x = append(x, -wing[k])
	}
	for k := 0; k < nbCenter; k++ {
		x = append(x, -center+2*center*float64(k)/float64(nbCenter-1))
	}
	return append(x, wing...)
}

// cheapest returns the index of the bond with the lowest value at x; ties go to the lowest index.
func (s state) cheapest(x float64) int {
	best, bestValue := 0, s.value(0, x)
	for b := 1; b < len(s.bonds); b++ {
		if v := s.value(b, x); v < bestValue {
			best, bestValue = b, v
		}
	}
	return best
}

// switchPoint locates where bonds b1 and b2 have equal value in [lo, hi].
func (s state) switchPoint(b1, b2 int, lo, hi, tol float64) (float64, error) {
	return rootfind.Ridder(func(x float64) float64 { return s.value(b1, x) - s.value(b2, x) }, lo, hi, tol)
}

func (e Engine) intervals(s state) ([]Interval, error) {
	x := Grid(e.Config.NbPoint, e.Config.GridCenter, e.Config.GridHalfWidth)
	ctd := make([]int, len(x))
	for k, xk := range x {
		ctd[k] = s.cheapest(xk)
	}
	out := []Interval{{Lower: math.Inf(-1), CTD: ctd[0]}}
	for k := 1; k < len(x); k++ {
		if ctd[k] == ctd[k-1] {
			continue
		}
		root, err := s.switchPoint(ctd[k-1], ctd[k], x[k-1], x[k], e.Config.RootTolerance)
		if err != nil {
			return nil, fmt.Errorf("switch %d/%d in [%.6f, %.6f]: %w", ctd[k-1], ctd[k], x[k-1], x[k], err)
		}
		out[len(out)-1].Upper = root
		out = append(out, Interval{Lower: root, CTD: ctd[k]})
	}
	out[len(out)-1].Upper = math.Inf(1)
	return out, nil
}

func cdf(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// Value returns the futures price per unit notional with the CTD intervals.
func (e Engine) Value(f BondFuture) (Valuation, error) {
	s, err := e.prepare(f)
	if err != nil {
		return Valuation{}, fmt.Errorf("Value: %w", err)
	}
	intervals, err := e.intervals(s)
	if err != nil {
		return Valuation{}, fmt.Errorf("Value: %w", err)
	}
	price := 0.0
	for _, iv := range intervals {
		t := s.bonds[iv.CTD]
		for i, ei := range t.e {
			price += ei * (cdf(iv.Upper+t.alpha[i]) - cdf(iv.Lower+t.alpha[i]))
		}
		price -= t.k * (cdf(iv.Upper) - cdf(iv.Lower))
	}
	e.logger().Debug("bond future priced",
		zap.Float64("price", price),
		zap.Int("intervals", len(intervals)),
	)
	return Valuation{Price: price, Intervals: intervals}, nil
}

// Price returns the futures price per unit notional.
func (e Engine) Price(f BondFuture) (float64, error) {
	v, err := e.Value(f)
	if err != nil {
		return 0, err
	}
	return v.Price, nil
}

// PresentValue returns (price - reference price) × notional.
func (e Engine) PresentValue(f BondFuture) (float64, error) {
	price, err := e.Price(f)
	if err != nil {
		return 0, fmt.Errorf("PresentValue: %w", err)
	}
	return (price - f.ReferencePrice) * f.Notional, nil
}

// ImpliedForwardYield returns the forward yield of the bond cheapest at the
// central state x = 0, implied by the model futures price.
func (e Engine) ImpliedForwardYield(f BondFuture) (bond.ForwardYieldResult, error) {
	s, err := e.prepare(f)
	if err != nil {
		return bond.ForwardYieldResult{}, fmt.Errorf("ImpliedForwardYield: %w", err)
	}
	price, err := e.Price(f)
	if err != nil {
		return bond.ForwardYieldResult{}, fmt.Errorf("ImpliedForwardYield: %w", err)
	}
	return bond.ImpliedForwardYield(f.Basket[s.cheapest(0)], f.DeliveryLastTime, price)
}
