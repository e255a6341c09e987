// Package hullwhite implements the one-factor Hull-White model with
// piecewise-constant volatility, restricted to what bond-futures pricing needs.
package hullwhite

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParameters is returned for inconsistent parameters.
var ErrInvalidParameters = errors.New("invalid Hull-White parameters")

// Parameters of dr = (θ(t) - a r) dt + σ(t) dW. Volatility[k] applies on
// [VolatilityTime[k-1], VolatilityTime[k]) with the first interval starting at
// 0 and the last one unbounded, so len(VolatilityTime) == len(Volatility)-1.
type Parameters struct {
	MeanReversion  float64
	Volatility     []float64
	VolatilityTime []float64
}

// NewParameters validates and copies the inputs.
func NewParameters(meanReversion float64, volatility, volatilityTime []float64) (*Parameters, error) {
	if meanReversion <= 0 {
		return nil, fmt.Errorf("NewParameters: mean reversion %g must be positive: %w", meanReversion, ErrInvalidParameters)
	}
	if len(volatility) == 0 || len(volatilityTime) != len(volatility)-1 {
		return nil, fmt.Errorf("NewParameters: %d volatilities with %d times: %w", len(volatility), len(volatilityTime), ErrInvalidParameters)
	}
	prev := 0.0
	for i, t := range volatilityTime {
		if t <= prev {
			return nil, fmt.Errorf("NewParameters: volatility time %d not increasing: %w", i, ErrInvalidParameters)
		}
		prev = t
	}
	p := &Parameters{MeanReversion: meanReversion, Volatility: volatility, VolatilityTime: volatilityTime}
	return p.Copy(), nil
}

// Copy returns a deep clone.
func (p *Parameters) Copy() *Parameters {
	return &Parameters{
		MeanReversion:  p.MeanReversion,
		Volatility:     append([]float64(nil), p.Volatility...),
		VolatilityTime: append([]float64(nil), p.VolatilityTime...),
	}
}

// integrate returns Σ_k σ_k² (exp(c·s_{k+1}) - exp(c·s_k)) over the pieces of [0, theta].
func (p *Parameters) integrate(theta, c float64) float64 {
	total := 0.0
	start := 0.0
	for k, vol := range p.Volatility {
		end := theta
		if k < len(p.VolatilityTime) && p.VolatilityTime[k] < theta {
			end = p.VolatilityTime[k]
		}
		if end > start {
			total += vol * vol * math.Exp(c*start) * math.Expm1(c*(end-start))
		}
		if end >= theta {
			break
		}
		start = end
	}
	return total
}

// Alpha returns the standard deviation at theta of the log of the bond price
// P(v, u) seen from the delivery date v, for a cash flow at u >= v.
func (p *Parameters) Alpha(theta, u, v float64) float64 {
	a := p.MeanReversion
	factor := (math.Exp(-a*v) - math.Exp(-a*u)) / a
	return factor * math.Sqrt(p.integrate(theta, 2*a)/(2*a))
}

// FuturesConvexityFactor returns the multiplicative adjustment between the
// forward and the futures-measure expectation of P(v, u) when margining stops at theta.
func (p *Parameters) FuturesConvexityFactor(theta, u, v float64) float64 {
	a := p.MeanReversion
	ev := math.Exp(-a * v)
	factor := (ev - math.Exp(-a*u)) / (a * a * a)
	logBeta := -factor * (p.integrate(theta, a) - ev*p.integrate(theta, 2*a)/2)
	return math.Exp(logBeta)
}
