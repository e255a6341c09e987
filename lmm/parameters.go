// Package lmm implements the displaced-diffusion Libor Market Model used as
// the calibrated (target) model for swaption-based exotics.
package lmm

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParameters is returned for inconsistent parameter shapes.
var ErrInvalidParameters = errors.New("invalid LMM parameters")

// timeTolerance is the matching tolerance between instrument and model times.
const timeTolerance = 1e-6

// Parameters describe the LMM forwards on consecutive [IborTimes[j], IborTimes[j+1]]
// periods. Forward j follows dF_j = (F_j + Displacement[j]) σ_j(t)·dW with
// σ_j,k(t) = Volatility[j][k]·exp(-MeanReversion·(IborTimes[j] - t)).
type Parameters struct {
	IborTimes     []float64
	Volatility    [][]float64
	Displacement  []float64
	MeanReversion float64
}

// NewParameters validates shapes and returns a deep copy of the inputs.
func NewParameters(iborTimes []float64, volatility [][]float64, displacement []float64, meanReversion float64) (*Parameters, error) {
	n := len(iborTimes) - 1
	if n < 1 {
		return nil, fmt.Errorf("NewParameters: need at least two ibor times: %w", ErrInvalidParameters)
	}
	for j := 1; j < len(iborTimes); j++ {
		if iborTimes[j] <= iborTimes[j-1] {
			return nil, fmt.Errorf("NewParameters: ibor times not increasing at %d: %w", j, ErrInvalidParameters)
		}
	}
	if len(volatility) != n || len(displacement) != n {
		return nil, fmt.Errorf("NewParameters: %d forwards, %d volatility rows, %d displacements: %w",
			n, len(volatility), len(displacement), ErrInvalidParameters)
	}
	nbFactor := len(volatility[0])
	for j, row := range volatility {
		if len(row) != nbFactor || nbFactor == 0 {
			return nil, fmt.Errorf("NewParameters: volatility row %d has %d factors: %w", j, len(row), ErrInvalidParameters)
		}
	}
	p := &Parameters{
		IborTimes:     iborTimes,
		Volatility:    volatility,
		Displacement:  displacement,
		MeanReversion: meanReversion,
	}
	return p.Copy(), nil
}

// NbForwards returns the number of modelled forwards.
func (p *Parameters) NbForwards() int {
	return len(p.Displacement)
}

// NbFactors returns the number of Brownian factors.
func (p *Parameters) NbFactors() int {
	return len(p.Volatility[0])
}

// Copy returns a deep clone.
func (p *Parameters) Copy() *Parameters {
	vol := make([][]float64, len(p.Volatility))
	for j, row := range p.Volatility {
		vol[j] = append([]float64(nil), row...)
	}
	return &Parameters{
		IborTimes:     append([]float64(nil), p.IborTimes...),
		Volatility:    vol,
		Displacement:  append([]float64(nil), p.Displacement...),
		MeanReversion: p.MeanReversion,
	}
}

// Equal reports exact equality of every parameter.
func (p *Parameters) Equal(other *Parameters) bool {
	if other == nil || p.MeanReversion != other.MeanReversion ||
		len(p.IborTimes) != len(other.IborTimes) || len(p.Volatility) != len(other.Volatility) {
		return false
	}
	for i := range p.IborTimes {
		if p.IborTimes[i] != other.IborTimes[i] {
			return false
		}
	}
	for j := range p.Volatility {
		if p.Displacement[j] != other.Displacement[j] || len(p.Volatility[j]) != len(other.Volatility[j]) {
			return false
		}
		for k := range p.Volatility[j] {
			if p.Volatility[j][k] != other.Volatility[j][k] {
				return false
			}
		}
	}
	return true
}

// ForwardIndex returns the index of the forward starting at t.
func (p *Parameters) ForwardIndex(t float64) (int, error) {
	for j := 0; j < p.NbForwards(); j++ {
		if math.Abs(p.IborTimes[j]-t) < timeTolerance {
			return j, nil
		}
	}
	return 0, fmt.Errorf("ForwardIndex: no forward starts at %.6f: %w", t, ErrInvalidParameters)
}

// ScaleVolatility multiplies the volatilities of forwards [from, to) by f.
func (p *Parameters) ScaleVolatility(from, to int, f float64) {
	for j := from; j < to; j++ {
		for k := range p.Volatility[j] {
			p.Volatility[j][k] *= f
		}
	}
}

// SetDisplacement sets the displacement of forwards [from, to) to d.
func (p *Parameters) SetDisplacement(from, to int, d float64) {
	for j := from; j < to; j++ {
		p.Displacement[j] = d
	}
}

// covariance returns ∫_0^expiry σ_i(s)·σ_j(s) ds for forwards i and j.
func (p *Parameters) covariance(i, j int, expiry float64) float64 {
	dot := 0.0
	for k := range p.Volatility[i] {
		dot += p.Volatility[i][k] * p.Volatility[j][k]
	}
	a := p.MeanReversion
	integral := expiry
	if math.Abs(a) > 1e-12 {
		integral = (math.Exp(2*a*expiry) - 1) / (2 * a)
	}
	return dot * math.Exp(-a*(p.IborTimes[i]+p.IborTimes[j])) * integral
}
