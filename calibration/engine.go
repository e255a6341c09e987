// Package calibration calibrates the LMM to a vanilla swaption basket priced
// by a reference smile model, one structural period at a time, and propagates
// reference-model and curve sensitivities through the calibration with the
// implicit function theorem.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/meenmo/mocalib/basket"
	"github.com/meenmo/mocalib/config"
	"github.com/meenmo/mocalib/instrument"
	"github.com/meenmo/mocalib/linalg"
	"github.com/meenmo/mocalib/lmm"
	"github.com/meenmo/mocalib/sabr"
)

var (
	// ErrCalibrationDidNotConverge is returned when a period cannot be fitted
	// within Config.MaxCalibrationIterations. No partial result is returned.
	ErrCalibrationDidNotConverge = errors.New("calibration did not converge")
	// ErrSingularCalibrationJacobian is returned when the first-order
	// condition derivative cannot be inverted. It wraps linalg.ErrSingular.
	ErrSingularCalibrationJacobian = fmt.Errorf("singular calibration jacobian: %w", linalg.ErrSingular)
)

// ReferencePricer prices the basket instruments in the reference smile model.
type ReferencePricer interface {
	Price(s instrument.Swaption) (float64, error)
	Sensitivity(s instrument.Swaption) (sabr.Sensitivities, error)
}

// TargetPricer prices swaptions in the calibrated model.
type TargetPricer interface {
	Price(s instrument.Swaption, params *lmm.Parameters) (float64, error)
	Sensitivity(s instrument.Swaption, params *lmm.Parameters) (lmm.Sensitivities, error)
}

const (
	maxHalvings = 30
	// levenbergDamping is used only when the undamped Gauss-Newton system is singular.
	levenbergDamping = 1e-8
)

// Engine runs the successive calibration. It holds no mutable state and can
// be shared between goroutines.
type Engine struct {
	Config    config.Config
	Logger    *zap.Logger
	Reference ReferencePricer
	Target    TargetPricer
}

// Result is a calibrated parameter set with per-period unknowns.
type Result struct {
	Parameters *lmm.Parameters
	// Gamma[p] multiplies the seed volatilities of the forwards of period p.
	Gamma []float64
	// Displacement[p] is the displacement of the forwards of period p.
	Displacement []float64
	// Blocks[p] lists the LMM forward indices calibrated in period p.
	Blocks          [][]int
	ReferencePrices []float64
	Residuals       []float64
	Iterations      []int
}

func (e Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Blocks maps each basket period to the LMM forwards it owns: the forwards of
// the last ForwardsPerPeriod periods of the period's longest instrument.
func Blocks(b basket.Basket, params *lmm.Parameters) ([][]int, error) {
	blocks := make([][]int, b.NbPeriods)
	for p := 0; p < b.NbPeriods; p++ {
		periods := b.Period(p)[0].Periods
		for _, per := range periods[p*b.ForwardsPerPeriod:] {
			j, err := params.ForwardIndex(per.Start)
			if err != nil {
				return nil, fmt.Errorf("Blocks: period %d: %w", p, err)
			}
			blocks[p] = append(blocks[p], j)
		}
	}
	return blocks, nil
}

// Calibrate fits the basket period by period in chronological order. The
// seed is cloned on entry and never modified.
func (e Engine) Calibrate(ctx context.Context, b basket.Basket, seed *lmm.Parameters) (Result, error) {
	if err := e.Config.Validate(); err != nil {
		return Result{}, fmt.Errorf("Calibrate: %w", err)
	}
	if e.Reference == nil || e.Target == nil {
		return Result{}, fmt.Errorf("Calibrate: reference and target pricers are required: %w", config.ErrInvalidConfig)
	}
	log := e.logger()
	params := seed.Copy()
	blocks, err := Blocks(b, params)
	if err != nil {
		return Result{}, fmt.Errorf("Calibrate: %w", err)
	}

	res := Result{
		Parameters:      params,
		Gamma:           make([]float64, b.NbPeriods),
		Displacement:    make([]float64, b.NbPeriods),
		Blocks:          blocks,
		ReferencePrices: make([]float64, len(b.Instruments)),
		Residuals:       make([]float64, len(b.Instruments)),
		Iterations:      make([]int, b.NbPeriods),
	}
	for i, inst := range b.Instruments {
		if res.ReferencePrices[i], err = e.Reference.Price(inst); err != nil {
			return Result{}, fmt.Errorf("Calibrate: reference price %d: %w", i, err)
		}
	}

	for p := 0; p < b.NbPeriods; p++ {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("Calibrate: %w", err)
		}
		insts := b.Period(p)
		targets := res.ReferencePrices[p*b.NbStrikes : (p+1)*b.NbStrikes]
		fit, err := e.calibratePeriod(insts, targets, blocks[p], seed, params)
		if err != nil {
			return Result{}, fmt.Errorf("Calibrate: period %d: %w", p, err)
		}
		res.Gamma[p] = fit.gamma
		res.Displacement[p] = fit.displacement
		res.Iterations[p] = fit.iterations
		copy(res.Residuals[p*b.NbStrikes:], fit.residuals)
		log.Debug("period calibrated",
			zap.Int("period", p),
			zap.Int("iterations", fit.iterations),
			zap.Float64("gamma", fit.gamma),
			zap.Float64("displacement", fit.displacement),
			zap.Float64("maxResidual", maxAbs(fit.residuals)),
		)
	}
	return res, nil
}

type periodFit struct {
	gamma        float64
	displacement float64
	residuals    []float64
	iterations   int
}

// apply sets the period unknowns on params, scaling the seed volatilities.
func apply(params, seed *lmm.Parameters, block []int, gamma, displacement float64) {
	for _, j := range block {
		copy(params.Volatility[j], seed.Volatility[j])
		params.ScaleVolatility(j, j+1, gamma)
		params.SetDisplacement(j, j+1, displacement)
	}
}

// evaluate returns residuals and, when jac is non-nil, fills the nbStrikes x 2 Jacobian.
func (e Engine) evaluate(insts []instrument.Swaption, targets []float64, block []int,
	params *lmm.Parameters, gamma float64, jac [][]float64) ([]float64, error) {
	r := make([]float64, len(insts))
	for i, inst := range insts {
		if jac == nil {
			v, err := e.Target.Price(inst, params)
			if err != nil {
				return nil, err
			}
			r[i] = v - targets[i]
			continue
		}
		sens, err := e.Target.Sensitivity(inst, params)
		if err != nil {
			return nil, err
		}
		r[i] = sens.Price - targets[i]
		jac[i][0], jac[i][1] = blockDerivatives(sens, block, gamma)
	}
	return r, nil
}

// blockDerivatives returns dP/dγ and dP/dd for one period block.
func blockDerivatives(sens lmm.Sensitivities, block []int, gamma float64) (float64, float64) {
	var dGamma, dDisp float64
	for _, j := range block {
		dGamma += sens.VolatilityScale[j] / gamma
		dDisp += sens.Displacement[j]
	}
	return dGamma, dDisp
}

func (e Engine) calibratePeriod(insts []instrument.Swaption, targets []float64, block []int,
	seed, params *lmm.Parameters) (periodFit, error) {
	cfg := e.Config
	notional := 0.0
	for _, inst := range insts {
		notional = math.Max(notional, inst.MaxNotional())
	}
	tol := cfg.PVToleranceMultiplier * math.Max(1.0, notional)
	overDetermined := len(insts) > 2

	gamma, disp := 1.0, params.Displacement[block[0]]
	apply(params, seed, block, gamma, disp)
	jac := make([][]float64, len(insts))
	for i := range jac {
		jac[i] = make([]float64, 2)
	}

	for iter := 1; iter <= cfg.MaxCalibrationIterations; iter++ {
		r, err := e.evaluate(insts, targets, block, params, gamma, jac)
		if err != nil {
			return periodFit{}, err
		}
		if maxAbs(r) <= tol {
			return periodFit{gamma: gamma, displacement: disp, residuals: r, iterations: iter - 1}, nil
		}

		step, err := gaussNewtonStep(jac, r)
		if err != nil {
			return periodFit{}, err
		}

		// Halve until the parameters are admissible and the fit does not deteriorate.
		objective := floats.Dot(r, r)
		accepted := false
		var trial []float64
		lambda := 1.0
		for h := 0; h < maxHalvings; h++ {
			g, d := gamma+lambda*step[0], disp+lambda*step[1]
			if g > 0 {
				apply(params, seed, block, g, d)
				trial, err = e.evaluate(insts, targets, block, params, g, nil)
				if err == nil && floats.Dot(trial, trial) <= objective {
					gamma, disp = g, d
					accepted = true
					break
				}
				if err != nil && !errors.Is(err, lmm.ErrNonPositiveDisplacedRate) {
					return periodFit{}, err
				}
			}
			lambda *= 0.5
		}
		if !accepted {
			apply(params, seed, block, gamma, disp)
			if overDetermined {
				// No descent direction left: the least-squares optimum is reached.
				return periodFit{gamma: gamma, displacement: disp, residuals: r, iterations: iter}, nil
			}
			break
		}

		relStep := lambda * math.Hypot(step[0], step[1]) / (1 + math.Hypot(gamma, disp))
		if maxAbs(trial) <= tol || (overDetermined && relStep < cfg.StepTolerance) {
			return periodFit{gamma: gamma, displacement: disp, residuals: trial, iterations: iter}, nil
		}
	}
	return periodFit{}, fmt.Errorf("%d iterations, tolerance %.3g: %w", cfg.MaxCalibrationIterations, tol, ErrCalibrationDidNotConverge)
}

// gaussNewtonStep solves J·δ = -r in the least-squares sense, falling back to
// damped normal equations when J is rank deficient.
func gaussNewtonStep(jac [][]float64, r []float64) ([]float64, error) {
	j, err := linalg.NewMatrixFromRows(jac)
	if err != nil {
		return nil, err
	}
	neg := make([]float64, len(r))
	floats.ScaleTo(neg, -1, r)
	if len(r) >= 2 {
		if step, err := linalg.Solve(j, linalg.NewVector(neg)); err == nil {
			return step.Values(), nil
		}
	}

	jt := j.Transpose()
	normal, err := linalg.Multiply(jt, j)
	if err != nil {
		return nil, err
	}
	for k := 0; k < normal.Rows(); k++ {
		normal.Set(k, k, normal.At(k, k)*(1+levenbergDamping)+levenbergDamping)
	}
	rhs, err := j.ApplyLeft(linalg.NewVector(neg))
	if err != nil {
		return nil, err
	}
	step, err := linalg.Solve(normal, rhs)
	if err != nil {
		return nil, fmt.Errorf("gaussNewtonStep: %w", err)
	}
	return step.Values(), nil
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
