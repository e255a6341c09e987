package calibration

import (
	"context"
	"errors"
	"fmt"

	"github.com/meenmo/mocalib/basket"
	"github.com/meenmo/mocalib/instrument"
	"github.com/meenmo/mocalib/linalg"
	"github.com/meenmo/mocalib/lmm"
	"github.com/meenmo/mocalib/sabr"
	"github.com/meenmo/mocalib/sensitivity"
)

// ImplicitPropagator prices Target in the LMM calibrated to Basket and
// returns its sensitivities to the reference SABR parameters of each basket
// period and to the discount curves, including the part induced by the
// recalibration.
//
// With Φ the period unknowns (γ_p, d_p), r the basket residuals and the
// period first-order conditions g_p = J_ppᵀ r_p, the derivative
// dΦ/dΘ = -(∂g/∂Φ)⁻¹ ∂g/∂Θ drops second derivatives of the LMM prices; the
// approximation is exact whenever the residuals vanish.
type ImplicitPropagator struct {
	Engine Engine
	Target instrument.Swaption
	Basket basket.Basket
	Seed   *lmm.Parameters
}

// Jacobians holds the per-request derivative blocks.
type Jacobians struct {
	// Model is dPriceCal/dΦ, nbCal x 2·nbPeriods; columns (γ_p, d_p).
	Model linalg.Matrix
	// Reference is dPriceCal/dΘ, nbCal x 3·nbPeriods; columns (α_p, ρ_p, ν_p).
	Reference linalg.Matrix
	// Condition is ∂g/∂Φ, 2·nbPeriods square and block lower triangular.
	Condition linalg.Matrix
}

// Propagate implements sensitivity.Propagator.
func (ip ImplicitPropagator) Propagate(ctx context.Context) (sensitivity.Result, error) {
	cal, err := ip.Engine.Calibrate(ctx, ip.Basket, ip.Seed)
	if err != nil {
		return sensitivity.Result{}, fmt.Errorf("Propagate: %w", err)
	}
	b := ip.Basket
	nbCal := len(b.Instruments)

	lmmSens := make([]lmm.Sensitivities, nbCal)
	refSens := make([]sabr.Sensitivities, nbCal)
	for i, inst := range b.Instruments {
		if lmmSens[i], err = ip.Engine.Target.Sensitivity(inst, cal.Parameters); err != nil {
			return sensitivity.Result{}, fmt.Errorf("Propagate: basket %d: %w", i, err)
		}
		if refSens[i], err = ip.Engine.Reference.Sensitivity(inst); err != nil {
			return sensitivity.Result{}, fmt.Errorf("Propagate: basket %d: %w", i, err)
		}
	}
	target, err := ip.Engine.Target.Sensitivity(ip.Target, cal.Parameters)
	if err != nil {
		return sensitivity.Result{}, fmt.Errorf("Propagate: target: %w", err)
	}

	jacs, err := BuildJacobians(b, cal, lmmSens, refSens)
	if err != nil {
		return sensitivity.Result{}, fmt.Errorf("Propagate: %w", err)
	}
	inverse, err := linalg.Inverse(jacs.Condition)
	if err != nil {
		if errors.Is(err, linalg.ErrSingular) {
			return sensitivity.Result{}, fmt.Errorf("Propagate: %v: %w", err, ErrSingularCalibrationJacobian)
		}
		return sensitivity.Result{}, fmt.Errorf("Propagate: %w", err)
	}

	dPdPhi := make([]float64, 2*b.NbPeriods)
	for p, block := range cal.Blocks {
		dPdPhi[2*p], dPdPhi[2*p+1] = blockDerivatives(target, block, cal.Gamma[p])
	}
	// v = dP/dΦ · (∂g/∂Φ)⁻¹
	v, err := inverse.ApplyLeft(linalg.NewVector(dPdPhi))
	if err != nil {
		return sensitivity.Result{}, fmt.Errorf("Propagate: %w", err)
	}

	// Basket weights: dP/dΘ = Σ_i weight_i · dPriceRef_i/dΘ, because ∂g_p/∂Θ only
	// involves the instruments of period p.
	weights := make([]float64, nbCal)
	for i := range b.Instruments {
		p := b.PeriodOf(i)
		weights[i] = v.At(2*p)*jacs.Model.At(i, 2*p) + v.At(2*p+1)*jacs.Model.At(i, 2*p+1)
	}

	out := sensitivity.Result{
		Value:  target.Price,
		Curves: target.Curves,
		SABR:   sensitivity.SABRSensitivity{},
	}
	for i := range b.Instruments {
		p := b.PeriodOf(i)
		point := b.Points[p]
		cur := out.SABR[point]
		out.SABR[point] = sensitivity.SABRTriple{
			Alpha: cur.Alpha + weights[i]*jacs.Reference.At(i, 3*p),
			Rho:   cur.Rho + weights[i]*jacs.Reference.At(i, 3*p+1),
			Nu:    cur.Nu + weights[i]*jacs.Reference.At(i, 3*p+2),
		}
		// Induced curve leg: -weight · ∂r_i/∂Curve.
		residual := lmmSens[i].Curves.Add(refSens[i].Curves.Multiply(-1))
		out.Curves = out.Curves.Add(residual.Multiply(-weights[i]))
	}
	out.Curves = out.Curves.Cleaned()
	return out, nil
}

// BuildJacobians assembles the model and reference Jacobians of the basket and
// the first-order condition derivative ∂g/∂Φ with blocks J_ppᵀ J_pq, q <= p.
func BuildJacobians(b basket.Basket, cal Result, lmmSens []lmm.Sensitivities, refSens []sabr.Sensitivities) (Jacobians, error) {
	nbCal := len(b.Instruments)
	if len(lmmSens) != nbCal || len(refSens) != nbCal {
		return Jacobians{}, fmt.Errorf("BuildJacobians: %d instruments, %d/%d sensitivities: %w",
			nbCal, len(lmmSens), len(refSens), linalg.ErrShape)
	}
	nbPhi := 2 * b.NbPeriods
	model := linalg.NewMatrix(nbCal, nbPhi)
	reference := linalg.NewMatrix(nbCal, 3*b.NbPeriods)
	for i := range b.Instruments {
		for q, block := range cal.Blocks {
			dGamma, dDisp := blockDerivatives(lmmSens[i], block, cal.Gamma[q])
			model.Set(i, 2*q, dGamma)
			model.Set(i, 2*q+1, dDisp)
		}
		p := b.PeriodOf(i)
		reference.Set(i, 3*p, refSens[i].Params.Alpha)
		reference.Set(i, 3*p+1, refSens[i].Params.Rho)
		reference.Set(i, 3*p+2, refSens[i].Params.Nu)
	}

	condition := linalg.NewMatrix(nbPhi, nbPhi)
	for i := range b.Instruments {
		p := b.PeriodOf(i)
		for a := 0; a < 2; a++ {
			for col := 0; col < nbPhi; col++ {
				condition.Set(2*p+a, col, condition.At(2*p+a, col)+model.At(i, 2*p+a)*model.At(i, col))
			}
		}
	}
	return Jacobians{Model: model, Reference: reference, Condition: condition}, nil
}
