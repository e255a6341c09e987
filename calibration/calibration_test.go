package calibration_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meenmo/mocalib/basket"
	"github.com/meenmo/mocalib/calibration"
	"github.com/meenmo/mocalib/config"
	"github.com/meenmo/mocalib/curve"
	"github.com/meenmo/mocalib/instrument"
	"github.com/meenmo/mocalib/linalg"
	"github.com/meenmo/mocalib/lmm"
	"github.com/meenmo/mocalib/sabr"
)

var (
	tenors = []float64{1, 2, 3}
	alphas = []float64{0.030, 0.031, 0.032}
	rhos   = []float64{0.10, 0.05, 0.0}
	nus    = []float64{0.25, 0.20, 0.20}
)

type market struct {
	curves  curve.Bundle
	surface *sabr.GridSurface
}

func baseCurve(t *testing.T) *curve.YieldCurve {
	t.Helper()
	c, err := curve.NewYieldCurve([]float64{1, 3, 5}, []float64{0.02, 0.025, 0.027})
	require.NoError(t, err)
	return c
}

// surfaceWith builds the reference surface with node p of param bumped by h.
func surfaceWith(t *testing.T, param string, p int, h float64) *sabr.GridSurface {
	t.Helper()
	a := append([]float64(nil), alphas...)
	r := append([]float64(nil), rhos...)
	n := append([]float64(nil), nus...)
	switch param {
	case "alpha":
		a[p] += h
	case "rho":
		r[p] += h
	case "nu":
		n[p] += h
	}
	s, err := sabr.NewGridSurface([]float64{1}, tenors, [][]float64{a}, [][]float64{r}, [][]float64{n}, 0.5)
	require.NoError(t, err)
	return s
}

func seedParams(t *testing.T) *lmm.Parameters {
	t.Helper()
	times := make([]float64, 7)
	vol := make([][]float64, 6)
	disp := make([]float64, 6)
	for j := range times {
		times[j] = 1 + 0.5*float64(j)
	}
	for j := range vol {
		angle := 0.1 * float64(j)
		vol[j] = []float64{0.15 * math.Cos(angle), 0.15 * math.Sin(angle)}
		disp[j] = 0.02
	}
	p, err := lmm.NewParameters(times, vol, disp, 0.02)
	require.NoError(t, err)
	return p
}

func targetSwaption() instrument.Swaption {
	s := instrument.Swaption{Expiry: 1, Strike: 0.025, Payer: true, CurveName: "EUR"}
	for j := 0; j < 6; j++ {
		start := 1 + 0.5*float64(j)
		s.Periods = append(s.Periods, instrument.Period{Start: start, End: start + 0.5, Accrual: 0.5, Notional: 1e6 - 1e5*float64(j)})
	}
	return s
}

func testConfig() config.Config {
	cfg := config.DefaultConfig
	cfg.PVToleranceMultiplier = 1e-14
	return cfg
}

func engine(t *testing.T, m market) calibration.Engine {
	return calibration.Engine{
		Config:    testConfig(),
		Logger:    zaptest.NewLogger(t),
		Reference: sabr.Pricer{Surface: m.surface, Curves: m.curves},
		Target:    lmm.Pricer{Curves: m.curves},
	}
}

func fixture(t *testing.T, moneyness ...float64) (market, basket.Basket) {
	t.Helper()
	m := market{
		curves:  curve.Bundle{"EUR": baseCurve(t)},
		surface: surfaceWith(t, "", 0, 0),
	}
	if len(moneyness) == 0 {
		moneyness = []float64{-0.005, 0.005}
	}
	b, err := basket.Build(targetSwaption(), m.curves, moneyness, 2)
	require.NoError(t, err)
	return m, b
}

// targetPrice recalibrates on market m and prices the target. The basket is
// held fixed across scenarios.
func targetPrice(t *testing.T, m market, b basket.Basket) float64 {
	t.Helper()
	res, err := engine(t, m).Calibrate(context.Background(), b, seedParams(t))
	require.NoError(t, err)
	v, err := lmm.Pricer{Curves: m.curves}.Price(targetSwaption(), res.Parameters)
	require.NoError(t, err)
	return v
}

func TestCalibrate_ExactMatchAndSeedUntouched(t *testing.T) {
	t.Parallel()

	m, b := fixture(t)
	seed := seedParams(t)
	pristine := seed.Copy()

	res, err := engine(t, m).Calibrate(context.Background(), b, seed)
	require.NoError(t, err)
	assert.True(t, seed.Equal(pristine), "seed was modified")
	assert.False(t, res.Parameters.Equal(seed))
	require.Len(t, res.Gamma, 3)

	pricer := lmm.Pricer{Curves: m.curves}
	for i, inst := range b.Instruments {
		v, err := pricer.Price(inst, res.Parameters)
		require.NoError(t, err)
		assert.InDelta(t, res.ReferencePrices[i], v, 1e-8, "instrument %d", i)
		assert.InDelta(t, 0, res.Residuals[i], 1e-8)
	}
	for p, block := range res.Blocks {
		assert.Equal(t, []int{2 * p, 2*p + 1}, block)
		assert.Greater(t, res.Gamma[p], 0.0)
		for _, j := range block {
			assert.Equal(t, res.Displacement[p], res.Parameters.Displacement[j])
			assert.InDelta(t, res.Gamma[p]*seed.Volatility[j][0], res.Parameters.Volatility[j][0], 1e-15)
		}
	}

	again, err := engine(t, m).Calibrate(context.Background(), b, seed)
	require.NoError(t, err)
	assert.True(t, res.Parameters.Equal(again.Parameters))
}

// jacobians evaluates the basket Jacobians at the calibrated parameters.
func jacobians(t *testing.T, e calibration.Engine, b basket.Basket, res calibration.Result) calibration.Jacobians {
	t.Helper()
	lmmSens := make([]lmm.Sensitivities, len(b.Instruments))
	refSens := make([]sabr.Sensitivities, len(b.Instruments))
	var err error
	for i, inst := range b.Instruments {
		lmmSens[i], err = e.Target.Sensitivity(inst, res.Parameters)
		require.NoError(t, err)
		refSens[i], err = e.Reference.Sensitivity(inst)
		require.NoError(t, err)
	}
	jacs, err := calibration.BuildJacobians(b, res, lmmSens, refSens)
	require.NoError(t, err)
	return jacs
}

func TestCalibrate_OverDeterminedIsLeastSquaresOptimum(t *testing.T) {
	t.Parallel()

	m, b := fixture(t, -0.005, 0, 0.005)
	e := engine(t, m)
	res, err := e.Calibrate(context.Background(), b, seedParams(t))
	require.NoError(t, err)
	require.Len(t, res.Residuals, 9)

	jacs := jacobians(t, e, b, res)
	for p := 0; p < b.NbPeriods; p++ {
		rows := []int{p * b.NbStrikes, p*b.NbStrikes + 1, p*b.NbStrikes + 2}
		rNorm := 0.0
		for _, i := range rows {
			rNorm += res.Residuals[i] * res.Residuals[i]
		}
		rNorm = math.Sqrt(rNorm)
		for k := 0; k < 2; k++ {
			g, jNorm := 0.0, 0.0
			for _, i := range rows {
				j := jacs.Model.At(i, 2*p+k)
				g += j * res.Residuals[i]
				jNorm += j * j
			}
			jNorm = math.Sqrt(jNorm)
			assert.LessOrEqual(t, math.Abs(g), 1e-5*jNorm*rNorm+1e-9, "period %d unknown %d", p, k)
		}
	}

	// Two unknowns per period cannot match three strikes.
	assert.Greater(t, maxAbs(res.Residuals), testConfig().PVToleranceMultiplier*1e6)
}

func TestImplicitPropagator_OverDeterminedMatchesFiniteDifference(t *testing.T) {
	t.Parallel()

	m, b := fixture(t, -0.005, 0, 0.005)
	prop := calibration.ImplicitPropagator{Engine: engine(t, m), Target: targetSwaption(), Basket: b, Seed: seedParams(t)}
	out, err := prop.Propagate(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, targetPrice(t, m, b), out.Value, 1e-9)

	// Non-zero residuals: the curvature terms dropped from the condition
	// derivative make this first order in the misfit rather than exact.
	const rel = 5e-2
	total := 0.0
	for _, s := range out.SABR {
		total += s.Alpha
	}
	const h = 1e-4
	up := market{curves: m.curves, surface: m.surface.WithShift(h, 0, 0)}
	down := market{curves: m.curves, surface: m.surface.WithShift(-h, 0, 0)}
	fd := (targetPrice(t, up, b) - targetPrice(t, down, b)) / (2 * h)
	assert.InEpsilon(t, fd, total, rel)

	c := baseCurve(t)
	shifted := func(d float64) market {
		return market{curves: curve.Bundle{"EUR": c.WithParallelShift(d)}, surface: m.surface}
	}
	const hc = 1e-5
	fdCurve := (targetPrice(t, shifted(hc), b) - targetPrice(t, shifted(-hc), b)) / (2 * hc)
	assert.InEpsilon(t, fdCurve, out.Curves.Total("EUR"), rel)
}

func TestCalibrate_Errors(t *testing.T) {
	t.Parallel()

	m, b := fixture(t)
	e := engine(t, m)
	e.Config.MaxCalibrationIterations = 1
	_, err := e.Calibrate(context.Background(), b, seedParams(t))
	assert.ErrorIs(t, err, calibration.ErrCalibrationDidNotConverge)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine(t, m).Calibrate(ctx, b, seedParams(t))
	assert.ErrorIs(t, err, context.Canceled)

	zero := engine(t, m)
	zero.Config = config.Config{}
	_, err = zero.Calibrate(context.Background(), b, seedParams(t))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	noIter := engine(t, m)
	noIter.Config.MaxCalibrationIterations = 0
	_, err = noIter.Calibrate(context.Background(), b, seedParams(t))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.NotErrorIs(t, err, calibration.ErrCalibrationDidNotConverge)

	prop := calibration.ImplicitPropagator{Engine: noIter, Target: targetSwaption(), Basket: b, Seed: seedParams(t)}
	_, err = prop.Propagate(context.Background())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = calibration.Engine{Config: testConfig()}.Calibrate(context.Background(), b, seedParams(t))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestImplicitPropagator_SABRMatchesFiniteDifference(t *testing.T) {
	t.Parallel()

	m, b := fixture(t)
	prop := calibration.ImplicitPropagator{Engine: engine(t, m), Target: targetSwaption(), Basket: b, Seed: seedParams(t)}
	out, err := prop.Propagate(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, targetPrice(t, m, b), out.Value, 1e-9)
	require.Len(t, out.SABR, 3)

	const h = 1e-5
	for p := 0; p < b.NbPeriods; p++ {
		got := out.SABR[b.Points[p]]
		for _, tc := range []struct {
			param string
			want  float64
		}{{"alpha", got.Alpha}, {"rho", got.Rho}, {"nu", got.Nu}} {
			up := market{curves: m.curves, surface: surfaceWith(t, tc.param, p, h)}
			down := market{curves: m.curves, surface: surfaceWith(t, tc.param, p, -h)}
			fd := (targetPrice(t, up, b) - targetPrice(t, down, b)) / (2 * h)
			assert.InDelta(t, fd, tc.want, 1e-4*math.Abs(fd)+1e-2, "period %d %s", p, tc.param)
		}
	}
}

func TestImplicitPropagator_CurveMatchesFiniteDifference(t *testing.T) {
	t.Parallel()

	m, b := fixture(t)
	prop := calibration.ImplicitPropagator{Engine: engine(t, m), Target: targetSwaption(), Basket: b, Seed: seedParams(t)}
	out, err := prop.Propagate(context.Background())
	require.NoError(t, err)

	c := baseCurve(t)
	shifted := func(fn func(float64) float64) market {
		return market{curves: curve.Bundle{"EUR": c.WithShift(fn)}, surface: m.surface}
	}
	const h = 1e-5
	fd := (targetPrice(t, shifted(func(float64) float64 { return h }), b) -
		targetPrice(t, shifted(func(float64) float64 { return -h }), b)) / (2 * h)
	assert.InEpsilon(t, fd, out.Curves.Total("EUR"), 1e-4)

	fdTilt := (targetPrice(t, shifted(func(x float64) float64 { return h * x }), b) -
		targetPrice(t, shifted(func(x float64) float64 { return -h * x }), b)) / (2 * h)
	assert.InEpsilon(t, fdTilt, out.Curves.Weighted("EUR", func(x float64) float64 { return x }), 1e-4)
}

func TestImplicitPropagator_UniformShiftIsLinear(t *testing.T) {
	t.Parallel()

	m, b := fixture(t)
	prop := calibration.ImplicitPropagator{Engine: engine(t, m), Target: targetSwaption(), Basket: b, Seed: seedParams(t)}
	out, err := prop.Propagate(context.Background())
	require.NoError(t, err)

	total := 0.0
	for _, s := range out.SABR {
		total += s.Alpha
	}
	const h = 1e-5
	up := market{curves: m.curves, surface: m.surface.WithShift(h, 0, 0)}
	down := market{curves: m.curves, surface: m.surface.WithShift(-h, 0, 0)}
	fd := (targetPrice(t, up, b) - targetPrice(t, down, b)) / (2 * h)
	assert.InEpsilon(t, fd, total, 1e-4)
}

// matchedReference prices the basket with the LMM at fixed parameters, so
// that calibration from those parameters converges without iterating.
type matchedReference struct {
	pricer lmm.Pricer
	params *lmm.Parameters
}

func (r matchedReference) Price(s instrument.Swaption) (float64, error) {
	return r.pricer.Price(s, r.params)
}

func (r matchedReference) Sensitivity(s instrument.Swaption) (sabr.Sensitivities, error) {
	v, err := r.Price(s)
	return sabr.Sensitivities{Price: v}, err
}

// flatDisplacement hides the displacement dependence from the Jacobian.
type flatDisplacement struct {
	lmm.Pricer
}

func (f flatDisplacement) Sensitivity(s instrument.Swaption, params *lmm.Parameters) (lmm.Sensitivities, error) {
	out, err := f.Pricer.Sensitivity(s, params)
	for j := range out.Displacement {
		out.Displacement[j] = 0
	}
	return out, err
}

func TestImplicitPropagator_SingularJacobian(t *testing.T) {
	t.Parallel()

	m, b := fixture(t)
	seed := seedParams(t)
	pricer := lmm.Pricer{Curves: m.curves}
	e := calibration.Engine{
		Config:    testConfig(),
		Reference: matchedReference{pricer: pricer, params: seed},
		Target:    flatDisplacement{Pricer: pricer},
	}

	res, err := e.Calibrate(context.Background(), b, seed)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0}, res.Iterations)

	prop := calibration.ImplicitPropagator{Engine: e, Target: targetSwaption(), Basket: b, Seed: seed}
	_, err = prop.Propagate(context.Background())
	assert.ErrorIs(t, err, calibration.ErrSingularCalibrationJacobian)
	assert.ErrorIs(t, err, linalg.ErrSingular)
}

func TestBuildJacobians_BlockLowerTriangular(t *testing.T) {
	t.Parallel()

	m, b := fixture(t)
	e := engine(t, m)
	res, err := e.Calibrate(context.Background(), b, seedParams(t))
	require.NoError(t, err)

	jacs := jacobians(t, e, b, res)
	assert.Equal(t, 6, jacs.Model.Rows())
	assert.Equal(t, 6, jacs.Model.Cols())
	assert.Equal(t, 9, jacs.Reference.Cols())
	for row := 0; row < 6; row++ {
		for col := 0; col < 6; col++ {
			if col/2 > row/2 {
				assert.Zero(t, jacs.Condition.At(row, col))
			}
		}
	}

	_, err = calibration.BuildJacobians(b, res, make([]lmm.Sensitivities, 1), make([]sabr.Sensitivities, len(b.Instruments)))
	assert.ErrorIs(t, err, linalg.ErrShape)
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
