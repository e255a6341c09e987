// Package sabr prices the calibration instruments with the SABR smile, which
// is the reference model the dynamic models are calibrated to.
package sabr

import (
	"math"
)

// Parameters are the SABR parameters at one (expiry, tenor) point.
type Parameters struct {
	Alpha float64
	Beta  float64
	Rho   float64
	Nu    float64
}

// VolatilityDerivatives are the partial derivatives of the Hagan implied volatility.
type VolatilityDerivatives struct {
	Forward float64
	Alpha   float64
	Rho     float64
	Nu      float64
}

// smallZ switches x(z) to its series expansion around z = 0 (includes the ATM case).
const smallZ = 1e-7

// Volatility returns the Hagan et al. (2002) lognormal implied volatility and
// its derivatives, computed with a reverse sweep over the formula.
func Volatility(forward, strike, expiry float64, p Parameters) (float64, VolatilityDerivatives) {
	ob := 1 - p.Beta
	lnFK := math.Log(forward / strike)
	fkBeta := math.Pow(forward*strike, ob/2)
	z := p.Nu / p.Alpha * fkBeta * lnFK

	var zx, dzxdz, dzxdrho float64
	if math.Abs(z) < smallZ {
		zx = 1 - 0.5*p.Rho*z + (2-3*p.Rho*p.Rho)*z*z/12
		dzxdz = -0.5*p.Rho + (2-3*p.Rho*p.Rho)*z/6
		dzxdrho = -0.5*z - 0.5*p.Rho*z*z
	} else {
		sq := math.Sqrt(1 - 2*p.Rho*z + z*z)
		arg := sq + z - p.Rho
		x := math.Log(arg / (1 - p.Rho))
		dxdz := 1 / sq
		dxdrho := (-z/sq-1)/arg + 1/(1-p.Rho)
		zx = z / x
		dzxdz = 1/x - z/(x*x)*dxdz
		dzxdrho = -z / (x * x) * dxdrho
	}

	l2 := lnFK * lnFK
	g := 1 + ob*ob/24*l2 + ob*ob*ob*ob/1920*l2*l2
	denom := fkBeta * g
	term1 := ob * ob / 24 * p.Alpha * p.Alpha / (fkBeta * fkBeta)
	term2 := p.Rho * p.Beta * p.Nu * p.Alpha / (4 * fkBeta)
	term3 := (2 - 3*p.Rho*p.Rho) * p.Nu * p.Nu / 24
	corr := 1 + (term1+term2+term3)*expiry
	vol := p.Alpha / denom * zx * corr

	// Backward sweep.
	var d VolatilityDerivatives
	d.Alpha = zx * corr / denom
	zxBar := p.Alpha * corr / denom
	corrBar := p.Alpha * zx / denom
	denomBar := -vol / denom

	tBar := corrBar * expiry
	fkBetaBar := 0.0
	lnBar := 0.0

	d.Alpha += tBar * 2 * term1 / p.Alpha
	fkBetaBar -= tBar * 2 * term1 / fkBeta

	d.Rho += tBar * p.Beta * p.Nu * p.Alpha / (4 * fkBeta)
	d.Nu += tBar * p.Rho * p.Beta * p.Alpha / (4 * fkBeta)
	d.Alpha += tBar * p.Rho * p.Beta * p.Nu / (4 * fkBeta)
	fkBetaBar -= tBar * term2 / fkBeta

	d.Rho += tBar * (-6 * p.Rho * p.Nu * p.Nu / 24)
	d.Nu += tBar * (2 - 3*p.Rho*p.Rho) * 2 * p.Nu / 24

	fkBetaBar += denomBar * g
	lnBar += denomBar * fkBeta * (ob*ob/24*2*lnFK + ob*ob*ob*ob/1920*4*l2*lnFK)

	zBar := zxBar * dzxdz
	d.Rho += zxBar * dzxdrho

	d.Nu += zBar * fkBeta * lnFK / p.Alpha
	d.Alpha -= zBar * p.Nu / (p.Alpha * p.Alpha) * fkBeta * lnFK
	fkBetaBar += zBar * p.Nu / p.Alpha * lnFK
	lnBar += zBar * p.Nu / p.Alpha * fkBeta

	d.Forward = fkBetaBar*ob/2*fkBeta/forward + lnBar/forward
	return vol, d
}
