// Package black implements the undiscounted Black formula with its first-order derivatives.
package black

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Derivatives holds the partial derivatives of an undiscounted Black price.
type Derivatives struct {
	Forward float64
	Strike  float64
	// StdDev is the derivative with respect to σ√T.
	StdDev float64
}

// Price returns the undiscounted Black price of a call (payer) or put (receiver)
// for a total standard deviation stdDev = σ√T, together with its derivatives.
//
// Non-positive forward, strike or standard deviation falls back to intrinsic value.
func Price(forward, strike, stdDev float64, call bool) (float64, Derivatives) {
	omega := 1.0
	if !call {
		omega = -1.0
	}
	if forward <= 0 || strike <= 0 || stdDev <= 0 {
		intrinsic := omega * (forward - strike)
		if intrinsic <= 0 {
			return 0, Derivatives{}
		}
		return intrinsic, Derivatives{Forward: omega, Strike: -omega}
	}
	d1 := math.Log(forward/strike)/stdDev + 0.5*stdDev
	d2 := d1 - stdDev
	nd1 := distuv.UnitNormal.CDF(omega * d1)
	nd2 := distuv.UnitNormal.CDF(omega * d2)
	price := omega * (forward*nd1 - strike*nd2)
	return price, Derivatives{
		Forward: omega * nd1,
		Strike:  -omega * nd2,
		StdDev:  forward * distuv.UnitNormal.Prob(d1),
	}
}
