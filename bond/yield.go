package bond

import (
	"fmt"
	"math"
)

// ForwardYieldResult is the output of ImpliedForwardYield.
type ForwardYieldResult struct {
	// ForwardYield is the annualised yield, compounded at the coupon
	// frequency, in decimal (e.g. 0.0283).
	ForwardYield float64
	// InvoicePrice is futures_price × conversion_factor + accrued_interest.
	InvoicePrice float64
	// Iterations is the number of Newton-Raphson steps taken.
	Iterations int
}

// ImpliedForwardYield solves for the yield y such that the dirty price of d at
// delivery equals the invoice price implied by the futures price.
//
// The solver uses Newton-Raphson with analytic first derivative.
func ImpliedForwardYield(d Deliverable, deliveryTime, futuresPrice float64) (ForwardYieldResult, error) {
	if err := d.Validate(); err != nil {
		return ForwardYieldResult{}, fmt.Errorf("ImpliedForwardYield: %w", err)
	}
	invoicePrice := futuresPrice*d.ConversionFactor + d.AccruedInterest

	yield, iterations, err := solveYield(invoicePrice, d, deliveryTime)
	if err != nil {
		return ForwardYieldResult{}, err
	}
	return ForwardYieldResult{
		ForwardYield: yield,
		InvoicePrice: invoicePrice,
		Iterations:   iterations,
	}, nil
}

// DirtyPrice returns the price at delivery of the flows of d discounted at yield y.
func DirtyPrice(d Deliverable, deliveryTime, y float64) float64 {
	price, _ := dirtyPriceAndDeriv(y, d, deliveryTime)
	return price
}

// ConversionFactor returns the clean price per unit notional at delivery for
// the contract's notional yield.
func ConversionFactor(d Deliverable, deliveryTime, notionalYield float64) float64 {
	return DirtyPrice(d, deliveryTime, notionalYield) - d.AccruedInterest
}

const (
	yieldTolerance = 1e-12
	yieldMaxIter   = 100
	yieldFloor     = -0.05
	yieldCeiling   = 0.50
)

// solveYield finds y such that dirtyPrice(y) == target via Newton-Raphson.
func solveYield(target float64, d Deliverable, deliveryTime float64) (float64, int, error) {
	y := 0.025

	for iter := 0; iter < yieldMaxIter; iter++ {
		price, dPdy := dirtyPriceAndDeriv(y, d, deliveryTime)
		f := price - target

		if math.Abs(f) < yieldTolerance {
			return y, iter + 1, nil
		}
		if math.Abs(dPdy) < 1e-15 {
			return y, iter + 1, fmt.Errorf("ImpliedForwardYield: derivative too small at iter %d", iter)
		}

		y = clamp(y-f/dPdy, yieldFloor, yieldCeiling)
	}

	return y, yieldMaxIter, fmt.Errorf("ImpliedForwardYield: did not converge after %d iterations", yieldMaxIter)
}

// dirtyPriceAndDeriv returns (price, dPrice/dy) with exponents counted in
// coupon periods from delivery:
//
//	t_k   = (T_k − T_delivery) · f
//	price = Σ CF_k / (1+y/f)^t_k
//	dP/dy = Σ −(t_k/f) · CF_k / (1+y/f)^(t_k+1)
func dirtyPriceAndDeriv(y float64, d Deliverable, deliveryTime float64) (float64, float64) {
	f := float64(d.CouponFrequency)
	base := 1.0 + y/f

	var price, deriv float64
	for _, flow := range d.Flows {
		t := (flow.Time - deliveryTime) * f
		price += flow.Amount / math.Pow(base, t)
		deriv += -(t / f) * flow.Amount / math.Pow(base, t+1)
	}
	return price, deriv
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
