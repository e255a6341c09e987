// Package rootfind provides bracketed one-dimensional root finders.
package rootfind

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrRootNotBracketed is returned when f(lo) and f(hi) have the same sign.
	ErrRootNotBracketed = errors.New("root not bracketed")
	// ErrMaxIterations is returned when the tolerance is not reached.
	ErrMaxIterations = errors.New("root finder did not converge")
)

const ridderMaxIter = 100

// Ridder returns x in [lo, hi] with |x - root| <= tol using Ridder's method.
func Ridder(f func(float64) float64, lo, hi, tol float64) (float64, error) {
	flo, fhi := f(lo), f(hi)
	if flo == 0 {
		return lo, nil
	}
	if fhi == 0 {
		return hi, nil
	}
	if math.Signbit(flo) == math.Signbit(fhi) {
		return 0, fmt.Errorf("Ridder: f(%.6g)=%.3g, f(%.6g)=%.3g: %w", lo, flo, hi, fhi, ErrRootNotBracketed)
	}

	x := math.NaN()
	for iter := 0; iter < ridderMaxIter; iter++ {
		mid := 0.5 * (lo + hi)
		fmid := f(mid)
		s := math.Sqrt(fmid*fmid - flo*fhi)
		if s == 0 {
			return mid, nil
		}
		sign := 1.0
		if flo < fhi {
			sign = -1.0
		}
		next := mid + (mid-lo)*sign*fmid/s
		if !math.IsNaN(x) && math.Abs(next-x) <= tol {
			return next, nil
		}
		x = next
		fx := f(x)
		if fx == 0 {
			return x, nil
		}
		switch {
		case math.Signbit(fmid) != math.Signbit(fx):
			lo, flo, hi, fhi = mid, fmid, x, fx
		case math.Signbit(flo) != math.Signbit(fx):
			hi, fhi = x, fx
		default:
			lo, flo = x, fx
		}
		if lo > hi {
			lo, flo, hi, fhi = hi, fhi, lo, flo
		}
		if hi-lo <= tol {
			return x, nil
		}
	}
	return x, fmt.Errorf("Ridder: %d iterations: %w", ridderMaxIter, ErrMaxIterations)
}
