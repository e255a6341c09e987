package sabr

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidSurface is returned for malformed parameter grids.
var ErrInvalidSurface = errors.New("invalid SABR surface")

// Surface returns SABR parameters for an option expiry and underlying tenor.
type Surface interface {
	Parameters(expiry, tenor float64) Parameters
}

// GridSurface interpolates alpha, rho and nu bilinearly on an (expiry, tenor)
// grid with flat extrapolation; beta is constant.
type GridSurface struct {
	expiries []float64
	tenors   []float64
	alpha    [][]float64
	rho      [][]float64
	nu       [][]float64
	beta     float64
}

// NewGridSurface validates and copies the grid. Matrices are indexed [expiry][tenor].
func NewGridSurface(expiries, tenors []float64, alpha, rho, nu [][]float64, beta float64) (*GridSurface, error) {
	if len(expiries) == 0 || len(tenors) == 0 {
		return nil, fmt.Errorf("NewGridSurface: empty axis: %w", ErrInvalidSurface)
	}
	if !sort.Float64sAreSorted(expiries) || !sort.Float64sAreSorted(tenors) {
		return nil, fmt.Errorf("NewGridSurface: axes must be sorted: %w", ErrInvalidSurface)
	}
	for name, m := range map[string][][]float64{"alpha": alpha, "rho": rho, "nu": nu} {
		if len(m) != len(expiries) {
			return nil, fmt.Errorf("NewGridSurface: %s has %d rows, want %d: %w", name, len(m), len(expiries), ErrInvalidSurface)
		}
		for _, row := range m {
			if len(row) != len(tenors) {
				return nil, fmt.Errorf("NewGridSurface: %s row has %d columns, want %d: %w", name, len(row), len(tenors), ErrInvalidSurface)
			}
		}
	}
	return &GridSurface{
		expiries: append([]float64(nil), expiries...),
		tenors:   append([]float64(nil), tenors...),
		alpha:    copyGrid(alpha),
		rho:      copyGrid(rho),
		nu:       copyGrid(nu),
		beta:     beta,
	}, nil
}

// NewFlatSurface returns a surface with the same parameters everywhere.
func NewFlatSurface(p Parameters) *GridSurface {
	s, _ := NewGridSurface([]float64{1}, []float64{1},
		[][]float64{{p.Alpha}}, [][]float64{{p.Rho}}, [][]float64{{p.Nu}}, p.Beta)
	return s
}

// Parameters implements Surface.
func (s *GridSurface) Parameters(expiry, tenor float64) Parameters {
	i, wi := locate(s.expiries, expiry)
	j, wj := locate(s.tenors, tenor)
	return Parameters{
		Alpha: bilinear(s.alpha, i, j, wi, wj),
		Beta:  s.beta,
		Rho:   bilinear(s.rho, i, j, wi, wj),
		Nu:    bilinear(s.nu, i, j, wi, wj),
	}
}

// WithShift returns a copy with every grid value moved by the given amounts.
func (s *GridSurface) WithShift(dAlpha, dRho, dNu float64) *GridSurface {
	out := &GridSurface{
		expiries: s.expiries,
		tenors:   s.tenors,
		alpha:    shiftGrid(s.alpha, dAlpha),
		rho:      shiftGrid(s.rho, dRho),
		nu:       shiftGrid(s.nu, dNu),
		beta:     s.beta,
	}
	return out
}

// locate returns the lower index and the weight of the upper node.
func locate(axis []float64, x float64) (int, float64) {
	n := len(axis)
	if n == 1 || x <= axis[0] {
		return 0, 0
	}
	if x >= axis[n-1] {
		return n - 2, 1
	}
	i := sort.SearchFloat64s(axis, x) - 1
	return i, (x - axis[i]) / (axis[i+1] - axis[i])
}

func bilinear(m [][]float64, i, j int, wi, wj float64) float64 {
	at := func(a, b int) float64 {
		if a >= len(m) {
			a = len(m) - 1
		}
		if b >= len(m[a]) {
			b = len(m[a]) - 1
		}
		return m[a][b]
	}
	return (1-wi)*(1-wj)*at(i, j) + (1-wi)*wj*at(i, j+1) + wi*(1-wj)*at(i+1, j) + wi*wj*at(i+1, j+1)
}

func copyGrid(m [][]float64) [][]float64 {
	return shiftGrid(m, 0)
}

func shiftGrid(m [][]float64, d float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = v + d
		}
	}
	return out
}
