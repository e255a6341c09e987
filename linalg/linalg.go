// Package linalg provides fixed-shape dense matrix and vector values backed by
// gonum. Accessors are bounds checked; shape mismatches are reported as errors
// rather than panics so callers can surface them as calibration failures.
package linalg

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShape is returned when operand dimensions do not conform.
	ErrShape = errors.New("matrix shape mismatch")
	// ErrSingular is returned when a matrix cannot be inverted.
	ErrSingular = errors.New("singular matrix")
	// ErrIndex is returned by the checked accessors for out-of-range indices.
	ErrIndex = errors.New("index out of range")
)

// Matrix is a dense rows x cols matrix.
type Matrix struct {
	d *mat.Dense
}

// Vector is a dense column vector.
type Vector struct {
	d *mat.VecDense
}

// NewMatrix returns a zero matrix.
func NewMatrix(rows, cols int) Matrix {
	return Matrix{d: mat.NewDense(rows, cols, nil)}
}

// NewMatrixFromRows copies a rectangular [][]float64 into a Matrix.
func NewMatrixFromRows(rows [][]float64) (Matrix, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Matrix{}, fmt.Errorf("NewMatrixFromRows: empty input: %w", ErrShape)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return Matrix{}, fmt.Errorf("NewMatrixFromRows: row %d has %d columns, want %d: %w", i, len(r), cols, ErrShape)
		}
		data = append(data, r...)
	}
	return Matrix{d: mat.NewDense(len(rows), cols, data)}, nil
}

// Rows returns the number of rows.
func (m Matrix) Rows() int {
	r, _ := m.d.Dims()
	return r
}

// Cols returns the number of columns.
func (m Matrix) Cols() int {
	_, c := m.d.Dims()
	return c
}

// At returns element (i, j). It panics on out-of-range indices.
func (m Matrix) At(i, j int) float64 {
	return m.d.At(i, j)
}

// Get is the checked form of At.
func (m Matrix) Get(i, j int) (float64, error) {
	if i < 0 || j < 0 || i >= m.Rows() || j >= m.Cols() {
		return 0, fmt.Errorf("Get(%d, %d) on %dx%d: %w", i, j, m.Rows(), m.Cols(), ErrIndex)
	}
	return m.d.At(i, j), nil
}

// Set assigns element (i, j). It panics on out-of-range indices.
func (m Matrix) Set(i, j int, v float64) {
	m.d.Set(i, j, v)
}

// Row returns a copy of row i.
func (m Matrix) Row(i int) []float64 {
	return mat.Row(nil, i, m.d)
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	return Matrix{d: mat.DenseCopyOf(m.d)}
}

// Transpose returns a new transposed matrix.
func (m Matrix) Transpose() Matrix {
	return Matrix{d: mat.DenseCopyOf(m.d.T())}
}

// Scale returns f*m.
func (m Matrix) Scale(f float64) Matrix {
	out := mat.NewDense(m.Rows(), m.Cols(), nil)
	out.Scale(f, m.d)
	return Matrix{d: out}
}

// Multiply returns a*b.
func Multiply(a, b Matrix) (Matrix, error) {
	if a.Cols() != b.Rows() {
		return Matrix{}, fmt.Errorf("Multiply: %dx%d by %dx%d: %w", a.Rows(), a.Cols(), b.Rows(), b.Cols(), ErrShape)
	}
	out := mat.NewDense(a.Rows(), b.Cols(), nil)
	out.Mul(a.d, b.d)
	return Matrix{d: out}, nil
}

// Inverse returns the inverse of a square matrix.
func Inverse(m Matrix) (Matrix, error) {
	if m.Rows() != m.Cols() {
		return Matrix{}, fmt.Errorf("Inverse: %dx%d is not square: %w", m.Rows(), m.Cols(), ErrShape)
	}
	var out mat.Dense
	if err := out.Inverse(m.d); err != nil {
		return Matrix{}, fmt.Errorf("Inverse: %v: %w", err, ErrSingular)
	}
	return Matrix{d: &out}, nil
}

// NewVector copies values into a Vector.
func NewVector(values []float64) Vector {
	data := make([]float64, len(values))
	copy(data, values)
	return Vector{d: mat.NewVecDense(len(data), data)}
}

// Len returns the vector length.
func (v Vector) Len() int {
	return v.d.Len()
}

// At returns element i. It panics on out-of-range indices.
func (v Vector) At(i int) float64 {
	return v.d.AtVec(i)
}

// Values returns a copy of the elements.
func (v Vector) Values() []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.d.AtVec(i)
	}
	return out
}

// Apply returns m*v.
func (m Matrix) Apply(v Vector) (Vector, error) {
	if m.Cols() != v.Len() {
		return Vector{}, fmt.Errorf("Apply: %dx%d by vector of %d: %w", m.Rows(), m.Cols(), v.Len(), ErrShape)
	}
	out := mat.NewVecDense(m.Rows(), nil)
	out.MulVec(m.d, v.d)
	return Vector{d: out}, nil
}

// ApplyLeft returns the row-vector product vᵀ*m as a vector.
func (m Matrix) ApplyLeft(v Vector) (Vector, error) {
	if m.Rows() != v.Len() {
		return Vector{}, fmt.Errorf("ApplyLeft: vector of %d by %dx%d: %w", v.Len(), m.Rows(), m.Cols(), ErrShape)
	}
	out := mat.NewVecDense(m.Cols(), nil)
	out.MulVec(m.d.T(), v.d)
	return Vector{d: out}, nil
}

// Solve returns x such that a*x = b in the least-squares sense when a is tall.
func Solve(a Matrix, b Vector) (Vector, error) {
	if a.Rows() != b.Len() {
		return Vector{}, fmt.Errorf("Solve: %dx%d with rhs of %d: %w", a.Rows(), a.Cols(), b.Len(), ErrShape)
	}
	var x mat.VecDense
	if err := x.SolveVec(a.d, b.d); err != nil {
		return Vector{}, fmt.Errorf("Solve: %v: %w", err, ErrSingular)
	}
	return Vector{d: &x}, nil
}
