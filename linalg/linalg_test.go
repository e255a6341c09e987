package linalg_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meenmo/mocalib/linalg"
)

func TestMultiplyTransposeScale(t *testing.T) {
	t.Parallel()

	a, err := linalg.NewMatrixFromRows([][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)

	ata, err := linalg.Multiply(a.Transpose(), a)
	require.NoError(t, err)
	require.Equal(t, 3, ata.Rows())
	require.Equal(t, 3, ata.Cols())
	assert.InDelta(t, 17.0, ata.At(0, 0), 1e-15)
	assert.InDelta(t, 22.0, ata.At(0, 1), 1e-15)
	assert.InDelta(t, 45.0, ata.At(2, 2), 1e-15)

	s := a.Scale(-2)
	assert.InDelta(t, -12.0, s.At(1, 2), 1e-15)
	assert.InDelta(t, 6.0, a.At(1, 2), 1e-15, "scale must not mutate the receiver")

	_, err = linalg.Multiply(a, a)
	assert.True(t, errors.Is(err, linalg.ErrShape))
}

func TestInverse(t *testing.T) {
	t.Parallel()

	m, err := linalg.NewMatrixFromRows([][]float64{{4, 7}, {2, 6}})
	require.NoError(t, err)
	inv, err := linalg.Inverse(m)
	require.NoError(t, err)

	id, err := linalg.Multiply(m, inv)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			assert.InDelta(t, want, id.At(i, j), 1e-14)
		}
	}

	singular, err := linalg.NewMatrixFromRows([][]float64{{1, 2}, {2, 4}})
	require.NoError(t, err)
	_, err = linalg.Inverse(singular)
	assert.True(t, errors.Is(err, linalg.ErrSingular))
}

func TestApplyAndSolve(t *testing.T) {
	t.Parallel()

	m, err := linalg.NewMatrixFromRows([][]float64{{2, 1}, {1, 3}})
	require.NoError(t, err)
	x := linalg.NewVector([]float64{1, -1})

	b, err := m.Apply(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -2}, b.Values())

	left, err := m.ApplyLeft(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -2}, left.Values())

	sol, err := linalg.Solve(m, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sol.At(0), 1e-14)
	assert.InDelta(t, -1.0, sol.At(1), 1e-14)

	_, err = m.Get(2, 0)
	assert.True(t, errors.Is(err, linalg.ErrIndex))
}
