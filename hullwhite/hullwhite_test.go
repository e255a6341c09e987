package hullwhite_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meenmo/mocalib/hullwhite"
)

func TestAlphaAndConvexity_Limits(t *testing.T) {
	t.Parallel()

	const sigma, theta, v, u = 0.01, 0.5, 0.6, 5.6

	small, err := hullwhite.NewParameters(1e-4, []float64{sigma}, nil)
	require.NoError(t, err)
	// a -> 0: Ho-Lee limits.
	assert.InEpsilon(t, sigma*(u-v)*math.Sqrt(theta), small.Alpha(theta, u, v), 2e-3)
	wantLog := -sigma * sigma * (u - v) * (v*theta - theta*theta/2)
	assert.InEpsilon(t, wantLog, math.Log(small.FuturesConvexityFactor(theta, u, v)), 2e-3)

	p, err := hullwhite.NewParameters(0.05, []float64{sigma}, nil)
	require.NoError(t, err)
	assert.Zero(t, p.Alpha(theta, v, v))
	assert.Equal(t, 1.0, p.FuturesConvexityFactor(theta, v, v))
	assert.Zero(t, p.Alpha(0, u, v))
	assert.Less(t, p.FuturesConvexityFactor(theta, u, v), 1.0)
	assert.Greater(t, p.Alpha(theta, u, v), p.Alpha(theta, 2.6, v))

	zero, err := hullwhite.NewParameters(0.05, []float64{0}, nil)
	require.NoError(t, err)
	assert.Zero(t, zero.Alpha(theta, u, v))
	assert.Equal(t, 1.0, zero.FuturesConvexityFactor(theta, u, v))
}

func TestPiecewiseVolatility(t *testing.T) {
	t.Parallel()

	flat, err := hullwhite.NewParameters(0.03, []float64{0.01}, nil)
	require.NoError(t, err)
	split, err := hullwhite.NewParameters(0.03, []float64{0.01, 0.01, 0.02}, []float64{0.2, 1})
	require.NoError(t, err)
	// Pieces beyond theta do not contribute.
	assert.InDelta(t, flat.Alpha(0.5, 4, 0.6), split.Alpha(0.5, 4, 0.6), 1e-15)
	assert.Greater(t, split.Alpha(1.5, 4, 1.6), flat.Alpha(1.5, 4, 1.6))
}

func TestParameters_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		a     float64
		vol   []float64
		times []float64
	}{
		{"non-positive mean reversion", 0, []float64{0.01}, nil},
		{"no volatility", 0.01, nil, nil},
		{"time count", 0.01, []float64{0.01, 0.02}, nil},
		{"decreasing times", 0.01, []float64{0.01, 0.02, 0.03}, []float64{1, 0.5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := hullwhite.NewParameters(tc.a, tc.vol, tc.times)
			assert.ErrorIs(t, err, hullwhite.ErrInvalidParameters)
		})
	}

	p, err := hullwhite.NewParameters(0.01, []float64{0.01, 0.02}, []float64{1})
	require.NoError(t, err)
	q := p.Copy()
	q.Volatility[0] = 1
	assert.Equal(t, 0.01, p.Volatility[0])
}
