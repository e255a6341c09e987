package black_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meenmo/mocalib/black"
)

func TestPrice_PutCallParityAndDerivatives(t *testing.T) {
	t.Parallel()

	const f, k, s = 0.031, 0.028, 0.22
	call, dc := black.Price(f, k, s, true)
	put, dp := black.Price(f, k, s, false)
	assert.InDelta(t, f-k, call-put, 1e-15)
	assert.InDelta(t, dc.StdDev, dp.StdDev, 1e-15)

	const h = 1e-7
	up, _ := black.Price(f+h, k, s, true)
	down, _ := black.Price(f-h, k, s, true)
	assert.InDelta(t, (up-down)/(2*h), dc.Forward, 1e-7)

	up, _ = black.Price(f, k+h, s, true)
	down, _ = black.Price(f, k-h, s, true)
	assert.InDelta(t, (up-down)/(2*h), dc.Strike, 1e-7)

	up, _ = black.Price(f, k, s+h, true)
	down, _ = black.Price(f, k, s-h, true)
	assert.InDelta(t, (up-down)/(2*h), dc.StdDev, 1e-8)
}

func TestPrice_Intrinsic(t *testing.T) {
	t.Parallel()

	p, d := black.Price(0.03, 0.02, 0, true)
	assert.InDelta(t, 0.01, p, 1e-15)
	assert.Equal(t, 1.0, d.Forward)

	p, _ = black.Price(0.03, 0.02, 0, false)
	assert.Equal(t, 0.0, p)
}
