package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "task_id": "DBR-2.5-2035",
  "valuation_date": "2026-01-14",
  "notice_date": "2026-03-06",
  "delivery_date": "2026-03-10",
  "conversion_factor": 0.7712,
  "coupon_frequency": 1,
  "cashflows": [
    {"date": "2026-02-15", "coupon": 25000, "principal": 0},
    {"date": "2027-02-15", "coupon": 25000, "principal": 0},
    {"date": "2028-02-15", "coupon": 25000, "principal": 0},
    {"date": "2029-02-15", "coupon": 25000, "principal": 1000000}
  ],
  "zero_times": [1, 5],
  "zero_rates": [0.025, 0.028],
  "hull_white": {"mean_reversion": 0.05, "volatility": [0.01]}
}`

func TestProcess(t *testing.T) {
	t.Parallel()

	inputs, isArray, err := parseInputs([]byte(sample))
	require.NoError(t, err)
	require.False(t, isArray)

	out, err := process(inputs[0])
	require.NoError(t, err)
	assert.Equal(t, out.ModelPrice, out.FuturesPrice)
	// The model yield is close to the curve.
	assert.InDelta(t, 2.6, out.ForwardYield, 0.5)

	inputs[0].FuturesPrice = out.ModelPrice - 1
	lower, err := process(inputs[0])
	require.NoError(t, err)
	assert.Greater(t, lower.ForwardYield, out.ForwardYield)
}

func TestParseInputs_Errors(t *testing.T) {
	t.Parallel()

	_, _, err := parseInputs([]byte("  "))
	assert.Error(t, err)
	_, _, err = parseInputs([]byte("[]"))
	assert.Error(t, err)

	inputs, isArray, err := parseInputs([]byte("[" + sample + "]"))
	require.NoError(t, err)
	assert.True(t, isArray)
	inputs[0].DeliveryDate = "2029-03-10"
	_, err = process(inputs[0])
	assert.Error(t, err)
}
