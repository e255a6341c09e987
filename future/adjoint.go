package future

import (
	"context"
	"fmt"

	"github.com/meenmo/mocalib/sensitivity"
)

// PriceCurveSensitivity returns the price and its sensitivity to the discount
// curve by a reverse sweep of Value. The interval boundaries are points of
// equal value between two bonds, so the price is stationary in them and they
// do not contribute.
func (e Engine) PriceCurveSensitivity(f BondFuture) (float64, sensitivity.CurveSensitivity, error) {
	s, err := e.prepare(f)
	if err != nil {
		return 0, nil, fmt.Errorf("PriceCurveSensitivity: %w", err)
	}
	intervals, err := e.intervals(s)
	if err != nil {
		return 0, nil, fmt.Errorf("PriceCurveSensitivity: %w", err)
	}

	// Forward sweep kept for the price; eBar[b][i] = ∂price/∂e_{b,i}.
	price := 0.0
	eBar := make([][]float64, len(s.bonds))
	for b, t := range s.bonds {
		eBar[b] = make([]float64, len(t.e))
	}
	for _, iv := range intervals {
		t := s.bonds[iv.CTD]
		for i, ei := range t.e {
			w := cdf(iv.Upper+t.alpha[i]) - cdf(iv.Lower+t.alpha[i])
			price += ei * w
			eBar[iv.CTD][i] += w
		}
		price -= t.k * (cdf(iv.Upper) - cdf(iv.Lower))
	}

	// e_i = c_i P(t_i) β_i / (P(v) CF).
	v := f.DeliveryLastTime
	pts := make([]sensitivity.Point, 0)
	deliveryBar := 0.0
	for b, t := range s.bonds {
		d := f.Basket[b]
		for i, flow := range d.Flows {
			if eBar[b][i] == 0 {
				continue
			}
			dfBar := eBar[b][i] * flow.Amount * t.beta[i] / (s.dfDelivery * d.ConversionFactor)
			deliveryBar -= eBar[b][i] * t.e[i] / s.dfDelivery
			pts = append(pts, sensitivity.Point{Time: flow.Time, Amount: -flow.Time * t.df[i] * dfBar})
		}
	}
	pts = append(pts, sensitivity.Point{Time: v, Amount: -v * s.dfDelivery * deliveryBar})
	return price, sensitivity.CurveSensitivity{f.CurveName: pts}.Cleaned(), nil
}

// AdjointPropagator values a bond future position. Value is the present value
// (price - reference price) × notional and Curves are its sensitivities.
type AdjointPropagator struct {
	Engine Engine
	Future BondFuture
}

// Propagate implements sensitivity.Propagator.
func (a AdjointPropagator) Propagate(ctx context.Context) (sensitivity.Result, error) {
	if err := ctx.Err(); err != nil {
		return sensitivity.Result{}, fmt.Errorf("Propagate: %w", err)
	}
	price, curves, err := a.Engine.PriceCurveSensitivity(a.Future)
	if err != nil {
		return sensitivity.Result{}, fmt.Errorf("Propagate: %w", err)
	}
	return sensitivity.Result{
		Value:  (price - a.Future.ReferencePrice) * a.Future.Notional,
		Curves: curves.Multiply(a.Future.Notional),
	}, nil
}
