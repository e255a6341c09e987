// Package future prices bond futures in the Hull-White model by integrating
// the cheapest-to-deliver payoff over a normal state variable, and computes
// exact curve sensitivities with an adjoint sweep.
package future

import (
	"errors"
	"fmt"

	"github.com/meenmo/mocalib/bond"
)

// ErrInvalidFuture is returned for futures that cannot be priced.
var ErrInvalidFuture = errors.New("invalid bond future")

// BondFuture is a bond futures contract with a delivery basket.
type BondFuture struct {
	// NoticeLastTime is the last notice time, where margining stops.
	NoticeLastTime float64
	// DeliveryLastTime is the delivery time of the basket bonds.
	DeliveryLastTime float64
	Notional         float64
	// ReferencePrice is the traded (or last margined) price per unit notional.
	ReferencePrice float64
	Basket         []bond.Deliverable
	CurveName      string
}

// Validate checks the contract and its basket.
func (f BondFuture) Validate() error {
	if len(f.Basket) == 0 {
		return fmt.Errorf("Validate: empty delivery basket: %w", ErrInvalidFuture)
	}
	if f.NoticeLastTime < 0 || f.DeliveryLastTime < f.NoticeLastTime {
		return fmt.Errorf("Validate: notice %.6f and delivery %.6f: %w", f.NoticeLastTime, f.DeliveryLastTime, ErrInvalidFuture)
	}
	for _, b := range f.Basket {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("Validate: %v: %w", err, ErrInvalidFuture)
		}
		for _, flow := range b.Flows {
			if flow.Time <= f.DeliveryLastTime {
				return fmt.Errorf("Validate: %s pays at %.6f before delivery: %w", b.ID, flow.Time, ErrInvalidFuture)
			}
		}
	}
	return nil
}
