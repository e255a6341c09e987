// Package bond describes the deliverable bonds of a bond futures contract.
package bond

import (
	"errors"
	"fmt"
	"time"

	"github.com/meenmo/mocalib/utils"
)

// ErrInvalidBond is returned for bonds without cash flows after delivery.
var ErrInvalidBond = errors.New("invalid bond")

// Cashflow is a single dated cash payment for a bond, per unit notional.
type Cashflow struct {
	Date      time.Time
	Coupon    float64
	Principal float64
}

func (c Cashflow) Amount() float64 {
	return c.Coupon + c.Principal
}

// CashflowCents mirrors the Bloomberg-style cashflow feed where coupon and
// principal are per-100 amounts scaled by 10 000 (e.g. 25000 for a 2.5 coupon).
type CashflowCents struct {
	Date           time.Time
	CouponCents    int64
	PrincipalCents int64
}

// ToCashflow converts to amounts per unit notional.
func (c CashflowCents) ToCashflow() Cashflow {
	return Cashflow{
		Date:      c.Date,
		Coupon:    float64(c.CouponCents) / 1e6,
		Principal: float64(c.PrincipalCents) / 1e6,
	}
}

func ToCashflows(in []CashflowCents) []Cashflow {
	out := make([]Cashflow, 0, len(in))
	for _, cf := range in {
		out = append(out, cf.ToCashflow())
	}
	return out
}

// Flow is a cash payment at a model time.
type Flow struct {
	Time   float64
	Amount float64
}

// Deliverable is a bond in a futures delivery basket. Flows are the cash flows
// paid strictly after delivery; AccruedInterest is the accrued coupon at
// delivery. Amounts are per unit notional.
type Deliverable struct {
	ID               string
	Flows            []Flow
	ConversionFactor float64
	AccruedInterest  float64
	// CouponFrequency is the number of coupons per year, used by the yield solver.
	CouponFrequency int
}

// Validate checks the deliverable can be priced.
func (d Deliverable) Validate() error {
	if len(d.Flows) == 0 {
		return fmt.Errorf("Validate: %s has no cash flows: %w", d.ID, ErrInvalidBond)
	}
	if d.ConversionFactor <= 0 {
		return fmt.Errorf("Validate: %s conversion factor %g: %w", d.ID, d.ConversionFactor, ErrInvalidBond)
	}
	if d.CouponFrequency <= 0 {
		return fmt.Errorf("Validate: %s coupon frequency %d: %w", d.ID, d.CouponFrequency, ErrInvalidBond)
	}
	return nil
}

// FixedCouponInput describes a bullet fixed-coupon bond by dates.
type FixedCouponInput struct {
	ID         string
	Valuation  time.Time
	Delivery   time.Time
	Maturity   time.Time
	CouponRate float64 // decimal, e.g. 0.025
	// CouponFrequency is coupons per year (1 = annual, 2 = semi-annual).
	CouponFrequency  int
	ConversionFactor float64
}

// Cashflows rolls the coupon dates back from maturity and returns the dated
// cash flows after settlement and the previous coupon date.
func Cashflows(maturity, settlement time.Time, couponRate float64, frequency int) ([]Cashflow, time.Time, error) {
	if frequency <= 0 || 12%frequency != 0 {
		return nil, time.Time{}, fmt.Errorf("Cashflows: coupon frequency %d: %w", frequency, ErrInvalidBond)
	}
	if !maturity.After(settlement) {
		return nil, time.Time{}, fmt.Errorf("Cashflows: maturity %s not after %s: %w",
			maturity.Format("2006-01-02"), settlement.Format("2006-01-02"), ErrInvalidBond)
	}
	monthsPerPeriod := 12 / frequency
	coupon := couponRate / float64(frequency)

	var dates []time.Time
	n := 0
	d := maturity
	for d.After(settlement) {
		dates = append(dates, d)
		n++
		d = utils.AddMonth(maturity, -n*monthsPerPeriod)
	}
	prev := d

	cfs := make([]Cashflow, len(dates))
	for i := range dates {
		date := dates[len(dates)-1-i]
		cfs[i] = Cashflow{Date: date, Coupon: coupon}
	}
	cfs[len(cfs)-1].Principal = 1
	return cfs, prev, nil
}

// AccruedInterest is coupon × (days from last coupon to settlement) / (days in period).
func AccruedInterest(prevCoupon, nextCoupon, settlement time.Time, coupon float64) float64 {
	return coupon * utils.Days(prevCoupon, settlement) / utils.Days(prevCoupon, nextCoupon)
}

// NewDeliverable converts dated cash flows into a deliverable with model times
// from valuation. Flows on or before delivery are dropped; the previous coupon
// date is the first remaining flow minus one coupon period.
func NewDeliverable(id string, valuation, delivery time.Time, cfs []Cashflow, frequency int, conversionFactor float64) (Deliverable, error) {
	if frequency <= 0 || 12%frequency != 0 {
		return Deliverable{}, fmt.Errorf("NewDeliverable: %s coupon frequency %d: %w", id, frequency, ErrInvalidBond)
	}
	var after []Cashflow
	for _, cf := range cfs {
		if cf.Date.After(delivery) {
			after = append(after, cf)
		}
	}
	if len(after) == 0 {
		return Deliverable{}, fmt.Errorf("NewDeliverable: %s has no cash flows after delivery: %w", id, ErrInvalidBond)
	}
	prev := utils.AddMonth(after[0].Date, -12/frequency)
	d := Deliverable{
		ID:               id,
		Flows:            make([]Flow, len(after)),
		ConversionFactor: conversionFactor,
		AccruedInterest:  AccruedInterest(prev, after[0].Date, delivery, after[0].Coupon),
		CouponFrequency:  frequency,
	}
	for i, cf := range after {
		d.Flows[i] = Flow{Time: utils.TimeFrom(valuation, cf.Date), Amount: cf.Amount()}
	}
	return d, d.Validate()
}

// NewFixedCoupon builds the deliverable of a bullet bond: flows after delivery
// at model times from the valuation date and the accrued interest at delivery.
func NewFixedCoupon(in FixedCouponInput) (Deliverable, error) {
	cfs, _, err := Cashflows(in.Maturity, in.Delivery, in.CouponRate, in.CouponFrequency)
	if err != nil {
		return Deliverable{}, fmt.Errorf("NewFixedCoupon: %s: %w", in.ID, err)
	}
	return NewDeliverable(in.ID, in.Valuation, in.Delivery, cfs, in.CouponFrequency, in.ConversionFactor)
}
