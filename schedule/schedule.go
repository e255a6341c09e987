package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/meenmo/mocalib/calendar"
	"github.com/meenmo/mocalib/utils"
)

// ErrInvalidSchedule is returned when a leg schedule cannot be derived.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Frequency is a payment frequency in months.
type Frequency int

const (
	FreqAnnual    Frequency = 12
	FreqSemi      Frequency = 6
	FreqQuarterly Frequency = 3
	FreqMonthly   Frequency = 1
)

// Direction selects how unadjusted dates are rolled.
type Direction string

const (
	// Forward rolls from the effective date; a short back stub is dropped.
	Forward Direction = "FORWARD"
	// Backward rolls from maturity; the first period becomes a front stub if needed.
	Backward Direction = "BACKWARD"
)

// LegConvention captures the settings needed to build a fixed or ibor leg schedule.
type LegConvention struct {
	DayCount     string
	PayFrequency Frequency
	PayDelayDays int
	Calendar     calendar.CalendarID
	Direction    Direction
}

// Period is one accrual period of a leg.
//
// Dates are business-day adjusted with Modified Following.
type Period struct {
	StartDate time.Time
	EndDate   time.Time
	PayDate   time.Time
	Accrual   float64
}

// Generate builds the payment schedule for a leg between effective and maturity.
func Generate(effective, maturity time.Time, leg LegConvention) ([]Period, error) {
	if !maturity.After(effective) {
		return nil, fmt.Errorf("Generate: maturity %s not after effective %s: %w",
			maturity.Format("2006-01-02"), effective.Format("2006-01-02"), ErrInvalidSchedule)
	}
	if leg.PayFrequency <= 0 {
		return nil, fmt.Errorf("Generate: unsupported pay frequency %d: %w", leg.PayFrequency, ErrInvalidSchedule)
	}

	var unadjusted []time.Time
	months := int(leg.PayFrequency)
	if leg.Direction == Backward {
		current := maturity
		for current.After(effective) {
			unadjusted = append([]time.Time{current}, unadjusted...)
			current = utils.AddMonth(current, -months)
		}
		// A roll landing within a week of effective would create a tiny stub; merge it.
		if len(unadjusted) > 1 {
			if d := utils.Days(effective, unadjusted[0]); d > 0 && d <= 7 {
				unadjusted = unadjusted[1:]
			}
		}
		unadjusted = append([]time.Time{effective}, unadjusted...)
	} else {
		unadjusted = append(unadjusted, effective)
		for i := 1; ; i++ {
			next := utils.AddMonth(effective, i*months)
			if next.After(maturity.AddDate(0, 0, 1)) {
				break
			}
			unadjusted = append(unadjusted, next)
		}
		if last := unadjusted[len(unadjusted)-1]; last.Before(maturity.AddDate(0, 0, -7)) {
			unadjusted = append(unadjusted, maturity)
		}
	}
	if len(unadjusted) < 2 {
		return nil, fmt.Errorf("Generate: no periods between %s and %s: %w",
			effective.Format("2006-01-02"), maturity.Format("2006-01-02"), ErrInvalidSchedule)
	}

	periods := make([]Period, 0, len(unadjusted)-1)
	for i := 0; i < len(unadjusted)-1; i++ {
		start := calendar.Adjust(leg.Calendar, unadjusted[i])
		end := calendar.Adjust(leg.Calendar, unadjusted[i+1])
		periods = append(periods, Period{
			StartDate: start,
			EndDate:   end,
			PayDate:   calendar.AddBusinessDays(leg.Calendar, end, leg.PayDelayDays),
			Accrual:   utils.YearFraction(start, end, leg.DayCount),
		})
	}
	return periods, nil
}
