package utils

import (
	"time"
)

// Day count conventions accepted by YearFraction.
const (
	Act360  = "ACT/360"
	Act365F = "ACT/365F"
	Dc30360 = "30/360"
	Dc30E   = "30E/360"
)

// YearFraction computes year fraction between two dates using the specified day count convention.
// Unknown conventions fall back to ACT/365F.
func YearFraction(start, end time.Time, convention string) float64 {
	switch convention {
	case Act360:
		return Days(start, end) / 360.0
	case Dc30E:
		d1 := min(start.Day(), 30)
		d2 := min(end.Day(), 30)
		return thirty360(start, end, d1, d2)
	case Dc30360:
		// 30/360 US bond basis: D2 capped only when D1 is 30 or 31.
		d1 := min(start.Day(), 30)
		d2 := end.Day()
		if d2 == 31 && d1 == 30 {
			d2 = 30
		}
		return thirty360(start, end, d1, d2)
	default:
		return Days(start, end) / 365.0
	}
}

func thirty360(start, end time.Time, d1, d2 int) float64 {
	y1, m1 := start.Year(), int(start.Month())
	y2, m2 := end.Year(), int(end.Month())
	return float64(360*(y2-y1)+30*(m2-m1)+(d2-d1)) / 360.0
}
