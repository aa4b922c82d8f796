package rental

import "time"

// Pricing holds the tariff applied when a rental ends. All amounts are in
// minor currency units.
type Pricing struct {
	PricePer30Min int64
	PenaltyHours  int
	PenaltyAmount int64
}

// DurationMinutes is the billable duration of a rental; never less than one
// minute.
func DurationMinutes(start, end time.Time) int64 {
	mins := int64(end.Sub(start) / time.Minute)
	if mins < 1 {
		return 1
	}
	return mins
}

// Price computes the final charge: a per-30-minute base rate, a late penalty
// past PenaltyHours, minus whatever was prepaid at reservation time. Never
// negative.
func (p Pricing) Price(durationMinutes, prepaid int64) int64 {
	blocks := (durationMinutes + 29) / 30
	total := blocks * p.PricePer30Min
	if durationMinutes > int64(p.PenaltyHours)*60 {
		total += p.PenaltyAmount
	}
	total -= prepaid
	if total < 0 {
		return 0
	}
	return total
}
