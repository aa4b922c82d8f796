package reservation

import "time"

// Hold carries the timing knobs of a reservation hold.
type Hold struct {
	// HoldMinutes is how long a PENDING hold keeps the bike.
	HoldMinutes int
	// NotifyMinutes is how long before the deadline the reminder goes out.
	NotifyMinutes int
}

func (h Hold) EndTime(start time.Time) time.Time {
	return start.Add(time.Duration(h.HoldMinutes) * time.Minute)
}

// NotifyAt schedules the near-expiry reminder. Clamped to now so a hold
// shorter than the notice window still gets its reminder immediately rather
// than in the past.
func (h Hold) NotifyAt(now, end time.Time) time.Time {
	at := end.Add(-time.Duration(h.NotifyMinutes) * time.Minute)
	if at.Before(now) {
		return now
	}
	return at
}

// ExpireAt schedules the expiry sweep, clamped to now for holds created with
// a deadline already in the past.
func (h Hold) ExpireAt(now, end time.Time) time.Time {
	if end.Before(now) {
		return now
	}
	return end
}
