package reservation

import (
	"testing"
	"time"
)

func TestHoldScheduling(t *testing.T) {
	h := Hold{HoldMinutes: 15, NotifyMinutes: 5}

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	end := h.EndTime(now)

	if want := now.Add(15 * time.Minute); !end.Equal(want) {
		t.Errorf("EndTime = %v, want %v", end, want)
	}
	if got, want := h.NotifyAt(now, end), now.Add(10*time.Minute); !got.Equal(want) {
		t.Errorf("NotifyAt = %v, want %v", got, want)
	}
	if got := h.ExpireAt(now, end); !got.Equal(end) {
		t.Errorf("ExpireAt = %v, want %v", got, end)
	}
}

func TestHoldSchedulingClampsToNow(t *testing.T) {
	h := Hold{HoldMinutes: 15, NotifyMinutes: 5}
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// A deadline already inside the notice window fires the reminder now.
	end := now.Add(2 * time.Minute)
	if got := h.NotifyAt(now, end); !got.Equal(now) {
		t.Errorf("NotifyAt = %v, want clamp to %v", got, now)
	}

	// A deadline in the past expires now, never in the past.
	past := now.Add(-time.Minute)
	if got := h.ExpireAt(now, past); !got.Equal(now) {
		t.Errorf("ExpireAt = %v, want clamp to %v", got, now)
	}
}
