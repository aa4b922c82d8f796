// Package bike holds the bike aggregate. A bike's status column is the single
// source of truth for whether it can be rented or reserved right now.
package bike

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Status int

const (
	StatusAvailable Status = iota
	StatusBooked
	StatusReserved
	StatusBroken
	StatusMaintained
	StatusUnavailable
)

var statusNames = [...]string{
	"AVAILABLE",
	"BOOKED",
	"RESERVED",
	"BROKEN",
	"MAINTAINED",
	"UNAVAILABLE",
}

// Bike represents a bike parked at a station (station_id NULL while in transit).
type Bike struct {
	ID uuid.UUID
	// Label is a physical label on the bike. It should be scannable (e.g. "MB-123")
	// in QR Code format.
	Label     string
	StationID *uuid.UUID `db:"station_id"`
	Status    Status
}

// Rentable reports whether a direct rental or a new hold may take this bike.
func (b Bike) Rentable() bool {
	return b.Status == StatusAvailable
}

func (s Status) String() string {
	if s < StatusAvailable || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) Scan(i any) error {
	var name string
	switch v := i.(type) {
	case string:
		name = v
	case []byte:
		name = string(v)
	default:
		return fmt.Errorf("bike: cannot scan %T into Status", i)
	}
	for idx, n := range statusNames {
		if n == name {
			*s = Status(idx)
			return nil
		}
	}
	return fmt.Errorf("bike: unknown status %q", name)
}
