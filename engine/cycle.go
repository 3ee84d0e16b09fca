package engine

import (
	"time"

	"github.com/elijahnyp/traffic_controller/protocol"
	"github.com/google/uuid"
)

// Cycle is one send/acknowledge round trip. Only one is outstanding at a time.
type Cycle struct {
	ID        string
	Counts    protocol.Counts
	StartedAt time.Time
	Deadline  time.Time
	Active    protocol.RoadID
}

func newCycle(counts protocol.Counts, now time.Time, timeout time.Duration) *Cycle {
	return &Cycle{
		ID:        uuid.NewString(),
		Counts:    counts,
		StartedAt: now,
		Deadline:  now.Add(timeout),
	}
}

func (c *Cycle) expired(now time.Time) bool {
	return !now.Before(c.Deadline)
}
