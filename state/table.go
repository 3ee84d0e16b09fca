// Package state holds the per-road signal table driven by controller events.
package state

import (
	"sync"
	"time"

	"github.com/elijahnyp/traffic_controller/protocol"
)

// Table tracks color and remaining seconds for each road. All roads start
// RED with no countdown. The active road belongs to the current cycle only;
// BeginCycle forgets it while the displayed colors carry over.
type Table struct {
	mu        sync.RWMutex
	roads     [protocol.RoadCount]RoadState
	active    protocol.RoadID
	exclusive bool
}

// NewTable builds an all-RED table. With exclusive set, a countdown for a new
// road forces the previously active road back to RED so at most one road is
// ever GREEN.
func NewTable(exclusive bool) *Table {
	return &Table{exclusive: exclusive}
}

// Apply updates the table for one controller event. The returned snapshot is
// only meaningful when changed is true; Malformed events and a DONE without
// an active road leave the table untouched.
func (t *Table) Apply(ev protocol.Event, at time.Time) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case protocol.Countdown:
		if !ev.Road.Valid() {
			return Snapshot{}, false
		}
		if t.exclusive && t.active.Valid() && t.active != ev.Road {
			t.roads[t.active.Index()] = RoadState{Color: Red}
		}
		road := RoadState{Color: Green, Countdown: ev.Seconds}
		// the last second is already shown as RED
		if ev.Seconds == 1 {
			road.Color = Red
		}
		t.roads[ev.Road.Index()] = road
		t.active = ev.Road
	case protocol.Done:
		if !t.active.Valid() {
			return Snapshot{}, false
		}
		t.roads[t.active.Index()] = RoadState{Color: Red}
		t.active = 0
	default:
		return Snapshot{}, false
	}
	return t.snapshot(at), true
}

// BeginCycle starts a new acknowledge round. A road left active by an earlier
// cycle that never saw its DONE keeps its last color and countdown, but a DONE
// or COUNTDOWN in the new cycle no longer touches it.
func (t *Table) BeginCycle() {
	t.mu.Lock()
	t.active = 0
	t.mu.Unlock()
}

func (t *Table) Snapshot(at time.Time) Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot(at)
}

// Active returns the road awaiting its DONE in the current cycle, or 0.
func (t *Table) Active() protocol.RoadID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

func (t *Table) snapshot(at time.Time) Snapshot {
	return Snapshot{At: at, Active: t.active, Roads: t.roads}
}
