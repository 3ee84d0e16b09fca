package engine

import (
	"time"

	"github.com/elijahnyp/traffic_controller/protocol"
)

type Stats struct {
	CyclesStarted   int             `json:"cycles_started"`
	CyclesCompleted int             `json:"cycles_completed"`
	CyclesStalled   int             `json:"cycles_stalled"`
	MalformedCounts int             `json:"malformed_counts"`
	MalformedEvents int             `json:"malformed_events"`
	SourceMisses    int             `json:"source_misses"`
	Events          int             `json:"events"`
	LastCounts      protocol.Counts `json:"last_counts"`
	LastSent        time.Time       `json:"last_sent"`
	CurrentCycle    string          `json:"current_cycle,omitempty"`
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

func (e *Engine) count(f func(*Stats)) {
	e.mu.Lock()
	f(&e.stats)
	e.mu.Unlock()
}
