package state

import (
	"fmt"
	"time"

	"github.com/elijahnyp/traffic_controller/protocol"
)

type SignalColor int

const (
	Red SignalColor = iota
	Green
)

func (c SignalColor) String() string {
	if c == Green {
		return "GREEN"
	}
	return "RED"
}

// Symbol is the glyph used on the console board.
func (c SignalColor) Symbol() string {
	if c == Green {
		return "🟢"
	}
	return "🔴"
}

func (c SignalColor) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *SignalColor) UnmarshalText(text []byte) error {
	switch string(text) {
	case "RED":
		*c = Red
	case "GREEN":
		*c = Green
	default:
		return fmt.Errorf("unknown signal color %q", string(text))
	}
	return nil
}

type RoadState struct {
	Color     SignalColor `json:"color"`
	Countdown int         `json:"countdown"`
}

// Snapshot is a copy of the table handed to presentation sinks.
type Snapshot struct {
	At     time.Time                     `json:"at"`
	Cycle  string                        `json:"cycle,omitempty"`
	Active protocol.RoadID               `json:"active,omitempty"`
	Roads  [protocol.RoadCount]RoadState `json:"roads"`
}

func (s Snapshot) Road(id protocol.RoadID) RoadState {
	if !id.Valid() {
		return RoadState{}
	}
	return s.Roads[id.Index()]
}

// Sink receives every snapshot the engine produces. Implementations must not
// block the caller for long; slow consumers queue internally.
type Sink interface {
	Present(Snapshot)
}

type SinkFunc func(Snapshot)

func (f SinkFunc) Present(s Snapshot) {
	f(s)
}

// Sinks fans a snapshot out to each sink in order.
type Sinks []Sink

func (s Sinks) Present(snap Snapshot) {
	for _, sink := range s {
		if sink != nil {
			sink.Present(snap)
		}
	}
}
