// Package protocol implements the line protocol spoken with the signal
// controller: one count command out, countdown and completion events in.
package protocol

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	countdownKeyword = "COUNTDOWN"
	doneKeyword      = "DONE"
)

type EventKind int

const (
	Malformed EventKind = iota
	Countdown
	Done
)

func (k EventKind) String() string {
	switch k {
	case Countdown:
		return "countdown"
	case Done:
		return "done"
	default:
		return "malformed"
	}
}

// Event is one decoded line from the controller. Road and Seconds are only
// meaningful for Countdown; Raw keeps the original line for logging.
type Event struct {
	Kind    EventKind
	Road    RoadID
	Seconds int
	Raw     string
}

// Encode renders the count command, newline terminated.
func Encode(c Counts) []byte {
	return append(c.appendText(make([]byte, 0, 4*RoadCount)), '\n')
}

// Decode never fails: anything that is not a well formed COUNTDOWN or DONE
// line, including invalid UTF-8, comes back as a Malformed event.
func Decode(line []byte) Event {
	if !utf8.Valid(line) {
		return Event{Kind: Malformed, Raw: strconv.Quote(string(line))}
	}
	text := strings.TrimSpace(string(line))
	if text == doneKeyword {
		return Event{Kind: Done, Raw: text}
	}
	if !strings.HasPrefix(text, countdownKeyword) {
		return Event{Kind: Malformed, Raw: text}
	}
	parts := strings.Fields(text)
	if len(parts) != 3 {
		return Event{Kind: Malformed, Raw: text}
	}
	road, err := strconv.Atoi(parts[1])
	if err != nil || !RoadID(road).Valid() {
		return Event{Kind: Malformed, Raw: text}
	}
	seconds, err := strconv.Atoi(parts[2])
	if err != nil || seconds < 0 {
		return Event{Kind: Malformed, Raw: text}
	}
	return Event{Kind: Countdown, Road: RoadID(road), Seconds: seconds, Raw: text}
}
