package engine

import (
	"errors"

	"github.com/elijahnyp/traffic_controller/protocol"
	"github.com/elijahnyp/traffic_controller/source"
)

var (
	// ErrTransport wraps every failure of the device link. It ends Run.
	ErrTransport = errors.New("transport failure")
	// ErrCycleStalled is reported when no DONE arrives before the deadline.
	ErrCycleStalled = errors.New("cycle stalled")

	ErrSourceUnavailable = source.ErrUnavailable
	ErrMalformedCount    = protocol.ErrMalformedCount
)
