// Package device talks to the signal controller over a line-oriented serial
// link.
package device

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Transport is the link to the controller as seen by the engine. ReadLine
// never blocks longer than the configured read timeout; ok is false when no
// complete line arrived within it.
type Transport interface {
	Write(p []byte) error
	ReadLine() (line []byte, ok bool, err error)
	Discard() error
	Close() error
}

// MaxLineLength bounds a pending inbound line. Longer runs without a newline
// are dropped.
const MaxLineLength = 256

type Config struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
	Settle      time.Duration
}

// Error is a transport failure on a named port.
type Error struct {
	Op   string
	Port string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Disconnected reports whether err means the device went away rather than
// being misconfigured.
func Disconnected(err error) bool {
	if err == nil {
		return false
	}
	var code serial.PortErrorCode
	var pe *serial.PortError
	var pv serial.PortError
	switch {
	case errors.As(err, &pe):
		code = pe.Code()
	case errors.As(err, &pv):
		code = pv.Code()
	default:
		return false
	}
	switch code {
	case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
		return true
	default:
		return false
	}
}
