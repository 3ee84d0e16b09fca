package device

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/elijahnyp/traffic_controller/util"
	"go.bug.st/serial"
)

var (
	// ErrNoPort is returned by Detect when no candidate port is attached.
	ErrNoPort = errors.New("no serial port found")
	ErrClosed = errors.New("port closed")
)

// port is the subset of serial.Port the link needs.
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	Close() error
}

// Serial is a Transport over a serial port.
type Serial struct {
	name    string
	port    port
	buf     []byte
	pending []byte
	mu      sync.Mutex
	closed  bool
}

var listPorts = serial.GetPortsList

var openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(name, mode)
}

// Detect returns the first attached port that looks like a microcontroller
// board.
func Detect() (string, error) {
	ports, err := listPorts()
	if err != nil {
		return "", &Error{Op: "enumerate", Port: "*", Err: err}
	}
	for _, p := range ports {
		if candidatePort(p) {
			return p, nil
		}
	}
	return "", ErrNoPort
}

func candidatePort(name string) bool {
	if runtime.GOOS == "windows" {
		return strings.HasPrefix(strings.ToUpper(name), "COM")
	}
	for _, prefix := range []string{"/dev/ttyACM", "/dev/ttyUSB", "/dev/cu.usbmodem", "/dev/cu.usbserial"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Open opens the configured port, waits for the board to settle after the
// reset that opening triggers, and drops whatever it printed while booting.
func Open(ctx context.Context, cfg Config) (*Serial, error) {
	name := cfg.Port
	if name == "" || name == "auto" {
		detected, err := Detect()
		if err != nil {
			return nil, err
		}
		util.Logger.Info().Msgf("auto-detected serial port %s", detected)
		name = detected
	}
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = 9600
	}
	p, err := openPort(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, &Error{Op: "open", Port: name, Err: err}
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		_ = p.Close()
		return nil, &Error{Op: "configure", Port: name, Err: err}
	}
	util.Logger.Info().Str("port", name).Int("baud", baud).Msg("serial port open")

	if cfg.Settle > 0 {
		t := time.NewTimer(cfg.Settle)
		select {
		case <-ctx.Done():
			t.Stop()
			_ = p.Close()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	s := NewSerial(name, p)
	if err := s.Discard(); err != nil {
		_ = p.Close()
		return nil, err
	}
	return s, nil
}

func NewSerial(name string, p port) *Serial {
	return &Serial{name: name, port: p, buf: make([]byte, 128)}
}

func (s *Serial) Name() string { return s.name }

func (s *Serial) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &Error{Op: "write", Port: s.name, Err: ErrClosed}
	}
	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			return &Error{Op: "write", Port: s.name, Err: err}
		}
		if n == 0 {
			return &Error{Op: "write", Port: s.name, Err: errors.New("short write")}
		}
		p = p[n:]
	}
	return nil
}

// ReadLine returns the next complete line without its terminator. A single
// port read is attempted per call when nothing is buffered.
func (s *Serial) ReadLine() ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if line, ok := s.nextLine(); ok {
		return line, true, nil
	}
	if s.closed {
		return nil, false, &Error{Op: "read", Port: s.name, Err: ErrClosed}
	}
	n, err := s.port.Read(s.buf)
	if err != nil {
		return nil, false, &Error{Op: "read", Port: s.name, Err: err}
	}
	if n == 0 {
		return nil, false, nil
	}
	s.pending = append(s.pending, s.buf[:n]...)
	line, ok := s.nextLine()
	return line, ok, nil
}

func (s *Serial) nextLine() ([]byte, bool) {
	i := bytes.IndexByte(s.pending, '\n')
	if i < 0 {
		if len(s.pending) > MaxLineLength {
			util.Logger.Warn().Str("port", s.name).Int("bytes", len(s.pending)).Msg("dropping oversized line")
			s.pending = s.pending[:0]
		}
		return nil, false
	}
	line := make([]byte, i)
	copy(line, s.pending[:i])
	s.pending = append(s.pending[:0], s.pending[i+1:]...)
	return bytes.TrimSuffix(line, []byte{'\r'}), true
}

// Discard drops buffered inbound bytes both here and in the driver.
func (s *Serial) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending[:0]
	if s.closed {
		return nil
	}
	if err := s.port.ResetInputBuffer(); err != nil {
		return &Error{Op: "discard", Port: s.name, Err: err}
	}
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	util.Logger.Info().Str("port", s.name).Msg("closing serial port")
	if err := s.port.Close(); err != nil {
		return &Error{Op: "close", Port: s.name, Err: err}
	}
	return nil
}
