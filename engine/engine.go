// Package engine keeps the signal controller in step with the vehicle counts.
//
// Each outer tick reads the latest counts, sends them to the controller and
// then polls the link for COUNTDOWN/DONE events until the cycle completes or
// its deadline passes. All timing goes through a Clock so tests can run
// without waiting.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elijahnyp/traffic_controller/device"
	"github.com/elijahnyp/traffic_controller/protocol"
	"github.com/elijahnyp/traffic_controller/source"
	"github.com/elijahnyp/traffic_controller/state"
	"github.com/elijahnyp/traffic_controller/util"
)

// Timing holds the loop cadences.
type Timing struct {
	Tick         time.Duration // outer cadence
	Poll         time.Duration // inner cadence while a cycle is open
	CycleTimeout time.Duration
	Backoff      time.Duration // wait after the count source is missing
}

// DefaultTiming returns the cadences used when nothing is configured.
func DefaultTiming() Timing {
	return Timing{
		Tick:         500 * time.Millisecond,
		Poll:         50 * time.Millisecond,
		CycleTimeout: 60 * time.Second,
		Backoff:      2 * time.Second,
	}
}

// Option configures an Engine in New.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTiming overrides the defaults; zero fields keep their default.
func WithTiming(t Timing) Option {
	return func(e *Engine) {
		if t.Tick > 0 {
			e.timing.Tick = t.Tick
		}
		if t.Poll > 0 {
			e.timing.Poll = t.Poll
		}
		if t.CycleTimeout > 0 {
			e.timing.CycleTimeout = t.CycleTimeout
		}
		if t.Backoff > 0 {
			e.timing.Backoff = t.Backoff
		}
	}
}

// WithSink adds a presentation sink. Sinks run on the engine goroutine.
func WithSink(s state.Sink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// WithTable replaces the default exclusive road table.
func WithTable(t *state.Table) Option {
	return func(e *Engine) { e.table = t }
}

// Engine owns the link, the road table and the outstanding cycle.
type Engine struct {
	src    source.CountSource
	link   device.Transport
	table  *state.Table
	clock  Clock
	timing Timing
	sinks  state.Sinks

	mu     sync.RWMutex
	latest state.Snapshot
	stats  Stats
}

func New(src source.CountSource, link device.Transport, opts ...Option) *Engine {
	e := &Engine{
		src:    src,
		link:   link,
		clock:  WallClock(),
		timing: DefaultTiming(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.table == nil {
		e.table = state.NewTable(true)
	}
	e.latest = e.table.Snapshot(e.clock.Now())
	return e
}

// Run drives the loop until ctx is cancelled or the link fails. The link is
// closed on every exit path. Cancellation is a clean exit and returns nil
// unless the link failed on the way out.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := e.link.Close(); cerr != nil {
			util.Logger.Error().Err(cerr).Msg("closing link")
			if err == nil {
				err = fmt.Errorf("%w: %w", ErrTransport, cerr)
			}
		}
	}()

	e.present(e.table.Snapshot(e.clock.Now()))
	util.Logger.Info().
		Dur("tick", e.timing.Tick).
		Dur("poll", e.timing.Poll).
		Dur("cycle_timeout", e.timing.CycleTimeout).
		Msg("sync engine started")

	for {
		delay, err := e.Step(ctx)
		if err != nil {
			if errors.Is(err, ErrTransport) {
				util.Logger.Error().Err(err).Msg("controller link failed")
				return err
			}
			if ctx.Err() != nil {
				util.Logger.Info().Msg("sync engine stopping")
				return nil
			}
			return err
		}
		if err := e.clock.Sleep(ctx, delay); err != nil {
			util.Logger.Info().Msg("sync engine stopping")
			return nil
		}
	}
}

// Step runs one outer tick and returns how long to wait before the next one.
// Only link failures and unrecoverable source errors are returned.
func (e *Engine) Step(ctx context.Context) (time.Duration, error) {
	raw, err := e.src.Latest(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if errors.Is(err, source.ErrUnavailable) {
			e.count(func(s *Stats) { s.SourceMisses++ })
			util.Logger.Warn().Err(err).Msgf("count source not ready, retrying in %v", e.timing.Backoff)
			return e.timing.Backoff, nil
		}
		return 0, fmt.Errorf("count source: %w", err)
	}
	if raw == "" {
		return e.timing.Tick, nil
	}

	counts, err := protocol.ParseCounts(raw)
	if err != nil {
		e.count(func(s *Stats) { s.MalformedCounts++ })
		util.Logger.Warn().Err(err).Str("raw", raw).Msg("skipping tick")
		return e.timing.Tick, nil
	}

	cycle, err := e.send(counts)
	if err != nil {
		return 0, err
	}
	err = e.await(ctx, cycle)
	e.count(func(s *Stats) { s.CurrentCycle = "" })
	switch {
	case err == nil:
		return 0, nil
	case errors.Is(err, ErrCycleStalled):
		e.count(func(s *Stats) { s.CyclesStalled++ })
		util.Logger.Warn().Str("cycle", cycle.ID).Int("road", int(cycle.Active)).Msgf("%v, no DONE within %v", err, e.timing.CycleTimeout)
		return e.timing.Tick, nil
	default:
		return 0, err
	}
}

func (e *Engine) send(counts protocol.Counts) (*Cycle, error) {
	if err := e.link.Discard(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := e.link.Write(protocol.Encode(counts)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	now := e.clock.Now()
	c := newCycle(counts, now, e.timing.CycleTimeout)
	e.table.BeginCycle()
	e.count(func(s *Stats) {
		s.CyclesStarted++
		s.LastCounts = counts
		s.LastSent = now
		s.CurrentCycle = c.ID
	})
	util.Logger.Debug().Str("cycle", c.ID).Msgf("sent counts %v", counts)
	return c, nil
}

func (e *Engine) await(ctx context.Context, c *Cycle) error {
	for {
		done, err := e.drain(c)
		if err != nil {
			return err
		}
		if done {
			e.count(func(s *Stats) { s.CyclesCompleted++ })
			util.Logger.Debug().Str("cycle", c.ID).Dur("took", e.clock.Now().Sub(c.StartedAt)).Msg("cycle complete")
			return nil
		}
		if c.expired(e.clock.Now()) {
			return fmt.Errorf("%w: cycle %s", ErrCycleStalled, c.ID)
		}
		if err := e.clock.Sleep(ctx, e.timing.Poll); err != nil {
			return err
		}
	}
}

// drain applies every complete line currently available. Lines after a DONE
// stay buffered.
func (e *Engine) drain(c *Cycle) (bool, error) {
	for {
		line, ok, err := e.link.ReadLine()
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if !ok {
			return false, nil
		}
		ev := protocol.Decode(line)
		e.count(func(s *Stats) { s.Events++ })
		switch ev.Kind {
		case protocol.Malformed:
			e.count(func(s *Stats) { s.MalformedEvents++ })
			util.Logger.Debug().Str("cycle", c.ID).Str("line", ev.Raw).Msg("ignoring line")
			continue
		case protocol.Countdown:
			c.Active = ev.Road
		case protocol.Done:
			c.Active = 0
		}
		if snap, changed := e.table.Apply(ev, e.clock.Now()); changed {
			snap.Cycle = c.ID
			e.present(snap)
		}
		if ev.Kind == protocol.Done {
			return true, nil
		}
	}
}

func (e *Engine) present(snap state.Snapshot) {
	e.mu.Lock()
	e.latest = snap
	e.mu.Unlock()
	e.sinks.Present(snap)
}

// Latest returns the most recently presented snapshot.
func (e *Engine) Latest() state.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Timing returns the effective cadences after options are applied.
func (e *Engine) Timing() Timing {
	return e.timing
}
