package main

import (
	"context"
	"encoding/json"
	"strconv"

	. "github.com/elijahnyp/traffic_controller/util"

	"github.com/elijahnyp/traffic_controller/protocol"
	"github.com/elijahnyp/traffic_controller/state"
)

type publishFunc func(topic string, retained bool, payload interface{}) error

// StatePublisher mirrors snapshots to MQTT. Present only queues; Run does the
// publishing so a slow broker never holds up the engine.
type StatePublisher struct {
	publish publishFunc
	model   func() Model
	topic   func() string
	queue   chan state.Snapshot

	last   [protocol.RoadCount]state.RoadState
	primed bool
}

func NewStatePublisher(publish publishFunc) *StatePublisher {
	return &StatePublisher{
		publish: publish,
		model:   currentModel,
		topic:   func() string { return Config.GetString("state_topic") },
		queue:   make(chan state.Snapshot, 32),
	}
}

func (p *StatePublisher) Present(s state.Snapshot) {
	select {
	case p.queue <- s:
	default:
		Logger.Warn().Msg("state publish queue full, dropping snapshot")
	}
}

func (p *StatePublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-p.queue:
			p.send(s)
		}
	}
}

// send publishes the whole snapshot retained on the state topic, then each
// road attribute that changed since the last publish.
func (p *StatePublisher) send(s state.Snapshot) {
	m := p.model()
	doc, err := json.Marshal(describe(s, m))
	if err != nil {
		Logger.Error().Msgf("Error marshalling snapshot: %v", err)
		return
	}
	if err := p.publish(p.topic(), true, doc); err != nil {
		Logger.Warn().Msgf("Error publishing state: %v", err)
		return
	}
	for _, id := range protocol.Roads() {
		rs := s.Road(id)
		prev := p.last[id.Index()]
		if !p.primed || prev.Color != rs.Color {
			if err := p.publish(m.RoadTopic(id, COLOR), true, rs.Color.String()); err != nil {
				Logger.Warn().Msgf("Error publishing road %d color: %v", id, err)
			}
		}
		if !p.primed || prev.Countdown != rs.Countdown {
			if err := p.publish(m.RoadTopic(id, COUNTDOWN), true, strconv.Itoa(rs.Countdown)); err != nil {
				Logger.Warn().Msgf("Error publishing road %d countdown: %v", id, err)
			}
		}
	}
	p.last = s.Roads
	p.primed = true
}

// forwardSink hands snapshots to the webhook forwarder.
func forwardSink(f *Forwarder) state.Sink {
	return state.SinkFunc(func(s state.Snapshot) {
		f.Forward(describe(s, currentModel()))
	})
}
