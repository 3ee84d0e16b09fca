package main

import (
	"sync"
	"time"

	. "github.com/elijahnyp/traffic_controller/util"

	"github.com/elijahnyp/traffic_controller/protocol"
	"github.com/elijahnyp/traffic_controller/state"
)

var model Model
var modelMu sync.RWMutex

func loadModel() {
	modelMu.Lock()
	defer modelMu.Unlock()
	if err := model.BuildModel(); err != nil {
		Logger.Error().Msgf("Error building model: %v", err)
	}
}

func currentModel() Model {
	modelMu.RLock()
	defer modelMu.RUnlock()
	return model
}

// roadDoc and snapshotDoc are the published form of a snapshot, shared by
// the MQTT state topic, the webhook forwarder, the websocket and the API.
type roadDoc struct {
	ID        protocol.RoadID   `json:"id"`
	Name      string            `json:"name"`
	Color     state.SignalColor `json:"color"`
	Countdown int               `json:"countdown"`
}

type snapshotDoc struct {
	At     time.Time       `json:"at"`
	Cycle  string          `json:"cycle,omitempty"`
	Active protocol.RoadID `json:"active,omitempty"`
	Roads  []roadDoc       `json:"roads"`
}

func describe(s state.Snapshot, m Model) snapshotDoc {
	doc := snapshotDoc{At: s.At, Cycle: s.Cycle, Active: s.Active, Roads: make([]roadDoc, 0, protocol.RoadCount)}
	for _, id := range protocol.Roads() {
		rs := s.Road(id)
		doc.Roads = append(doc.Roads, roadDoc{ID: id, Name: m.Name(id), Color: rs.Color, Countdown: rs.Countdown})
	}
	return doc
}
