package util

import (
	"fmt"

	"github.com/elijahnyp/traffic_controller/protocol"
)

const ( // per-road state topic kinds
	COLOR     = "color"
	COUNTDOWN = "countdown"
)

type Model struct {
	Roads []Road `mapstructure:"roads"`
}

type Road struct {
	ID   int    `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// Name is the configured display name of the road, "Road N" otherwise.
func (m Model) Name(id protocol.RoadID) string {
	for _, road := range m.Roads {
		if road.ID == int(id) && road.Name != "" {
			return road.Name
		}
	}
	return fmt.Sprintf("Road %d", id)
}

// RoadTopic is where one attribute of a road is published, below the
// state topic.
func (m Model) RoadTopic(id protocol.RoadID, kind string) string {
	return fmt.Sprintf("%s/road%d/%s", Config.GetString("state_topic"), id, kind)
}

func (m *Model) BuildModel() error {
	var loaded Model
	err := Config.UnmarshalKey("model", &loaded)
	if err != nil {
		Logger.Error().Msgf("error unmarshaling model: %v", err)
		return fmt.Errorf("error unmarshaling model: %w", err)
	}
	for _, road := range loaded.Roads {
		if !protocol.RoadID(road.ID).Valid() {
			return fmt.Errorf("model road id %d out of range 1-%d", road.ID, protocol.RoadCount)
		}
	}
	*m = loaded
	return nil
}
