package util

import (
	"encoding/json"
	"fmt"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/elijahnyp/traffic_controller/protocol"
)

type HAAvdvertisementAvailability struct {
	Topic               string `json:"topic"`                 // : "traffic/online"
	PayloadAvailable    string `json:"payload_available"`     // : "online"
	PayloadNotAvailable string `json:"payload_not_available"` // : "offline"
}

type HADeviceSpec struct {
	Name        string   `json:"name"` // : "Traffic Controller"
	Identifiers []string `json:"ids"`  // : ["traffic_controller"]
}

type HAAdvertisement struct { //nolint:govet // struct layout optimized for JSON field order
	HAAvdvertisementAvailability []HAAvdvertisementAvailability `json:"availability"`
	Device                       HADeviceSpec                   `json:"device"`
	UniqueID                     string                         `json:"uniq_id"`
	Name                         string                         `json:"name"`
	StateTopic                   string                         `json:"state_topic"`
	Icon                         string                         `json:"icon,omitempty"`
	UnitOfMeasurement            string                         `json:"unit_of_measurement,omitempty"`
	DeviceClass                  string                         `json:"device_class,omitempty"` // : "duration"
	Platform                     string                         `json:"platform"`               // "sensor"
	Qos                          int                            `json:"qos"`
}

func (ha HAAdvertisement) ToJson() string {
	data, err := json.Marshal(ha)
	if err != nil {
		Logger.Error().Msgf("Error marshalling HAAdvertisement: %v", err)
		return ""
	}
	return string(data)
}

func haObjectID(id protocol.RoadID, kind string) string {
	return fmt.Sprintf("traffic_controller_road%d_%s", id, kind)
}

// ConstructHAAdvertisement describes one road attribute (COLOR or COUNTDOWN)
// as a Home Assistant sensor.
func ConstructHAAdvertisement(name string, id protocol.RoadID, kind, stateTopic string) HAAdvertisement {
	ha := HAAdvertisement{
		Name:       fmt.Sprintf("%s %s", name, kind),
		StateTopic: stateTopic,
		HAAvdvertisementAvailability: []HAAvdvertisementAvailability{
			{
				Topic:               OnlineTopic(),
				PayloadAvailable:    "online",
				PayloadNotAvailable: "offline",
			},
		},
		Qos:      0,
		UniqueID: haObjectID(id, kind),
		Platform: "sensor",
		Device: HADeviceSpec{
			Name:        "traffic_controller",
			Identifiers: []string{"traffic_controller"},
		},
	}
	if kind == COUNTDOWN {
		ha.DeviceClass = "duration"
		ha.UnitOfMeasurement = "s"
		ha.Icon = "mdi:timer-sand"
	} else {
		ha.Icon = "mdi:traffic-light"
	}
	return ha
}

func AdvertiseHA(m Model, client MQTT.Client) {
	for _, id := range protocol.Roads() {
		for _, kind := range []string{COLOR, COUNTDOWN} {
			ha := ConstructHAAdvertisement(m.Name(id), id, kind, m.RoadTopic(id, kind))
			topic := "homeassistant/sensor/" + haObjectID(id, kind) + "/config"
			if token := client.Publish(topic, 0, true, ha.ToJson()); token.Wait() && token.Error() != nil {
				Logger.Error().Msgf("Error Publishing: %v", fmt.Errorf("%v", token.Error()))
			}
		}
	}
}
