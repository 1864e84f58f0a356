//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"slices"

	"zwave-go-home/internal/store"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/zwave_C0FFEE01_7/temperature/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
	Model       string   `json:"model,omitempty"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic"`
	CommandTopic        string   `json:"command_topic,omitempty"`
	AvailabilityTopic   string   `json:"availability_topic"`
	ValueTemplate       string   `json:"value_template,omitempty"`
	UnitOfMeasurement   string   `json:"unit_of_measurement,omitempty"`
	DeviceClass         string   `json:"device_class,omitempty"`
	StateClass          string   `json:"state_class,omitempty"`
	PayloadOn           string   `json:"payload_on,omitempty"`
	PayloadOff          string   `json:"payload_off,omitempty"`
	BrightnessScale     int      `json:"brightness_scale,omitempty"`
	SupportedColorModes []string `json:"supported_color_modes,omitempty"`
	Schema              string   `json:"schema,omitempty"`
	Device              haDevice `json:"device"`
}

// Command classes that select the main entity.
const (
	ccSwitchBinary     = 0x25
	ccSwitchMultilevel = 0x26
	ccBattery          = 0x80
)

type sensorSpec struct {
	key, suffix, deviceClass, unit string
}

// Reported values that become sensors, in publishing order.
var sensorSpecs = []sensorSpec{
	{"temperature", "Temperature", "temperature", "°C"},
	{"humidity", "Humidity", "humidity", "%"},
	{"luminance", "Luminance", "illuminance", "lx"},
	{"power", "Power", "power", "W"},
	{"voltage", "Voltage", "voltage", "V"},
	{"current", "Current", "current", "A"},
	{"electric", "Energy", "energy", "kWh"},
	{"co2", "CO2", "carbon_dioxide", "ppm"},
	{"battery", "Battery", "battery", "%"},
}

// Reported values that become binary sensors.
var binarySpecs = []sensorSpec{
	{key: "motion", suffix: "Motion", deviceClass: "motion"},
	{key: "door_window", suffix: "Door", deviceClass: "door"},
	{key: "smoke", suffix: "Smoke", deviceClass: "smoke"},
	{key: "water", suffix: "Water", deviceClass: "moisture"},
	{key: "tamper", suffix: "Tamper", deviceClass: "tamper"},
	{key: "heat", suffix: "Heat", deviceClass: "heat"},
	{key: "co", suffix: "CO", deviceClass: "carbon_monoxide"},
	{key: "battery_low", suffix: "Battery Low", deviceClass: "battery"},
}

func nodeIdentifier(id uint8) string {
	return fmt.Sprintf("zwave_node_%d", id)
}

// buildDiscovery generates HA discovery messages from a node's command classes
// and the values it has reported so far.
func buildDiscovery(node *store.Node, prefix string) []discoveryMsg {
	if node.Controller {
		return nil
	}
	id := nodeIdentifier(node.ID)
	stateTopic := fmt.Sprintf("%s/node/%d", prefix, node.ID)
	d := entityBuilder{
		id:         id,
		name:       node.DisplayName(),
		stateTopic: stateTopic,
		cmdTopic:   stateTopic + "/set",
		avail:      prefix + "/bridge/state",
		device: haDevice{
			Identifiers: []string{id},
			Name:        node.DisplayName(),
			Model:       fmt.Sprintf("generic 0x%02X specific 0x%02X", node.Generic, node.Specific),
		},
	}

	has := func(cc int) bool { return slices.Contains(node.CommandClasses, cc) }
	_, hasLevel := node.Values["level"]

	var msgs []discoveryMsg
	switch {
	case has(ccSwitchMultilevel):
		msgs = append(msgs, d.light())
	case has(ccSwitchBinary):
		msgs = append(msgs, d.switchEntity())
	case hasLevel && len(node.CommandClasses) == 0:
		// Basic-only reporter without a node info frame yet.
		msgs = append(msgs, d.light())
	}

	for _, s := range sensorSpecs {
		_, reported := node.Values[s.key]
		if reported || (s.key == "battery" && has(ccBattery)) {
			msgs = append(msgs, d.sensor(s))
		}
	}
	for _, s := range binarySpecs {
		if _, reported := node.Values[s.key]; reported {
			msgs = append(msgs, d.binarySensor(s))
		}
	}
	return msgs
}

type entityBuilder struct {
	id, name, stateTopic, cmdTopic, avail string
	device                                haDevice
}

func (d entityBuilder) msg(component, object string, payload haDiscovery) discoveryMsg {
	payload.UniqueID = d.id + "_" + object
	payload.StateTopic = d.stateTopic
	payload.AvailabilityTopic = d.avail
	payload.Device = d.device
	return discoveryMsg{
		Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", component, d.id, object),
		Payload: mustJSON(payload),
	}
}

func (d entityBuilder) light() discoveryMsg {
	return d.msg("light", "light", haDiscovery{
		Name:                d.name,
		CommandTopic:        d.cmdTopic,
		SupportedColorModes: []string{"brightness"},
		BrightnessScale:     99,
		Schema:              "json",
	})
}

func (d entityBuilder) switchEntity() discoveryMsg {
	return d.msg("switch", "switch", haDiscovery{
		Name:          d.name,
		CommandTopic:  d.cmdTopic,
		ValueTemplate: "{{ value_json.state }}",
		PayloadOn:     "ON",
		PayloadOff:    "OFF",
	})
}

func (d entityBuilder) sensor(s sensorSpec) discoveryMsg {
	return d.msg("sensor", s.key, haDiscovery{
		Name:              d.name + " " + s.suffix,
		ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", s.key),
		UnitOfMeasurement: s.unit,
		DeviceClass:       s.deviceClass,
		StateClass:        "measurement",
	})
}

func (d entityBuilder) binarySensor(s sensorSpec) discoveryMsg {
	return d.msg("binary_sensor", s.key, haDiscovery{
		Name:          d.name + " " + s.suffix,
		ValueTemplate: fmt.Sprintf("{{ 'ON' if value_json.%s else 'OFF' }}", s.key),
		DeviceClass:   s.deviceClass,
		PayloadOn:     "ON",
		PayloadOff:    "OFF",
	})
}

// buildRemoveDiscovery generates empty retained messages to remove a node from HA.
func buildRemoveDiscovery(nodeID uint8) []discoveryMsg {
	id := nodeIdentifier(nodeID)
	topic := func(component, object string) discoveryMsg {
		return discoveryMsg{Topic: fmt.Sprintf("homeassistant/%s/%s/%s/config", component, id, object)}
	}
	msgs := []discoveryMsg{topic("light", "light"), topic("switch", "switch")}
	for _, s := range sensorSpecs {
		msgs = append(msgs, topic("sensor", s.key))
	}
	for _, s := range binarySpecs {
		msgs = append(msgs, topic("binary_sensor", s.key))
	}
	return msgs
}
