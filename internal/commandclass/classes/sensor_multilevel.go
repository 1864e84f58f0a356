package classes

import (
	"fmt"

	"zwave-go-home/internal/commandclass"
)

var SensorMultilevel = commandclass.ClassDef{
	ID:   0x31,
	Name: "Sensor Multilevel",
	Commands: []commandclass.CommandDef{
		{ID: 0x01, Name: "SupportedGet"},
		{ID: 0x02, Name: "SupportedReport"},
		{ID: 0x04, Name: "Get"},
		{ID: 0x05, Name: "Report"},
	},
	Decode: decodeSensorMultilevel,
}

type sensorType struct {
	name   string
	scales []string
}

var multilevelSensorTypes = map[uint8]sensorType{
	0x01: {"temperature", []string{"°C", "°F"}},
	0x02: {"general", []string{"%", ""}},
	0x03: {"luminance", []string{"%", "lux"}},
	0x04: {"power", []string{"W", "Btu/h"}},
	0x05: {"humidity", []string{"%", "g/m³"}},
	0x06: {"velocity", []string{"m/s", "mph"}},
	0x08: {"atmospheric_pressure", []string{"kPa", "inHg"}},
	0x0F: {"voltage", []string{"V", "mV"}},
	0x10: {"current", []string{"A", "mA"}},
	0x11: {"co2", []string{"ppm"}},
	0x1B: {"ultraviolet", []string{""}},
}

func decodeSensorMultilevel(cmd uint8, data []byte) ([]commandclass.Value, error) {
	if cmd != 0x05 {
		return nil, nil
	}
	if len(data) < 2 {
		return nil, commandclass.ErrShortReport
	}
	s, err := commandclass.DecodeScaled(data[1:], 0x03)
	if err != nil {
		return nil, err
	}
	st, ok := multilevelSensorTypes[data[0]]
	if !ok {
		st = sensorType{name: fmt.Sprintf("sensor_%d", data[0])}
	}
	unit := ""
	if s.Scale < len(st.scales) {
		unit = st.scales[s.Scale]
	}
	return []commandclass.Value{{Property: st.name, Value: s.Value, Unit: unit}}, nil
}
