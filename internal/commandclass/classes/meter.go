package classes

import (
	"fmt"

	"zwave-go-home/internal/commandclass"
)

var Meter = commandclass.ClassDef{
	ID:   0x32,
	Name: "Meter",
	Commands: []commandclass.CommandDef{
		{ID: 0x01, Name: "Get"},
		{ID: 0x02, Name: "Report"},
		{ID: 0x03, Name: "SupportedGet"},
		{ID: 0x04, Name: "SupportedReport"},
		{ID: 0x05, Name: "Reset"},
	},
	Decode: decodeMeter,
}

var meterTypes = map[uint8]sensorType{
	0x01: {"electric", []string{"kWh", "kVAh", "W", "pulses"}},
	0x02: {"gas", []string{"m³", "ft³", "", "pulses"}},
	0x03: {"water", []string{"m³", "ft³", "gal", "pulses"}},
}

func decodeMeter(cmd uint8, data []byte) ([]commandclass.Value, error) {
	if cmd != 0x02 {
		return nil, nil
	}
	if len(data) < 2 {
		return nil, commandclass.ErrShortReport
	}
	s, err := commandclass.DecodeScaled(data[1:], 0x03)
	if err != nil {
		return nil, err
	}
	mt, ok := meterTypes[data[0]&0x1F]
	if !ok {
		mt = sensorType{name: fmt.Sprintf("meter_%d", data[0]&0x1F)}
	}
	unit := ""
	if s.Scale < len(mt.scales) {
		unit = mt.scales[s.Scale]
	}
	return []commandclass.Value{{Property: mt.name, Value: s.Value, Unit: unit}}, nil
}
