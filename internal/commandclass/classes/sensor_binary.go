package classes

import "zwave-go-home/internal/commandclass"

var SensorBinary = commandclass.ClassDef{
	ID:   0x30,
	Name: "Sensor Binary",
	Commands: []commandclass.CommandDef{
		{ID: 0x01, Name: "SupportedGet"},
		{ID: 0x02, Name: "Get"},
		{ID: 0x03, Name: "Report"},
		{ID: 0x04, Name: "SupportedReport"},
	},
	Decode: func(cmd uint8, data []byte) ([]commandclass.Value, error) {
		if cmd != 0x03 {
			return nil, nil
		}
		if len(data) < 1 {
			return nil, commandclass.ErrShortReport
		}
		property := "sensor"
		// v2 reports append the sensor type.
		if len(data) >= 2 {
			if name, ok := binarySensorTypes[data[1]]; ok {
				property = name
			}
		}
		return []commandclass.Value{{Property: property, Value: commandclass.OnOff(data[0])}}, nil
	},
}

var binarySensorTypes = map[uint8]string{
	0x01: "general",
	0x02: "smoke",
	0x03: "co",
	0x04: "co2",
	0x05: "heat",
	0x06: "water",
	0x07: "freeze",
	0x08: "tamper",
	0x0A: "door_window",
	0x0C: "motion",
	0x0D: "glass_break",
}
