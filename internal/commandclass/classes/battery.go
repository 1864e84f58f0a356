package classes

import "zwave-go-home/internal/commandclass"

var Battery = commandclass.ClassDef{
	ID:   0x80,
	Name: "Battery",
	Commands: []commandclass.CommandDef{
		{ID: 0x02, Name: "Get"},
		{ID: 0x03, Name: "Report"},
	},
	Decode: func(cmd uint8, data []byte) ([]commandclass.Value, error) {
		if cmd != 0x03 {
			return nil, nil
		}
		if len(data) < 1 {
			return nil, commandclass.ErrShortReport
		}
		// 0xFF is the low battery warning.
		if data[0] == 0xFF {
			return []commandclass.Value{
				{Property: "battery", Value: 0, Unit: "%"},
				{Property: "battery_low", Value: true},
			}, nil
		}
		return []commandclass.Value{
			{Property: "battery", Value: int(data[0]), Unit: "%"},
			{Property: "battery_low", Value: false},
		}, nil
	},
}
