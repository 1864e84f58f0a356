package classes

import "zwave-go-home/internal/commandclass"

var SwitchMultilevel = commandclass.ClassDef{
	ID:   0x26,
	Name: "Switch Multilevel",
	Commands: []commandclass.CommandDef{
		{ID: 0x01, Name: "Set"},
		{ID: 0x02, Name: "Get"},
		{ID: 0x03, Name: "Report"},
		{ID: 0x04, Name: "StartLevelChange"},
		{ID: 0x05, Name: "StopLevelChange"},
	},
	Decode: func(cmd uint8, data []byte) ([]commandclass.Value, error) {
		if cmd != 0x03 {
			return nil, nil
		}
		if len(data) < 1 {
			return nil, commandclass.ErrShortReport
		}
		return []commandclass.Value{{Property: "level", Value: commandclass.Level(data[0]), Unit: "%"}}, nil
	},
}
