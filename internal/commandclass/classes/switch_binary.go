package classes

import "zwave-go-home/internal/commandclass"

var SwitchBinary = commandclass.ClassDef{
	ID:   0x25,
	Name: "Switch Binary",
	Commands: []commandclass.CommandDef{
		{ID: 0x01, Name: "Set"},
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
		return []commandclass.Value{{Property: "switch", Value: commandclass.OnOff(data[0])}}, nil
	},
}

// SwitchBinarySetCommand builds a Switch Binary Set application command.
func SwitchBinarySetCommand(on bool) []byte {
	v := uint8(0x00)
	if on {
		v = 0xFF
	}
	return []byte{SwitchBinary.ID, 0x01, v}
}
