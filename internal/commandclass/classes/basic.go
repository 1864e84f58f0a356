package classes

import (
	"zwave-go-home/internal/commandclass"
)

const (
	BasicSet    uint8 = 0x01
	BasicGet    uint8 = 0x02
	BasicReport uint8 = 0x03
)

var Basic = commandclass.ClassDef{
	ID:   0x20,
	Name: "Basic",
	Commands: []commandclass.CommandDef{
		{ID: BasicSet, Name: "Set"},
		{ID: BasicGet, Name: "Get"},
		{ID: BasicReport, Name: "Report"},
	},
	Decode: decodeLevelReport(BasicSet, BasicReport, "level"),
}

// BasicSetCommand builds a Basic Set application command.
func BasicSetCommand(value uint8) []byte {
	return []byte{Basic.ID, BasicSet, value}
}

// BasicGetCommand builds a Basic Get application command.
func BasicGetCommand() []byte {
	return []byte{Basic.ID, BasicGet}
}

// decodeLevelReport decodes the single value byte of a Set or Report.
func decodeLevelReport(set, report uint8, property string) commandclass.Decoder {
	return func(cmd uint8, data []byte) ([]commandclass.Value, error) {
		if cmd != set && cmd != report {
			return nil, nil
		}
		if len(data) < 1 {
			return nil, commandclass.ErrShortReport
		}
		return []commandclass.Value{{Property: property, Value: commandclass.Level(data[0])}}, nil
	}
}
