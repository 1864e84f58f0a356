package classes

import (
	"fmt"

	"zwave-go-home/internal/commandclass"
)

const (
	ThermostatModeSet             uint8 = 0x01
	ThermostatModeGet             uint8 = 0x02
	ThermostatModeReport          uint8 = 0x03
	ThermostatModeSupportedGet    uint8 = 0x04
	ThermostatModeSupportedReport uint8 = 0x05
)

var ThermostatMode = commandclass.ClassDef{
	ID:   0x40,
	Name: "Thermostat Mode",
	Commands: []commandclass.CommandDef{
		{ID: ThermostatModeSet, Name: "Set"},
		{ID: ThermostatModeGet, Name: "Get"},
		{ID: ThermostatModeReport, Name: "Report"},
		{ID: ThermostatModeSupportedGet, Name: "SupportedGet"},
		{ID: ThermostatModeSupportedReport, Name: "SupportedReport"},
	},
	Decode: decodeThermostatMode,
}

// ThermostatModes maps mode codes to labels.
var ThermostatModes = map[uint8]string{
	0:  "Off",
	1:  "Heat",
	2:  "Cool",
	3:  "Auto",
	4:  "Aux Heat",
	5:  "Resume",
	6:  "Fan Only",
	7:  "Furnace",
	8:  "Dry Air",
	9:  "Moist Air",
	10: "Auto Changeover",
	11: "Heat Econ",
	12: "Cool Econ",
	13: "Away",
	31: "Manual",
}

func decodeThermostatMode(cmd uint8, data []byte) ([]commandclass.Value, error) {
	switch cmd {
	case ThermostatModeSet, ThermostatModeReport:
		if len(data) < 1 {
			return nil, commandclass.ErrShortReport
		}
		mode := data[0] & 0x1F
		label, ok := ThermostatModes[mode]
		if !ok {
			return nil, fmt.Errorf("unknown thermostat mode %d", mode)
		}
		return []commandclass.Value{{Property: "mode", Value: label}}, nil
	case ThermostatModeSupportedReport:
		var supported []string
		for i, mask := range data {
			for bit := 0; bit < 8; bit++ {
				if mask&(1<<bit) == 0 {
					continue
				}
				if label, ok := ThermostatModes[uint8(i*8+bit)]; ok {
					supported = append(supported, label)
				}
			}
		}
		return []commandclass.Value{{Property: "supported_modes", Value: supported}}, nil
	}
	return nil, nil
}

// ThermostatModeSetCommand builds a Thermostat Mode Set application command.
func ThermostatModeSetCommand(mode uint8) []byte {
	return []byte{ThermostatMode.ID, ThermostatModeSet, mode & 0x1F}
}
