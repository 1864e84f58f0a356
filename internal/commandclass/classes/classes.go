package classes

import "zwave-go-home/internal/commandclass"

// Descriptive-only classes that show up in node information frames.
var (
	NoOperation          = commandclass.ClassDef{ID: 0x00, Name: "No Operation"}
	Configuration        = commandclass.ClassDef{ID: 0x70, Name: "Configuration"}
	ManufacturerSpecific = commandclass.ClassDef{ID: 0x72, Name: "Manufacturer Specific"}
	WakeUp               = commandclass.ClassDef{ID: 0x84, Name: "Wake Up"}
	Association          = commandclass.ClassDef{ID: 0x85, Name: "Association"}
	Version              = commandclass.ClassDef{ID: 0x86, Name: "Version"}
)

// RegisterAll adds every known command class to r.
func RegisterAll(r *commandclass.Registry) {
	r.Register(NoOperation)          // 0x00
	r.Register(Basic)                // 0x20
	r.Register(SwitchBinary)         // 0x25
	r.Register(SwitchMultilevel)     // 0x26
	r.Register(SensorBinary)         // 0x30
	r.Register(SensorMultilevel)     // 0x31
	r.Register(Meter)                // 0x32
	r.Register(ThermostatMode)       // 0x40
	r.Register(Configuration)        // 0x70
	r.Register(ManufacturerSpecific) // 0x72
	r.Register(Battery)              // 0x80
	r.Register(WakeUp)               // 0x84
	r.Register(Association)          // 0x85
	r.Register(Version)              // 0x86
}
