package inclusion

import (
	"errors"
	"fmt"
)

// State of an inclusion or exclusion session.
type State uint8

const (
	Idle State = iota
	LearnReady
	NodeFound
	AddingSlave
	AddingController
	ProtocolDone
	RemovingSlave
	RemovingController
	Done
	Failed
)

var stateNames = [...]string{
	Idle:               "idle",
	LearnReady:         "learn_ready",
	NodeFound:          "node_found",
	AddingSlave:        "adding_slave",
	AddingController:   "adding_controller",
	ProtocolDone:       "protocol_done",
	RemovingSlave:      "removing_slave",
	RemovingController: "removing_controller",
	Done:               "done",
	Failed:             "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal reports whether the session waits only for a stop.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// Status is the status byte of an add/remove node callback.
type Status uint8

const (
	StatusLearnReady       Status = 0x01
	StatusNodeFound        Status = 0x02
	StatusAddingSlave      Status = 0x03
	StatusAddingController Status = 0x04
	StatusProtocolDone     Status = 0x05
	StatusDone             Status = 0x06
	StatusFailed           Status = 0x07
)

// Remove node statuses share codes with add node.
const (
	StatusRemovingSlave      = StatusAddingSlave
	StatusRemovingController = StatusAddingController
)

// Request payload bytes.
const (
	modeAny           byte = 0x01
	modeStop          byte = 0x05
	optionHighPower   byte = 0x80
	optionNetworkWide byte = 0x40
	startCallbackID   byte = 0xFF
)

// MaxNodeID is the highest node id a Z-Wave network assigns.
const MaxNodeID = 232

// ErrSessionActive is returned by Start when a session is not idle.
var ErrSessionActive = errors.New("inclusion: session already active")

// Options select the transmit options of the start request.
type Options struct {
	HighPower   bool `json:"high_power" yaml:"high_power"`
	NetworkWide bool `json:"network_wide" yaml:"network_wide"`
}

// StartPayload builds the add/remove node start payload.
func StartPayload(opts Options) []byte {
	mode := modeAny
	if opts.HighPower {
		mode |= optionHighPower
	}
	if opts.NetworkWide {
		mode |= optionNetworkWide
	}
	return []byte{mode, startCallbackID}
}

// StopPayload builds the add/remove node stop payload.
func StopPayload() []byte {
	return []byte{modeStop}
}

// ValidNodeID reports whether id can identify an included node.
func ValidNodeID(id uint8) bool {
	return id > 0 && id <= MaxNodeID
}
