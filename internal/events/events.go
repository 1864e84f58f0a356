package events

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"zwave-go-home/internal/serialapi"
)

// Event types
const (
	TypeInclusionStarted    = "inclusion_started"
	TypeNodeFound           = "node_found"
	TypeSlaveAdding         = "slave_adding"
	TypeControllerAdding    = "controller_adding"
	TypeInclusionDone       = "inclusion_done"
	TypeInclusionFailed     = "inclusion_failed"
	TypeExclusionStarted    = "exclusion_started"
	TypeNodeRemoved         = "node_removed"
	TypeExclusionFailed     = "exclusion_failed"
	TypeValueUpdated        = "value_updated"
	TypeNodeInfo            = "node_info"
	TypeConnectionError     = "connection_error"
	TypeUnrecognizedCommand = "unrecognized_command"
)

// Event is a decoded domain notification. Values are immutable once published.
type Event interface {
	Type() string
}

// InclusionStarted: the stick is ready to learn a new node.
type InclusionStarted struct{}

// NodeFound: a node answered the inclusion broadcast.
type NodeFound struct{}

// SlaveAdding: a slave node is being added under NodeID.
type SlaveAdding struct {
	NodeID uint8 `json:"node_id"`
}

// ControllerAdding: a secondary controller is being added under NodeID.
type ControllerAdding struct {
	NodeID uint8 `json:"node_id"`
}

// InclusionDone reports a node admitted to the network.
type InclusionDone struct {
	NodeID uint8 `json:"node_id"`
}

// InclusionFailed reports an aborted inclusion.
type InclusionFailed struct {
	Reason string `json:"reason,omitempty"`
}

type ExclusionStarted struct{}

// NodeRemoved reports a node excluded from the network. NodeID may be 0 when
// the node was not part of this network.
type NodeRemoved struct {
	NodeID uint8 `json:"node_id"`
}

type ExclusionFailed struct {
	Reason string `json:"reason,omitempty"`
}

// ValueUpdated carries one decoded command class report.
type ValueUpdated struct {
	NodeID       uint8    `json:"node_id"`
	CommandClass uint8    `json:"command_class"`
	ClassName    string   `json:"class_name"`
	Command      uint8    `json:"command"`
	Property     string   `json:"property"`
	Value        any      `json:"value"`
	Unit         string   `json:"unit,omitempty"`
	Raw          HexBytes `json:"raw,omitempty"`
}

// NodeInfo carries a node information frame.
type NodeInfo struct {
	NodeID         uint8 `json:"node_id"`
	Basic          uint8 `json:"basic"`
	Generic        uint8 `json:"generic"`
	Specific       uint8 `json:"specific"`
	CommandClasses []int `json:"command_classes"`
}

// ConnectionError reports a fatal link failure. The controller does not
// reconnect on its own.
type ConnectionError struct {
	Message string `json:"message"`
}

// UnrecognizedCommand reports an inbound frame with no registered processor.
type UnrecognizedCommand struct {
	Function serialapi.FunctionID  `json:"function"`
	Kind     serialapi.MessageType `json:"kind"`
	Payload  HexBytes              `json:"payload,omitempty"`
}

func (InclusionStarted) Type() string    { return TypeInclusionStarted }
func (NodeFound) Type() string           { return TypeNodeFound }
func (SlaveAdding) Type() string         { return TypeSlaveAdding }
func (ControllerAdding) Type() string    { return TypeControllerAdding }
func (InclusionDone) Type() string       { return TypeInclusionDone }
func (InclusionFailed) Type() string     { return TypeInclusionFailed }
func (ExclusionStarted) Type() string    { return TypeExclusionStarted }
func (NodeRemoved) Type() string         { return TypeNodeRemoved }
func (ExclusionFailed) Type() string     { return TypeExclusionFailed }
func (ValueUpdated) Type() string        { return TypeValueUpdated }
func (NodeInfo) Type() string            { return TypeNodeInfo }
func (ConnectionError) Type() string     { return TypeConnectionError }
func (UnrecognizedCommand) Type() string { return TypeUnrecognizedCommand }

// NodeOf returns the node id an event refers to, if any.
func NodeOf(e Event) (uint8, bool) {
	switch ev := e.(type) {
	case SlaveAdding:
		return ev.NodeID, true
	case ControllerAdding:
		return ev.NodeID, true
	case InclusionDone:
		return ev.NodeID, true
	case NodeRemoved:
		return ev.NodeID, ev.NodeID != 0
	case ValueUpdated:
		return ev.NodeID, true
	case NodeInfo:
		return ev.NodeID, true
	}
	return 0, false
}

// HexBytes marshals as an upper-case hex string.
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.ToUpper(hex.EncodeToString(h)))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// Envelope is the wire form used by the WebSocket, MQTT and trace outputs.
type Envelope struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data Event     `json:"data"`
}

// Wrap builds an envelope stamped with the current time.
func Wrap(e Event) Envelope {
	return Envelope{Type: e.Type(), Time: time.Now(), Data: e}
}

// Fields flattens an event into a generic map (for Lua tables and templating).
// The map always carries "type".
func Fields(e Event) map[string]any {
	m := make(map[string]any)
	data, err := json.Marshal(e)
	if err == nil {
		_ = json.Unmarshal(data, &m)
	}
	m["type"] = e.Type()
	return m
}
