package store

import (
	"fmt"
	"time"
)

// Node represents an included Z-Wave node.
type Node struct {
	ID             uint8          `json:"id"`
	Name           string         `json:"name,omitempty"`
	Controller     bool           `json:"controller,omitempty"`
	Basic          uint8          `json:"basic,omitempty"`
	Generic        uint8          `json:"generic,omitempty"`
	Specific       uint8          `json:"specific,omitempty"`
	CommandClasses []int          `json:"command_classes,omitempty"`
	IncludedAt     time.Time      `json:"included_at"`
	LastSeen       time.Time      `json:"last_seen"`
	Values         map[string]any `json:"values,omitempty"`
}

// DisplayName returns the user-assigned name or "node-<id>".
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return fmt.Sprintf("node-%d", n.ID)
}

// SetValue records a reported property.
func (n *Node) SetValue(property string, value any) {
	if n.Values == nil {
		n.Values = make(map[string]any)
	}
	n.Values[property] = value
}

// NetworkState holds the controller identity read at startup.
type NetworkState struct {
	HomeID       uint32    `json:"home_id"`
	ControllerID uint8     `json:"controller_id"`
	Version      string    `json:"version"`
	LibraryType  uint8     `json:"library_type"`
	NodeIDs      []int     `json:"node_ids,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HomeIDString formats the home id the way Z-Wave tools print it.
func (s *NetworkState) HomeIDString() string {
	return fmt.Sprintf("0x%08X", s.HomeID)
}
