package commandclass

import "errors"

// ErrShortReport is returned by decoders when a report is truncated.
var ErrShortReport = errors.New("commandclass: report too short")

// CommandDef defines a command of a command class.
type CommandDef struct {
	ID   uint8  `json:"id"`
	Name string `json:"name"`
}

// Value is one decoded property of a report.
type Value struct {
	Property string `json:"property"`
	Value    any    `json:"value"`
	Unit     string `json:"unit,omitempty"`
}

// Decoder turns the bytes following the command byte into values. It returns
// (nil, nil) for commands that carry no state (Get, SupportedGet).
type Decoder func(cmd uint8, data []byte) ([]Value, error)

// ClassDef defines a Z-Wave command class.
type ClassDef struct {
	ID       uint8        `json:"id"`
	Name     string       `json:"name"`
	Commands []CommandDef `json:"commands,omitempty"`
	Decode   Decoder      `json:"-"`
}

// FindCommand looks up a command by ID.
func (c *ClassDef) FindCommand(id uint8) *CommandDef {
	for i := range c.Commands {
		if c.Commands[i].ID == id {
			return &c.Commands[i]
		}
	}
	return nil
}

// CommandName returns the command name, or "" if unknown.
func (c *ClassDef) CommandName(id uint8) string {
	if cmd := c.FindCommand(id); cmd != nil {
		return cmd.Name
	}
	return ""
}

// DeepCopy returns a deep copy of the class definition.
func (c *ClassDef) DeepCopy() *ClassDef {
	cp := *c
	if c.Commands != nil {
		cp.Commands = make([]CommandDef, len(c.Commands))
		copy(cp.Commands, c.Commands)
	}
	return &cp
}

// Merge adds commands from another definition and takes its decoder if this one has none.
func (c *ClassDef) Merge(other *ClassDef) {
	for _, cmd := range other.Commands {
		if c.FindCommand(cmd.ID) == nil {
			c.Commands = append(c.Commands, cmd)
		}
	}
	if c.Decode == nil {
		c.Decode = other.Decode
	}
	if c.Name == "" {
		c.Name = other.Name
	}
}
