package commandclass

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds all known command class definitions.
type Registry struct {
	mu      sync.RWMutex
	classes map[uint8]*ClassDef
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		classes: make(map[uint8]*ClassDef),
		logger:  logger,
	}
}

// Register adds a class definition to the registry.
func (r *Registry) Register(c ClassDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.classes[c.ID]; ok {
		existing.Merge(&c)
		r.logger.Debug("command class merged", "id", fmt.Sprintf("0x%02X", c.ID), "name", existing.Name)
	} else {
		clone := c
		r.classes[c.ID] = &clone
		r.logger.Debug("command class registered", "id", fmt.Sprintf("0x%02X", c.ID), "name", c.Name)
	}
}

// Get returns a class definition by ID, or nil if not found.
// The returned value is a deep copy; callers may modify it safely.
func (r *Registry) Get(id uint8) *ClassDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.classes[id]
	if c == nil {
		return nil
	}
	return c.DeepCopy()
}

// All returns all registered class definitions ordered by ID.
func (r *Registry) All() []ClassDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ClassDef, 0, len(r.classes))
	for _, c := range r.classes {
		result = append(result, *c.DeepCopy())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Name returns the class name, or a hex fallback.
func (r *Registry) Name(id uint8) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.classes[id]; c != nil {
		return c.Name
	}
	return fmt.Sprintf("0x%02X", id)
}

// Decode interprets an application command ([class, command, data...]).
// known is false when the class has no definition or no decoder.
func (r *Registry) Decode(cmd []byte) (values []Value, known bool, err error) {
	if len(cmd) < 2 {
		return nil, false, ErrShortReport
	}
	r.mu.RLock()
	c := r.classes[cmd[0]]
	r.mu.RUnlock()
	if c == nil || c.Decode == nil {
		return nil, false, nil
	}
	values, err = c.Decode(cmd[1], cmd[2:])
	if err != nil {
		return nil, true, fmt.Errorf("%s %s: %w", c.Name, commandLabel(c, cmd[1]), err)
	}
	return values, true, nil
}

func commandLabel(c *ClassDef, id uint8) string {
	if name := c.CommandName(id); name != "" {
		return name
	}
	return fmt.Sprintf("cmd 0x%02X", id)
}
