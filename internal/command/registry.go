package command

import (
	"fmt"
	"log/slog"
	"sync"

	"zwave-go-home/internal/events"
	"zwave-go-home/internal/serialapi"
)

// Processor decodes inbound frames of one function id into events.
// Implementations only decode and must not block.
type Processor interface {
	Process(f *serialapi.Frame) ([]events.Event, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(f *serialapi.Frame) ([]events.Event, error)

func (fn ProcessorFunc) Process(f *serialapi.Frame) ([]events.Event, error) {
	return fn(f)
}

// Registry maps function ids to processors.
type Registry struct {
	mu         sync.RWMutex
	processors map[serialapi.FunctionID]Processor
	logger     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		processors: make(map[serialapi.FunctionID]Processor),
		logger:     logger.With("component", "command"),
	}
}

// Register installs p for fn, replacing any previous processor.
func (r *Registry) Register(fn serialapi.FunctionID, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.processors[fn]; ok {
		r.logger.Debug("processor replaced", "func", fn)
	}
	r.processors[fn] = p
}

// Registered reports whether fn has a processor.
func (r *Registry) Registered(fn serialapi.FunctionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.processors[fn]
	return ok
}

// Dispatch runs the processor registered for f.Function. Unknown function ids
// yield a single UnrecognizedCommand event. Processor errors and panics are
// logged and yield no events.
func (r *Registry) Dispatch(f *serialapi.Frame) (evs []events.Event) {
	r.mu.RLock()
	p, ok := r.processors[f.Function]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("unrecognized command", "func", fmt.Sprintf("0x%02X", uint8(f.Function)), "type", f.Type, "payload", fmt.Sprintf("%X", f.Payload))
		return []events.Event{events.UnrecognizedCommand{
			Function: f.Function,
			Kind:     f.Type,
			Payload:  append([]byte(nil), f.Payload...),
		}}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("processor panic", "func", f.Function, "panic", rec)
			evs = nil
		}
	}()

	evs, err := p.Process(f)
	if err != nil {
		r.logger.Warn("processor failed", "func", f.Function, "frame", f.String(), "err", err)
		return nil
	}
	return evs
}
