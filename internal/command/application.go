package command

import (
	"errors"
	"fmt"
	"log/slog"

	"zwave-go-home/internal/commandclass"
	"zwave-go-home/internal/events"
	"zwave-go-home/internal/serialapi"
)

// ErrShortFrame is returned when a payload is shorter than its header claims.
var ErrShortFrame = errors.New("command: payload too short")

// ApplicationCommandHandler decodes command class reports sent by nodes.
// Payload: rxStatus, source node, command length, command bytes.
type ApplicationCommandHandler struct {
	classes *commandclass.Registry
	logger  *slog.Logger
}

func NewApplicationCommandHandler(classes *commandclass.Registry, logger *slog.Logger) *ApplicationCommandHandler {
	return &ApplicationCommandHandler{classes: classes, logger: logger.With("component", "command")}
}

func (h *ApplicationCommandHandler) Process(f *serialapi.Frame) ([]events.Event, error) {
	p := f.Payload
	if len(p) < 3 {
		return nil, ErrShortFrame
	}
	node := p[1]
	n := int(p[2])
	if n < 1 || len(p) < 3+n {
		return nil, fmt.Errorf("%w: node %d declares %d command bytes, have %d", ErrShortFrame, node, n, len(p)-3)
	}
	cmd := p[3 : 3+n]
	if len(cmd) < 2 {
		// A bare class byte (NOP) carries nothing to report.
		return nil, nil
	}

	values, known, err := h.classes.Decode(cmd)
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", node, err)
	}
	if !known {
		h.logger.Debug("raw application command", "node", node, "class", fmt.Sprintf("0x%02X", cmd[0]), "cmd", fmt.Sprintf("0x%02X", cmd[1]))
		return []events.Event{events.ValueUpdated{
			NodeID:       node,
			CommandClass: cmd[0],
			ClassName:    h.classes.Name(cmd[0]),
			Command:      cmd[1],
			Property:     "raw",
			Raw:          append([]byte(nil), cmd[2:]...),
		}}, nil
	}

	name := h.classes.Name(cmd[0])
	evs := make([]events.Event, 0, len(values))
	for _, v := range values {
		evs = append(evs, events.ValueUpdated{
			NodeID:       node,
			CommandClass: cmd[0],
			ClassName:    name,
			Command:      cmd[1],
			Property:     v.Property,
			Value:        v.Value,
			Unit:         v.Unit,
		})
	}
	return evs, nil
}

// ApplicationUpdate status codes.
const (
	UpdateNodeInfoReceived  uint8 = 0x84
	UpdateNodeInfoReqDone   uint8 = 0x82
	UpdateNodeInfoReqFailed uint8 = 0x81
	UpdateRoutingPending    uint8 = 0x80
	UpdateNewIDAssigned     uint8 = 0x40
	UpdateDeleteDone        uint8 = 0x20
	UpdateSUCID             uint8 = 0x10
)

// ApplicationUpdate decodes node information frames.
// Payload: status, node, length, basic, generic, specific, classes.
type ApplicationUpdate struct {
	logger *slog.Logger
}

func NewApplicationUpdate(logger *slog.Logger) *ApplicationUpdate {
	return &ApplicationUpdate{logger: logger.With("component", "command")}
}

func (u *ApplicationUpdate) Process(f *serialapi.Frame) ([]events.Event, error) {
	p := f.Payload
	if len(p) < 2 {
		return nil, ErrShortFrame
	}
	status, node := p[0], p[1]
	switch status {
	case UpdateNodeInfoReceived:
		if len(p) < 6 {
			return nil, fmt.Errorf("%w: node info from node %d", ErrShortFrame, node)
		}
		n := int(p[2])
		end := 3 + n
		if end > len(p) {
			end = len(p)
		}
		info := events.NodeInfo{
			NodeID:   node,
			Basic:    p[3],
			Generic:  p[4],
			Specific: p[5],
		}
		for _, cc := range p[min(6, end):end] {
			info.CommandClasses = append(info.CommandClasses, int(cc))
		}
		return []events.Event{info}, nil
	case UpdateNodeInfoReqFailed:
		u.logger.Warn("node info request failed", "node", node)
	default:
		u.logger.Debug("application update", "status", fmt.Sprintf("0x%02X", status), "node", node)
	}
	return nil, nil
}

// LateCallback swallows callbacks for transactions that already finished,
// such as SendData callbacks arriving after a retry.
func LateCallback(logger *slog.Logger) Processor {
	logger = logger.With("component", "command")
	return ProcessorFunc(func(f *serialapi.Frame) ([]events.Event, error) {
		logger.Debug("late callback", "func", f.Function, "payload", fmt.Sprintf("%X", f.Payload))
		return nil, nil
	})
}
