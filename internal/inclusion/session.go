package inclusion

import (
	"log/slog"

	"zwave-go-home/internal/events"
	"zwave-go-home/internal/serialapi"
)

// Session is the add node (inclusion) state machine.
type Session struct {
	*machine
}

// NewSession creates an idle inclusion session.
func NewSession(logger *slog.Logger) *Session {
	return &Session{machine: newMachine("inclusion", serialapi.FuncAddNodeToNetwork, inclusionTable, logger)}
}

var inclusionTable = map[Status]transition{
	StatusLearnReady: {
		to:   LearnReady,
		emit: func(*machine, uint8) events.Event { return events.InclusionStarted{} },
	},
	StatusNodeFound: {
		from: []State{LearnReady},
		to:   NodeFound,
		emit: func(*machine, uint8) events.Event { return events.NodeFound{} },
	},
	StatusAddingSlave: {
		from: []State{NodeFound},
		to:   AddingSlave,
		emit: func(m *machine, node uint8) events.Event {
			m.setNode(node)
			return events.SlaveAdding{NodeID: node}
		},
	},
	StatusAddingController: {
		from: []State{NodeFound},
		to:   AddingController,
		emit: func(m *machine, node uint8) events.Event {
			m.setNode(node)
			return events.ControllerAdding{NodeID: node}
		},
	},
	StatusProtocolDone: {
		from: []State{AddingSlave, AddingController},
		to:   ProtocolDone,
	},
	StatusDone: {
		from: []State{ProtocolDone},
		to:   Done,
		emit: inclusionDone,
	},
	StatusFailed: {
		to:   Failed,
		emit: func(*machine, uint8) events.Event { return events.InclusionFailed{Reason: "controller reported failure"} },
	},
}

// inclusionDone suppresses node ids outside 1..232; no node was added in that case.
func inclusionDone(m *machine, node uint8) events.Event {
	if !ValidNodeID(node) {
		m.logger.Warn("inclusion done without a valid node id, no event emitted", "node", node)
		return nil
	}
	m.setNode(node)
	return events.InclusionDone{NodeID: node}
}

// ExclusionSession is the remove node (exclusion) state machine.
type ExclusionSession struct {
	*machine
}

// NewExclusionSession creates an idle exclusion session.
func NewExclusionSession(logger *slog.Logger) *ExclusionSession {
	return &ExclusionSession{machine: newMachine("exclusion", serialapi.FuncRemoveNodeFromNetwork, exclusionTable, logger)}
}

var exclusionTable = map[Status]transition{
	StatusLearnReady: {
		to:   LearnReady,
		emit: func(*machine, uint8) events.Event { return events.ExclusionStarted{} },
	},
	StatusNodeFound: {
		from: []State{LearnReady},
		to:   NodeFound,
	},
	StatusRemovingSlave: {
		from: []State{NodeFound},
		to:   RemovingSlave,
		emit: recordNode,
	},
	StatusRemovingController: {
		from: []State{NodeFound},
		to:   RemovingController,
		emit: recordNode,
	},
	StatusDone: {
		notIdle: true,
		to:      Done,
		emit: func(m *machine, node uint8) events.Event {
			m.setNode(node)
			// Node id 0: a device from another network was reset.
			return events.NodeRemoved{NodeID: m.nodeID}
		},
	},
	StatusFailed: {
		to:   Failed,
		emit: func(*machine, uint8) events.Event { return events.ExclusionFailed{Reason: "controller reported failure"} },
	},
}

func recordNode(m *machine, node uint8) events.Event {
	m.setNode(node)
	return nil
}
