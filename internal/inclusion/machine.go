package inclusion

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zwave-go-home/internal/events"
	"zwave-go-home/internal/serialapi"
)

// transition is one row of a session table. An empty from list accepts any
// state except where notIdle is set.
type transition struct {
	from    []State
	notIdle bool
	to      State
	emit    func(m *machine, node uint8) events.Event
}

func (t transition) accepts(s State) bool {
	if t.notIdle && s == Idle {
		return false
	}
	if len(t.from) == 0 {
		return true
	}
	for _, f := range t.from {
		if f == s {
			return true
		}
	}
	return false
}

// machine is the shared add/remove node session.
type machine struct {
	name   string
	fn     serialapi.FunctionID
	table  map[Status]transition
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	state        State
	pending      bool
	finishing    bool
	nodeID       uint8
	opts         Options
	lastProgress time.Time
}

func newMachine(name string, fn serialapi.FunctionID, table map[Status]transition, logger *slog.Logger) *machine {
	return &machine{
		name:   name,
		fn:     fn,
		table:  table,
		logger: logger.With("component", name),
		now:    time.Now,
	}
}

// State returns the current state.
func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NodeID returns the node id reported by the session, 0 if none yet.
func (m *machine) NodeID() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodeID
}

// Pending reports whether the start request awaits its first callback.
func (m *machine) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Options returns the options of the active session.
func (m *machine) Options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// Expired reports whether an active session has made no progress for longer than timeout.
func (m *machine) Expired(timeout time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != Idle && m.now().Sub(m.lastProgress) > timeout
}

// Start moves an idle session to LearnReady (pending) and returns the start request.
func (m *machine) Start(opts Options) (serialapi.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		return serialapi.Request{}, fmt.Errorf("%w: %s is %s", ErrSessionActive, m.name, m.state)
	}
	m.state = LearnReady
	m.pending = true
	m.finishing = false
	m.nodeID = 0
	m.opts = opts
	m.lastProgress = m.now()
	m.logger.Info("session started", "high_power", opts.HighPower, "network_wide", opts.NetworkWide)

	return serialapi.Request{
		Function:       m.fn,
		Payload:        StartPayload(opts),
		Expect:         m.fn,
		ExpectCallback: true,
		Match: func(f *serialapi.Frame) bool {
			id, ok := f.PayloadByte(0)
			return ok && id == startCallbackID
		},
		Priority: serialapi.PriorityHigh,
		Forward:  true,
	}, nil
}

// Stop forces the session to Idle from any state and returns the stop request.
func (m *machine) Stop() serialapi.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		m.logger.Info("session stopped", "from", m.state)
	}
	m.reset()
	return m.stopRequest()
}

// Finish returns the stop request once the protocol part of an inclusion is
// done. The stick reports Done only after it has seen the stop, so the state
// is kept. ok is false outside ProtocolDone or when already sent.
func (m *machine) Finish() (req serialapi.Request, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ProtocolDone || m.finishing {
		return serialapi.Request{}, false
	}
	m.finishing = true
	m.logger.Debug("protocol done, requesting stop", "node", m.nodeID)
	return m.stopRequest(), true
}

func (m *machine) stopRequest() serialapi.Request {
	return serialapi.Request{
		Function: m.fn,
		Payload:  StopPayload(),
		Priority: serialapi.PriorityHigh,
	}
}

// Reset returns to Idle without producing a request (link loss).
func (m *machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

func (m *machine) reset() {
	m.state = Idle
	m.pending = false
	m.finishing = false
	m.nodeID = 0
	m.opts = Options{}
}

// Handle applies one callback status and returns the events it produces.
func (m *machine) Handle(status Status, node uint8) []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.table[status]
	if !ok {
		m.logger.Warn("unknown status ignored", "status", fmt.Sprintf("0x%02X", uint8(status)), "node", node, "state", m.state)
		return nil
	}
	if !t.accepts(m.state) {
		m.logger.Warn("status out of sequence ignored", "status", uint8(status), "node", node, "state", m.state)
		return nil
	}

	from := m.state
	m.state = t.to
	m.pending = false
	m.lastProgress = m.now()
	m.logger.Debug("transition", "from", from, "to", t.to, "node", node)

	if t.emit == nil {
		return nil
	}
	if ev := t.emit(m, node); ev != nil {
		return []events.Event{ev}
	}
	return nil
}

// Process decodes a callback frame: callback id, status, node id.
func (m *machine) Process(f *serialapi.Frame) ([]events.Event, error) {
	if f.Type != serialapi.TypeRequest {
		// Only callbacks carry a status.
		return nil, nil
	}
	if len(f.Payload) < 2 {
		return nil, fmt.Errorf("%s: callback too short: %X", m.name, f.Payload)
	}
	var node uint8
	if len(f.Payload) >= 3 {
		node = f.Payload[2]
	}
	return m.Handle(Status(f.Payload[1]), node), nil
}

// setNode records the node id reported by the current status. Caller holds mu.
func (m *machine) setNode(node uint8) {
	if node != 0 {
		m.nodeID = node
	}
}
