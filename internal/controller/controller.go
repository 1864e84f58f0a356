package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"zwave-go-home/internal/command"
	"zwave-go-home/internal/commandclass"
	"zwave-go-home/internal/commandclass/classes"
	"zwave-go-home/internal/events"
	"zwave-go-home/internal/inclusion"
	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/store"
)

// ErrNotStarted is returned by operations that need a running controller.
var ErrNotStarted = errors.New("controller: not started")

// DefaultInclusionTimeout stops a session that made no progress for this long.
const DefaultInclusionTimeout = 30 * time.Second

// Config holds controller configuration.
type Config struct {
	Transaction      serialapi.Config
	InclusionTimeout time.Duration
	EventQueueSize   int
	// SkipInit leaves out the GetVersion/MemoryGetId/GetInitData sequence on Start.
	SkipInit bool
}

// Controller owns the serial link to one Z-Wave stick and exposes the
// transaction, event and inclusion operations on top of it.
type Controller struct {
	txm       *serialapi.Manager
	bus       *events.Bus
	registry  *command.Registry
	classes   *commandclass.Registry
	inclusion *inclusion.Session
	exclusion *inclusion.ExclusionSession
	nodes     *NodeManager
	store     store.Store
	logger    *slog.Logger
	cfg       Config
	sessionID string

	infoMu sync.RWMutex
	info   store.NetworkState

	callbackID atomic.Uint32
	live       atomic.Bool
	linkDown   atomic.Bool

	startMu sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a controller on port. It does not touch the link until Start.
func New(port serialapi.Port, st store.Store, cfg Config, logger *slog.Logger) *Controller {
	if cfg.InclusionTimeout <= 0 {
		cfg.InclusionTimeout = DefaultInclusionTimeout
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = events.DefaultQueueSize
	}
	sessionID := uuid.NewString()
	logger = logger.With("session", sessionID[:8])

	cr := commandclass.NewRegistry(logger)
	classes.RegisterAll(cr)

	c := &Controller{
		txm:       serialapi.NewManager(port, cfg.Transaction, logger),
		bus:       events.NewBus(cfg.EventQueueSize, logger),
		registry:  command.NewRegistry(logger),
		classes:   cr,
		inclusion: inclusion.NewSession(logger),
		exclusion: inclusion.NewExclusionSession(logger),
		store:     st,
		logger:    logger.With("component", "controller"),
		cfg:       cfg,
		sessionID: sessionID,
	}
	c.nodes = NewNodeManager(c)
	c.registerProcessors()
	return c
}

func (c *Controller) registerProcessors() {
	c.registry.Register(serialapi.FuncApplicationCommandHandler, command.NewApplicationCommandHandler(c.classes, c.logger))
	c.registry.Register(serialapi.FuncApplicationUpdate, command.NewApplicationUpdate(c.logger))
	c.registry.Register(serialapi.FuncAddNodeToNetwork, c.inclusion)
	c.registry.Register(serialapi.FuncRemoveNodeFromNetwork, c.exclusion)
	c.registry.Register(serialapi.FuncSendData, command.LateCallback(c.logger))
}

// Start opens the transaction manager, runs the init sequence and starts the
// session watchdog.
func (c *Controller) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.started {
		return nil
	}

	c.txm.OnUnsolicited(c.handleFrame)
	c.txm.OnLinkError(c.handleLinkError)
	c.txm.Start()
	c.nodes.Start()

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.started = true
	c.live.Store(true)

	if !c.cfg.SkipInit {
		if err := c.initialize(ctx); err != nil {
			c.stopLocked()
			return fmt.Errorf("controller init: %w", err)
		}
	}

	c.wg.Add(1)
	go c.watchdog()
	c.logger.Info("controller started")
	return nil
}

// Stop closes the link and drains the event bus. The controller cannot be restarted.
func (c *Controller) Stop() {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if !c.started {
		return
	}
	c.stopLocked()
	c.logger.Info("controller stopped")
}

func (c *Controller) stopLocked() {
	c.live.Store(false)
	c.cancel()
	if err := c.txm.Close(); err != nil {
		c.logger.Debug("close port", "err", err)
	}
	c.wg.Wait()
	c.nodes.Stop()
	c.bus.Close()
	c.started = false
}

// SessionID identifies this controller run in logs and traces.
func (c *Controller) SessionID() string { return c.sessionID }

// Subscribe registers a listener for every event.
func (c *Controller) Subscribe(fn events.Listener) func() { return c.bus.Subscribe(fn) }

// On registers a listener for one event type.
func (c *Controller) On(eventType string, fn events.Listener) func() {
	return c.bus.On(eventType, fn)
}

// SetTracer installs a raw byte tracer on the link.
func (c *Controller) SetTracer(t serialapi.Tracer) { c.txm.SetTracer(t) }

// Stats returns transaction manager counters.
func (c *Controller) Stats() serialapi.Stats { return c.txm.Stats() }

// Nodes returns the node manager.
func (c *Controller) Nodes() *NodeManager { return c.nodes }

// Classes returns the command class table.
func (c *Controller) Classes() *commandclass.Registry { return c.classes }

// Store returns the store.
func (c *Controller) Store() store.Store { return c.store }

// LinkDown reports whether the serial link failed. A new controller is needed to reconnect.
func (c *Controller) LinkDown() bool { return c.linkDown.Load() }

// handleFrame runs on the reader goroutine; it must not wait on transactions.
func (c *Controller) handleFrame(f *serialapi.Frame) {
	for _, ev := range c.registry.Dispatch(f) {
		c.bus.Publish(ev)
	}
	c.finishSessions()
}

func (c *Controller) handleLinkError(err error) {
	c.linkDown.Store(true)
	c.inclusion.Reset()
	c.exclusion.Reset()
	c.logger.Error("serial link lost", "err", err)
	c.bus.Publish(events.ConnectionError{Message: err.Error()})
}
