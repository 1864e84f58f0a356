//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"zwave-go-home/internal/controller"
	"zwave-go-home/internal/events"
	"zwave-go-home/internal/inclusion"
	"zwave-go-home/internal/store"
)

// runTimeout bounds one-shot script runs.
const runTimeout = 5 * time.Second

// Controller is what scripts can reach through the zwave module.
type Controller interface {
	Subscribe(fn events.Listener) func()
	ListNodes() ([]*store.Node, error)
	GetNode(id uint8) (*store.Node, error)
	SendRaw(ctx context.Context, cmd controller.RawCommand) (*controller.RawResponse, error)
	BasicSet(ctx context.Context, node, value uint8) error
	StartInclusion(ctx context.Context, opts inclusion.Options) error
	StopInclusion(ctx context.Context) error
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// luaEventHandler is a registered Lua callback for a specific event pattern.
type luaEventHandler struct {
	eventType string
	node      uint8  // 0 = any node
	property  string // empty = any property
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers
}

func (vm *scriptVM) snapshot() []luaEventHandler {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]luaEventHandler(nil), vm.handlers...)
}

// Engine manages Lua VMs and dispatches controller events to scripts.
type Engine struct {
	ctrl      Controller
	manager   *Manager
	logger    *slog.Logger
	inclusion inclusion.Options

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
	wg    sync.WaitGroup
}

// NewEngine creates a new automation engine. opts are used by zwave.include()
// when the script passes none.
func NewEngine(ctrl Controller, mgr *Manager, logger *slog.Logger, opts inclusion.Options) *Engine {
	return &Engine{
		ctrl:      ctrl,
		manager:   mgr,
		logger:    logger.With("component", "automation"),
		inclusion: opts,
		vms:       make(map[string]*scriptVM),
	}
}

// Start subscribes to controller events and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.ctrl.Subscribe(e.dispatchEvent)

	scripts, err := e.manager.Enabled()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}

	for _, s := range scripts {
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	n := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", n)
}

// Stop cancels all VMs and unsubscribes from the controller.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}

	e.mu.Lock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.mu.Unlock()
	e.wg.Wait()

	e.logger.Info("automation engine stopped")
}

// ReloadScript stops the old VM (if any) and starts a new one.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// Running returns the IDs of scripts with a live VM.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.vms))
	for id := range e.vms {
		ids = append(ids, id)
	}
	return ids
}

// RunScript executes a saved script once in a throwaway VM.
func (e *Engine) RunScript(id string) *RunResult {
	start := time.Now()

	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: "script not found: " + err.Error(), Duration: time.Since(start).String()}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a throwaway sandboxed VM. Handlers the code
// registers with zwave.on are invoked once with a synthetic event so their
// actions run too.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	vm := &scriptVM{
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	L := e.newState(vm)
	defer L.Close()
	L.SetContext(ctx)

	var (
		logMu sync.Mutex
		logs  []string
	)
	capture := func(line string) {
		logMu.Lock()
		logs = append(logs, line)
		logMu.Unlock()
	}
	setFunc(L, "zwave", "log", func(L *lua.LState) int {
		msg := L.CheckString(1)
		capture(msg)
		e.logger.Info("script run log", "msg", msg)
		return 0
	})
	setFunc(L, "system", "log", func(L *lua.LState) int {
		capture("[" + L.CheckString(1) + "] " + L.CheckString(2))
		return 0
	})

	result := func(err error) *RunResult {
		r := &RunResult{OK: err == nil, Duration: time.Since(start).String()}
		logMu.Lock()
		r.Logs = append([]string{}, logs...)
		logMu.Unlock()
		if err != nil {
			r.Error = err.Error()
			if strings.Contains(r.Error, "context deadline exceeded") {
				r.Error = "timeout (" + runTimeout.String() + ")"
			}
			e.logger.Warn("script run failed", "err", r.Error)
		}
		return r
	}

	if err := L.DoString(code); err != nil {
		return result(err)
	}

	for _, h := range vm.snapshot() {
		ev := L.NewTable()
		ev.RawSetString("type", lua.LString(h.eventType))
		if h.node != 0 {
			ev.RawSetString("node_id", lua.LNumber(h.node))
		}
		if h.property != "" {
			ev.RawSetString("property", lua.LString(h.property))
		}
		// So "if event.value then" conditions pass.
		ev.RawSetString("value", lua.LTrue)

		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, ev); err != nil {
			return result(err)
		}
	}
	return result(nil)
}

// newState creates a sandboxed Lua state with the zwave and system modules.
func (e *Engine) newState(vm *scriptVM) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	vm.state = L
	registerZWaveModule(L, vm, e)
	registerSystemModule(L, e)
	return L
}

// setFunc replaces one function of a module table.
func setFunc(L *lua.LState, module, name string, fn lua.LGFunction) {
	if tbl, ok := L.GetGlobal(module).(*lua.LTable); ok {
		tbl.RawSetString(name, L.NewFunction(fn))
	}
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := &scriptVM{
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	L := e.newState(vm)

	// Top-level code registers handlers.
	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent queues matching handlers on their VMs. It runs on the event
// bus goroutine and never blocks.
func (e *Engine) dispatchEvent(event events.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	var fields map[string]any
	for _, vm := range vms {
		for _, h := range vm.snapshot() {
			if !matchesHandler(h, event) {
				continue
			}
			if fields == nil {
				fields = events.Fields(event)
			}
			if vm.ctx.Err() != nil {
				break
			}
			fn := h.fn
			select {
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, fn, fields) }:
			default:
				e.logger.Warn("script command channel full, dropping event", "type", event.Type())
			}
		}
	}
}

func matchesHandler(h luaEventHandler, event events.Event) bool {
	if h.eventType != "*" && h.eventType != event.Type() {
		return false
	}
	if h.node != 0 {
		if id, ok := events.NodeOf(event); !ok || id != h.node {
			return false
		}
	}
	if h.property != "" {
		v, ok := event.(events.ValueUpdated)
		if !ok || v.Property != h.property {
			return false
		}
	}
	return true
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, fields map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()

	ev := L.NewTable()
	for k, v := range fields {
		ev.RawSetString(k, goToLua(L, v))
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, ev); err != nil {
		e.logger.Error("lua handler error", "err", err)
	}
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	case []int:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, lua.LNumber(vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
