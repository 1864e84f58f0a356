//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"zwave-go-home/internal/controller"
	"zwave-go-home/internal/store"
)

const (
	maxHandlersPerScript = 100
	callTimeout          = 5 * time.Second
)

// registerZWaveModule registers the `zwave` global table in a Lua state.
func registerZWaveModule(L *lua.LState, vm *scriptVM, e *Engine) {
	fns := map[string]lua.LGFunction{
		"on":           func(L *lua.LState) int { return zwaveOn(L, vm) },
		"send":         func(L *lua.LState) int { return zwaveSend(L, vm, e) },
		"basic_set":    func(L *lua.LState) int { return zwaveBasicSet(L, vm, e) },
		"include":      func(L *lua.LState) int { return zwaveInclude(L, vm, e) },
		"stop_include": func(L *lua.LState) int { return zwaveStopInclude(L, vm, e) },
		"nodes":        func(L *lua.LState) int { return zwaveNodes(L, e) },
		"get_value":    func(L *lua.LState) int { return zwaveGetValue(L, e) },
		"after":        func(L *lua.LState) int { return zwaveAfter(L, vm, e) },
		"log":          func(L *lua.LState) int { return zwaveLog(L, e) },
	}
	L.SetGlobal("zwave", L.SetFuncs(L.NewTable(), fns))
}

// pushResult follows the Lua convention: true, or nil plus a message.
func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func checkNode(L *lua.LState, n int) uint8 {
	id := L.CheckInt(n)
	if id < 1 || id > 232 {
		L.ArgError(n, "node id must be 1-232")
	}
	return uint8(id)
}

// zwave.on(type, [filter], callback). type "*" matches every event; filter
// may carry node and property.
func zwaveOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}

	switch arg := L.Get(2).(type) {
	case *lua.LFunction:
		h.fn = arg
	case *lua.LTable:
		if v, ok := arg.RawGetString("node").(lua.LNumber); ok {
			if v < 1 || v > 232 {
				L.ArgError(2, "filter node must be 1-232")
				return 0
			}
			h.node = uint8(v)
		}
		if v := arg.RawGetString("property"); v != lua.LNil {
			h.property = v.String()
		}
		h.fn = L.CheckFunction(3)
	default:
		L.ArgError(2, "filter table or function expected")
		return 0
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

// zwave.send(function, payload_hex) returns the response payload as hex.
func zwaveSend(L *lua.LState, vm *scriptVM, e *Engine) int {
	cmd := controller.RawCommand{Function: L.CheckString(1), Payload: L.OptString(2, "")}

	ctx, cancel := context.WithTimeout(vm.ctx, callTimeout)
	defer cancel()

	resp, err := e.ctrl.SendRaw(ctx, cmd)
	if err != nil {
		e.logger.Warn("zwave.send failed", "function", cmd.Function, "err", err)
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(fmt.Sprintf("%X", []byte(resp.Payload))))
	return 1
}

// zwave.basic_set(node, value). value is 0-99 or 255 for "on".
func zwaveBasicSet(L *lua.LState, vm *scriptVM, e *Engine) int {
	node := checkNode(L, 1)
	value := L.CheckInt(2)
	if value < 0 || (value > 99 && value != 255) {
		L.ArgError(2, "value must be 0-99 or 255")
		return 0
	}

	ctx, cancel := context.WithTimeout(vm.ctx, callTimeout)
	defer cancel()

	err := e.ctrl.BasicSet(ctx, node, uint8(value))
	if err != nil {
		e.logger.Warn("zwave.basic_set failed", "node", node, "err", err)
	}
	return pushResult(L, err)
}

// zwave.include([{high_power=bool, network_wide=bool}])
func zwaveInclude(L *lua.LState, vm *scriptVM, e *Engine) int {
	opts := e.inclusion
	if tbl, ok := L.Get(1).(*lua.LTable); ok {
		if v := tbl.RawGetString("high_power"); v != lua.LNil {
			opts.HighPower = lua.LVAsBool(v)
		}
		if v := tbl.RawGetString("network_wide"); v != lua.LNil {
			opts.NetworkWide = lua.LVAsBool(v)
		}
	}

	ctx, cancel := context.WithTimeout(vm.ctx, callTimeout)
	defer cancel()

	err := e.ctrl.StartInclusion(ctx, opts)
	if err != nil {
		e.logger.Warn("zwave.include failed", "err", err)
	}
	return pushResult(L, err)
}

// zwave.stop_include()
func zwaveStopInclude(L *lua.LState, vm *scriptVM, e *Engine) int {
	ctx, cancel := context.WithTimeout(vm.ctx, callTimeout)
	defer cancel()
	return pushResult(L, e.ctrl.StopInclusion(ctx))
}

// zwave.nodes() returns an array of {id, name, controller, command_classes}.
func zwaveNodes(L *lua.LState, e *Engine) int {
	nodes, err := e.ctrl.ListNodes()
	if err != nil {
		e.logger.Warn("zwave.nodes failed", "err", err)
		L.Push(L.NewTable())
		return 1
	}

	tbl := L.NewTable()
	for i, n := range nodes {
		tbl.RawSetInt(i+1, nodeTable(L, n))
	}
	L.Push(tbl)
	return 1
}

func nodeTable(L *lua.LState, n *store.Node) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LNumber(n.ID))
	t.RawSetString("name", lua.LString(n.DisplayName()))
	t.RawSetString("controller", lua.LBool(n.Controller))
	t.RawSetString("command_classes", goToLua(L, n.CommandClasses))
	if !n.LastSeen.IsZero() {
		t.RawSetString("last_seen", lua.LNumber(n.LastSeen.Unix()))
	}
	return t
}

// zwave.get_value(node, property) returns the last reported value or nil.
func zwaveGetValue(L *lua.LState, e *Engine) int {
	node := checkNode(L, 1)
	prop := L.CheckString(2)

	n, err := e.ctrl.GetNode(node)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	v, ok := n.Values[prop]
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(goToLua(L, v))
	return 1
}

// zwave.after(seconds, callback) runs callback later on the script's VM.
func zwaveAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		case <-vm.ctx.Done():
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}

// zwave.log(msg)
func zwaveLog(L *lua.LState, e *Engine) int {
	e.logger.Info("script log", "msg", L.CheckString(1))
	return 0
}
