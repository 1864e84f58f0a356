//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"zwave-go-home/internal/controller"
	"zwave-go-home/internal/events"
	"zwave-go-home/internal/inclusion"
	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/store"
)

type fakeController struct {
	mu        sync.Mutex
	listeners []events.Listener
	nodes     []*store.Node
	calls     []string
	basicSets [][2]uint8
	opts      inclusion.Options
	sendErr   error
}

func (f *fakeController) Subscribe(fn events.Listener) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.listeners = nil
		f.mu.Unlock()
	}
}

func (f *fakeController) publish(e events.Event) {
	f.mu.Lock()
	ls := append([]events.Listener(nil), f.listeners...)
	f.mu.Unlock()
	for _, fn := range ls {
		fn(e)
	}
}

func (f *fakeController) ListNodes() ([]*store.Node, error) { return f.nodes, nil }

func (f *fakeController) GetNode(id uint8) (*store.Node, error) {
	for _, n := range f.nodes {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeController) SendRaw(_ context.Context, cmd controller.RawCommand) (*controller.RawResponse, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	fn, payload, err := cmd.Parse()
	if err != nil {
		return nil, err
	}
	f.record("send " + fn.String())
	return &controller.RawResponse{Function: fn, Type: serialapi.TypeResponse, Payload: append([]byte{0x01}, payload...)}, nil
}

func (f *fakeController) BasicSet(_ context.Context, node, value uint8) error {
	f.mu.Lock()
	f.basicSets = append(f.basicSets, [2]uint8{node, value})
	f.mu.Unlock()
	return nil
}

func (f *fakeController) StartInclusion(_ context.Context, opts inclusion.Options) error {
	f.mu.Lock()
	f.opts = opts
	f.mu.Unlock()
	f.record("include")
	return nil
}

func (f *fakeController) StopInclusion(context.Context) error {
	f.record("stop_include")
	return nil
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeController) sets() [][2]uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]uint8(nil), f.basicSets...)
}

func newTestEngine(t *testing.T) (*Engine, *fakeController, *Manager) {
	t.Helper()
	ctrl := &fakeController{nodes: []*store.Node{
		{ID: 1, Controller: true},
		{ID: 7, Name: "Porch", CommandClasses: []int{0x25}, Values: map[string]any{"switch": true, "temperature": 21.5}},
	}}
	mgr := newTestManager(t)
	e := NewEngine(ctrl, mgr, testLogger(), inclusion.Options{HighPower: true})
	return e, ctrl, mgr
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  any
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool", true, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"int", 42, lua.LTNumber},
		{"float64", 3.14, lua.LTNumber},
		{"uint8", uint8(255), lua.LTNumber},
		{"map", map[string]any{"a": 1}, lua.LTTable},
		{"slice", []any{1, 2, 3}, lua.LTTable},
		{"ints", []int{0x25, 0x26}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := goToLua(L, tt.val).Type(); got != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, got, tt.want)
			}
		})
	}

	tbl := goToLua(L, map[string]any{"nested": []any{"a", "b"}}).(*lua.LTable)
	inner, ok := tbl.RawGetString("nested").(*lua.LTable)
	if !ok || inner.Len() != 2 || inner.RawGetInt(1) != lua.LString("a") {
		t.Errorf("nested = %v", tbl.RawGetString("nested"))
	}
}

func TestMatchesHandler(t *testing.T) {
	report := events.ValueUpdated{NodeID: 7, CommandClass: 0x25, Property: "switch", Value: true}
	tests := []struct {
		name    string
		handler luaEventHandler
		event   events.Event
		want    bool
	}{
		{"exact", luaEventHandler{eventType: events.TypeValueUpdated, node: 7, property: "switch"}, report, true},
		{"no filters", luaEventHandler{eventType: events.TypeValueUpdated}, report, true},
		{"wildcard", luaEventHandler{eventType: "*"}, events.InclusionStarted{}, true},
		{"wrong type", luaEventHandler{eventType: events.TypeInclusionDone}, report, false},
		{"node mismatch", luaEventHandler{eventType: events.TypeValueUpdated, node: 8}, report, false},
		{"property mismatch", luaEventHandler{eventType: events.TypeValueUpdated, property: "level"}, report, false},
		{"node filter on nodeless event", luaEventHandler{eventType: events.TypeInclusionStarted, node: 7}, events.InclusionStarted{}, false},
		{"inclusion done node", luaEventHandler{eventType: events.TypeInclusionDone, node: 9}, events.InclusionDone{NodeID: 9}, true},
		{"property filter on non-value event", luaEventHandler{eventType: events.TypeInclusionDone, property: "x"}, events.InclusionDone{NodeID: 9}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesHandler(tt.handler, tt.event); got != tt.want {
				t.Errorf("matchesHandler() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEngineRunsHandlersOnEvents(t *testing.T) {
	e, ctrl, mgr := newTestEngine(t)

	follow := `zwave.on("value_updated", {node=7, property="switch"}, function(ev)
    if ev.value then zwave.basic_set(3, 99) else zwave.basic_set(3, 0) end
end)`
	if _, err := mgr.Save(&Script{
		Meta:    ScriptMeta{Name: "Porch follows switch", Enabled: true},
		LuaCode: follow,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Save(&Script{
		Meta:    ScriptMeta{Name: "Disabled", Enabled: false},
		LuaCode: `zwave.on("*", function(ev) zwave.basic_set(4, 1) end)`,
	}); err != nil {
		t.Fatal(err)
	}

	e.Start()
	defer e.Stop()

	if got := e.Running(); len(got) != 1 || got[0] != "porch_follows_switch" {
		t.Fatalf("running = %v", got)
	}

	ctrl.publish(events.ValueUpdated{NodeID: 8, Property: "switch", Value: true})
	ctrl.publish(events.ValueUpdated{NodeID: 7, Property: "switch", Value: true})
	ctrl.publish(events.ValueUpdated{NodeID: 7, Property: "switch", Value: false})

	waitFor(t, func() bool { return len(ctrl.sets()) == 2 })
	sets := ctrl.sets()
	if sets[0] != [2]uint8{3, 99} || sets[1] != [2]uint8{3, 0} {
		t.Errorf("basic sets = %v", sets)
	}
}

func TestEngineReloadAndStop(t *testing.T) {
	e, ctrl, mgr := newTestEngine(t)
	e.Start()
	defer e.Stop()

	s, err := mgr.Save(&Script{
		Meta:    ScriptMeta{Name: "Added", Enabled: true},
		LuaCode: `zwave.on("inclusion_done", function(ev) zwave.basic_set(ev.node_id, 255) end)`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatal(err)
	}

	ctrl.publish(events.InclusionDone{NodeID: 12})
	waitFor(t, func() bool { return len(ctrl.sets()) == 1 })
	if got := ctrl.sets()[0]; got != [2]uint8{12, 255} {
		t.Errorf("basic set = %v", got)
	}

	e.StopScript(s.ID)
	if len(e.Running()) != 0 {
		t.Fatal("script still running")
	}
	ctrl.publish(events.InclusionDone{NodeID: 13})
	time.Sleep(20 * time.Millisecond)
	if len(ctrl.sets()) != 1 {
		t.Error("stopped script handled an event")
	}
}

func TestEngineBadScriptDoesNotStart(t *testing.T) {
	e, _, mgr := newTestEngine(t)
	s, err := mgr.Save(&Script{Meta: ScriptMeta{Name: "Broken", Enabled: true}, LuaCode: `zwave.on(`})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err == nil {
		t.Fatal("expected syntax error")
	}
	if len(e.Running()) != 0 {
		t.Error("broken script is running")
	}
}

func TestRunLuaCode(t *testing.T) {
	e, ctrl, _ := newTestEngine(t)

	res := e.RunLuaCode(`
local nodes = zwave.nodes()
zwave.log("nodes " .. #nodes .. " " .. nodes[2].name)
zwave.log("temp " .. zwave.get_value(7, "temperature"))
local resp = zwave.send("GetVersion", "")
zwave.log("resp " .. resp)
system.log("info", "done")
zwave.include()
zwave.stop_include()
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"nodes 2 Porch", "temp 21.5", "resp 01", "[info] done"}
	if strings.Join(res.Logs, "|") != strings.Join(want, "|") {
		t.Errorf("logs = %q", res.Logs)
	}
	if !ctrl.opts.HighPower {
		t.Error("default inclusion options not used")
	}
	if strings.Join(ctrl.calls, ",") != "send GetVersion,include,stop_include" {
		t.Errorf("calls = %v", ctrl.calls)
	}
}

func TestRunLuaCodeInvokesHandlers(t *testing.T) {
	e, ctrl, _ := newTestEngine(t)
	res := e.RunLuaCode(`zwave.on("value_updated", {node=5, property="motion"}, function(ev)
    if ev.value then zwave.basic_set(ev.node_id, 99) end
end)`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if sets := ctrl.sets(); len(sets) != 1 || sets[0] != [2]uint8{5, 99} {
		t.Errorf("basic sets = %v", sets)
	}
}

func TestRunLuaCodeErrors(t *testing.T) {
	e, ctrl, _ := newTestEngine(t)

	tests := []struct {
		name, code, want string
	}{
		{"sandbox", `os.exit(1)`, "non-table"},
		{"bad node", `zwave.basic_set(0, 1)`, "node id"},
		{"bad value", `zwave.basic_set(3, 150)`, "value"},
		{"syntax", `zwave.log(`, "EOF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.RunLuaCode(tt.code)
			if res.OK || !strings.Contains(res.Error, tt.want) {
				t.Errorf("result = %+v, want error containing %q", res, tt.want)
			}
		})
	}

	ctrl.sendErr = errors.New("no ack")
	res := e.RunLuaCode(`local r, err = zwave.send("0x13", "07") zwave.log(err)`)
	if !res.OK || len(res.Logs) != 1 || res.Logs[0] != "no ack" {
		t.Errorf("send error result = %+v", res)
	}
}

func TestRunLuaCodeTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the run timeout")
	}
	e, _, _ := newTestEngine(t)
	res := e.RunLuaCode(`while true do end`)
	if res.OK || !strings.Contains(res.Error, "timeout") {
		t.Errorf("result = %+v", res)
	}
}
