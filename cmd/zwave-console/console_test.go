package main

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"

	"zwave-go-home/internal/controller"
	"zwave-go-home/internal/events"
	"zwave-go-home/internal/inclusion"
	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/store"
)

type fakeController struct {
	nodes     []*store.Node
	incState  inclusion.State
	excState  inclusion.State
	started   []inclusion.Options
	excluding []inclusion.Options
	stops     []string
	raw       []controller.RawCommand
	basic     [][2]uint8
	startErr  error
}

func (f *fakeController) Subscribe(events.Listener) func() { return func() {} }
func (f *fakeController) NetworkInfo() store.NetworkState {
	return store.NetworkState{HomeID: 0xDEADBEEF, ControllerID: 1, Version: "Z-Wave 6.07", NodeIDs: []int{1, 5}}
}
func (f *fakeController) Stats() serialapi.Stats {
	return serialapi.Stats{Submitted: 4, Completed: 3, Timeouts: 1}
}
func (f *fakeController) ListNodes() ([]*store.Node, error) { return f.nodes, nil }
func (f *fakeController) StartInclusion(_ context.Context, o inclusion.Options) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, o)
	f.incState = inclusion.LearnReady
	return nil
}
func (f *fakeController) StopInclusion(context.Context) error {
	f.stops = append(f.stops, "inclusion")
	f.incState = inclusion.Idle
	return nil
}
func (f *fakeController) StartExclusion(_ context.Context, o inclusion.Options) error {
	f.excluding = append(f.excluding, o)
	f.excState = inclusion.LearnReady
	return nil
}
func (f *fakeController) StopExclusion(context.Context) error {
	f.stops = append(f.stops, "exclusion")
	f.excState = inclusion.Idle
	return nil
}
func (f *fakeController) InclusionState() inclusion.State { return f.incState }
func (f *fakeController) ExclusionState() inclusion.State { return f.excState }
func (f *fakeController) SendRaw(_ context.Context, cmd controller.RawCommand) (*controller.RawResponse, error) {
	if _, _, err := cmd.Parse(); err != nil {
		return nil, err
	}
	f.raw = append(f.raw, cmd)
	return &controller.RawResponse{Function: serialapi.FuncGetVersion, Type: serialapi.TypeResponse, Payload: events.HexBytes{0x5A, 0x01}}, nil
}
func (f *fakeController) BasicSet(_ context.Context, node, value uint8) error {
	f.basic = append(f.basic, [2]uint8{node, value})
	return nil
}

func newTestConsole() (*Console, *fakeController, *bytes.Buffer) {
	f := &fakeController{}
	var out bytes.Buffer
	return NewConsole(f, &out), f, &out
}

func mustExec(t *testing.T, c *Console, line string) {
	t.Helper()
	if err := c.Exec(t.Context(), line); err != nil {
		t.Fatalf("%q: %v", line, err)
	}
}

func assertOutput(t *testing.T, out *bytes.Buffer, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConsoleInfo(t *testing.T) {
	c, _, out := newTestConsole()
	mustExec(t, c, "info")
	assertOutput(t, out, "0xDEADBEEF", "Z-Wave 6.07", "inclusion   idle", "4 sent, 3 done, 1 timeouts")
}

func TestConsoleNodes(t *testing.T) {
	c, f, out := newTestConsole()
	mustExec(t, c, "nodes")
	assertOutput(t, out, "no nodes")

	f.nodes = []*store.Node{{ID: 5, Name: "Hall"}, {ID: 9}}
	out.Reset()
	mustExec(t, c, "nodes")
	assertOutput(t, out, "Hall", "node-9")
}

func TestConsoleInclusionAndStop(t *testing.T) {
	c, f, out := newTestConsole()

	mustExec(t, c, "include hp nw")
	if want := []inclusion.Options{{HighPower: true, NetworkWide: true}}; !reflect.DeepEqual(f.started, want) {
		t.Fatalf("started = %+v, want %+v", f.started, want)
	}

	mustExec(t, c, "stop")
	mustExec(t, c, "exclude")
	mustExec(t, c, "stop")
	if want := []string{"inclusion", "exclusion"}; !slices.Equal(f.stops, want) {
		t.Errorf("stops = %v, want %v", f.stops, want)
	}
	if want := []inclusion.Options{{}}; !reflect.DeepEqual(f.excluding, want) {
		t.Errorf("excluding = %+v", f.excluding)
	}

	out.Reset()
	mustExec(t, c, "stop")
	assertOutput(t, out, "no session active")

	if err := c.Exec(t.Context(), "include turbo"); err == nil {
		t.Error("unknown include option accepted")
	}
	f.startErr = inclusion.ErrSessionActive
	if err := c.Exec(t.Context(), "include"); !errors.Is(err, inclusion.ErrSessionActive) {
		t.Errorf("include while active: %v", err)
	}
}

func TestConsoleSend(t *testing.T) {
	c, f, out := newTestConsole()

	mustExec(t, c, "send GetVersion")
	mustExec(t, c, "send 0x13 05 03 20 01 FF")
	if len(f.raw) != 2 {
		t.Fatalf("raw commands = %d, want 2", len(f.raw))
	}
	if f.raw[1].Payload != "05032001FF" {
		t.Errorf("payload = %q", f.raw[1].Payload)
	}
	assertOutput(t, out, "GetVersion RES 5A 01")

	for _, line := range []string{"send", "send NoSuchFunction", "send 0x15 zz"} {
		if err := c.Exec(t.Context(), line); err == nil {
			t.Errorf("%q accepted", line)
		}
	}
}

func TestConsoleBasic(t *testing.T) {
	c, f, _ := newTestConsole()

	mustExec(t, c, "basic 5 99")
	mustExec(t, c, "b 5 255")
	if want := [][2]uint8{{5, 99}, {5, 255}}; !slices.Equal(f.basic, want) {
		t.Errorf("basic = %v, want %v", f.basic, want)
	}

	for _, line := range []string{"basic", "basic 5", "basic 0 10", "basic 233 10", "basic 5 100", "basic x 1"} {
		if err := c.Exec(t.Context(), line); err == nil {
			t.Errorf("%q accepted", line)
		}
	}
}

func TestConsoleMisc(t *testing.T) {
	c, _, out := newTestConsole()

	mustExec(t, c, "   ")
	mustExec(t, c, "help")
	assertOutput(t, out, "include [hp] [nw]")
	if err := c.Exec(t.Context(), "quit"); !errors.Is(err, errQuit) {
		t.Errorf("quit: %v", err)
	}
	if err := c.Exec(t.Context(), "dance"); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("dance: %v", err)
	}
}

func TestConsolePrintEvent(t *testing.T) {
	c, _, out := newTestConsole()
	c.printEvent(events.InclusionDone{NodeID: 7})
	assertOutput(t, out, "<< inclusion_done", `"node_id":7`)
}
