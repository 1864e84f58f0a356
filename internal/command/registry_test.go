package command

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"reflect"
	"testing"

	"zwave-go-home/internal/commandclass"
	"zwave-go-home/internal/commandclass/classes"
	"zwave-go-home/internal/events"
	"zwave-go-home/internal/serialapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry() *Registry {
	logger := testLogger()
	cc := commandclass.NewRegistry(logger)
	classes.RegisterAll(cc)

	r := NewRegistry(logger)
	r.Register(serialapi.FuncApplicationCommandHandler, NewApplicationCommandHandler(cc, logger))
	r.Register(serialapi.FuncApplicationUpdate, NewApplicationUpdate(logger))
	r.Register(serialapi.FuncSendData, LateCallback(logger))
	return r
}

func frame(fn serialapi.FunctionID, payload ...byte) *serialapi.Frame {
	return &serialapi.Frame{Type: serialapi.TypeRequest, Function: fn, Payload: payload}
}

func assertEvents(t *testing.T, got []events.Event, want ...events.Event) {
	t.Helper()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %#v, want %#v", got, want)
	}
}

func TestDispatchUnknownThenNextFrame(t *testing.T) {
	r := newTestRegistry()

	assertEvents(t, r.Dispatch(frame(0xEE, 0x01, 0x02)),
		events.UnrecognizedCommand{Function: 0xEE, Payload: events.HexBytes{0x01, 0x02}})

	assertEvents(t, r.Dispatch(frame(serialapi.FuncApplicationCommandHandler, 0x00, 0x07, 0x03, 0x25, 0x03, 0xFF)),
		events.ValueUpdated{
			NodeID:       7,
			CommandClass: 0x25,
			ClassName:    "Switch Binary",
			Command:      0x03,
			Property:     "switch",
			Value:        true,
		})
}

func TestDispatchRecoversProcessorFailures(t *testing.T) {
	r := newTestRegistry()
	r.Register(0x70, ProcessorFunc(func(*serialapi.Frame) ([]events.Event, error) {
		panic("decoder bug")
	}))
	r.Register(0x71, ProcessorFunc(func(*serialapi.Frame) ([]events.Event, error) {
		return nil, errors.New("bad payload")
	}))

	if evs := r.Dispatch(frame(0x70)); evs != nil {
		t.Errorf("panicking processor yielded %#v", evs)
	}
	if evs := r.Dispatch(frame(0x71)); evs != nil {
		t.Errorf("failing processor yielded %#v", evs)
	}
	if !r.Registered(0x70) || r.Registered(0x72) {
		t.Error("registered set changed by failures")
	}
}

func TestApplicationCommandHandler(t *testing.T) {
	r := newTestRegistry()

	t.Run("multilevel sensor", func(t *testing.T) {
		evs := r.Dispatch(frame(serialapi.FuncApplicationCommandHandler, 0x00, 0x0C, 0x06, 0x31, 0x05, 0x01, 0x22, 0x00, 0xD7))
		if len(evs) != 1 {
			t.Fatalf("events = %#v", evs)
		}
		v := evs[0].(events.ValueUpdated)
		if v.NodeID != 12 || v.Property != "temperature" || v.Unit != "°C" {
			t.Errorf("value = %+v", v)
		}
		if f, ok := v.Value.(float64); !ok || math.Abs(f-21.5) > 1e-9 {
			t.Errorf("temperature = %v, want 21.5", v.Value)
		}
	})

	t.Run("battery yields two values", func(t *testing.T) {
		evs := r.Dispatch(frame(serialapi.FuncApplicationCommandHandler, 0x00, 0x03, 0x03, 0x80, 0x03, 0x20))
		if len(evs) != 2 {
			t.Fatalf("events = %#v", evs)
		}
		if p0, p1 := evs[0].(events.ValueUpdated).Property, evs[1].(events.ValueUpdated).Property; p0 != "battery" || p1 != "battery_low" {
			t.Errorf("properties = %s, %s", p0, p1)
		}
	})

	t.Run("unknown class is raw", func(t *testing.T) {
		evs := r.Dispatch(frame(serialapi.FuncApplicationCommandHandler, 0x00, 0x04, 0x04, 0x9F, 0x01, 0xAA, 0xBB))
		if len(evs) != 1 {
			t.Fatalf("events = %#v", evs)
		}
		v := evs[0].(events.ValueUpdated)
		if v.Property != "raw" || v.ClassName != "0x9F" {
			t.Errorf("value = %+v", v)
		}
		if !reflect.DeepEqual(v.Raw, events.HexBytes{0xAA, 0xBB}) {
			t.Errorf("raw = %v", v.Raw)
		}
	})

	t.Run("get command yields nothing", func(t *testing.T) {
		assertEvents(t, r.Dispatch(frame(serialapi.FuncApplicationCommandHandler, 0x00, 0x04, 0x02, 0x20, 0x02)))
	})

	t.Run("truncated", func(t *testing.T) {
		if evs := r.Dispatch(frame(serialapi.FuncApplicationCommandHandler, 0x00, 0x04, 0x05, 0x20, 0x03)); evs != nil {
			t.Errorf("truncated frame yielded %#v", evs)
		}
	})
}

func TestApplicationUpdateNodeInfo(t *testing.T) {
	r := newTestRegistry()
	assertEvents(t, r.Dispatch(frame(serialapi.FuncApplicationUpdate, 0x84, 0x05, 0x06, 0x04, 0x10, 0x01, 0x25, 0x27, 0x86)),
		events.NodeInfo{
			NodeID:         5,
			Basic:          0x04,
			Generic:        0x10,
			Specific:       0x01,
			CommandClasses: []int{0x25, 0x27, 0x86},
		})

	assertEvents(t, r.Dispatch(frame(serialapi.FuncApplicationUpdate, 0x81, 0x05)))
	if evs := r.Dispatch(frame(serialapi.FuncApplicationUpdate, 0x84)); evs != nil {
		t.Errorf("short update yielded %#v", evs)
	}
}

func TestLateCallbackIsSilent(t *testing.T) {
	r := newTestRegistry()
	assertEvents(t, r.Dispatch(frame(serialapi.FuncSendData, 0x01, 0x00)))
}
