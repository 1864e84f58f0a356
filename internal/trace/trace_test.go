package trace

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"zwave-go-home/internal/events"
	"zwave-go-home/internal/serialapi"
)

func TestRecordCBORRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	in := Record{Timestamp: ts, SessionID: "s1", Kind: KindRX, Data: []byte{0x06, 0x01, 0x03}}

	data, err := EncodeRecord(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeRecord(data)
	if err != nil {
		t.Fatal(err)
	}

	if !out.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", out.Timestamp, ts)
	}
	if out.SessionID != in.SessionID || out.Kind != KindRX {
		t.Errorf("record = %+v", out)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Errorf("data = % x", out.Data)
	}
}

func readAll(t *testing.T, r *Reader) []Record {
	t.Helper()
	var got []Record
	for {
		x, err := r.Next()
		if errors.Is(err, io.EOF) {
			return got
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, x)
	}
}

func TestRecorderAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cbor")
	rec, err := NewRecorder(path, "session-a")
	if err != nil {
		t.Fatal(err)
	}

	frame := serialapi.MustEncode(serialapi.TypeRequest, serialapi.FuncGetVersion, nil)
	rec.Trace(serialapi.DirTX, frame)
	rec.Trace(serialapi.DirRX, []byte{serialapi.ACK})
	rec.RecordEvent(events.InclusionDone{NodeID: 7})
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	rec.Trace(serialapi.DirRX, []byte{0x00}) // ignored after close

	r, err := NewReader(path, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got := readAll(t, r)
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}
	if got[0].Kind != KindTX || !bytes.Equal(got[0].Data, frame) {
		t.Errorf("first record = %+v", got[0])
	}
	if got[1].SessionID != "session-a" {
		t.Errorf("session = %q", got[1].SessionID)
	}
	if got[2].Kind != KindEvent || got[2].EventType != events.TypeInclusionDone {
		t.Errorf("event record = %+v", got[2])
	}
	if string(got[2].EventJSON) != `{"node_id":7}` {
		t.Errorf("event json = %s", got[2].EventJSON)
	}
}

func TestReaderFilterAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cbor")
	rec, err := NewRecorder(path, "s")
	if err != nil {
		t.Fatal(err)
	}
	rec.Trace(serialapi.DirRX, []byte{0x01, 0x05})
	rec.Trace(serialapi.DirTX, []byte{0x06})
	rec.Trace(serialapi.DirRX, []byte{0x00, 0x4A})
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}

	var chunks [][]byte
	n, err := ReplayRX(path, func(b []byte) { chunks = append(chunks, b) })
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("replayed %d chunks, want 2", n)
	}
	if want := [][]byte{{0x01, 0x05}, {0x00, 0x4A}}; !reflect.DeepEqual(chunks, want) {
		t.Errorf("chunks = %x, want %x", chunks, want)
	}

	r, err := NewReader(path, Filter{SessionID: "other"})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("filtered next: %v, want EOF", err)
	}
}

func TestKindString(t *testing.T) {
	for kind, want := range map[Kind]string{KindTX: "TX", KindEvent: "EVENT", Kind(9): "UNKNOWN"} {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", uint8(kind), got, want)
		}
	}
}
