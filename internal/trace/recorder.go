package trace

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"zwave-go-home/internal/events"
	"zwave-go-home/internal/serialapi"
)

// Recorder appends link traffic and events to a CBOR capture file.
// It is safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	file      *os.File
	encoder   *cbor.Encoder
	sessionID string
	closed    bool
	now       func() time.Time
}

// NewRecorder opens path for appending.
func NewRecorder(path, sessionID string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		file:      f,
		encoder:   newEncoder(f),
		sessionID: sessionID,
		now:       time.Now,
	}, nil
}

// Trace records raw bytes. It implements serialapi.Tracer.
func (r *Recorder) Trace(dir serialapi.Direction, data []byte) {
	kind := KindRX
	if dir == serialapi.DirTX {
		kind = KindTX
	}
	r.write(Record{Kind: kind, Data: append([]byte(nil), data...)})
}

// RecordEvent records a decoded event. It has the events.Listener signature.
func (r *Recorder) RecordEvent(e events.Event) {
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	r.write(Record{Kind: KindEvent, EventType: e.Type(), EventJSON: body})
}

func (r *Recorder) write(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	rec.Timestamp = r.now()
	rec.SessionID = r.sessionID
	// Tracing must never disturb the link.
	_ = r.encoder.Encode(rec)
}

// Close closes the capture file. Later writes are ignored.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

var _ serialapi.Tracer = (*Recorder)(nil)
