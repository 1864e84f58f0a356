package controller

import (
	"errors"
	"io"
	"sync"

	"zwave-go-home/internal/serialapi"
)

// fakeStick is an in-memory Z-Wave stick. It ACKs every data frame the host
// writes and answers through per-function responders.
type fakeStick struct {
	mu         sync.Mutex
	dec        serialapi.Decoder
	frames     []*serialapi.Frame
	responders map[serialapi.FunctionID]func(f *serialapi.Frame) []*serialapi.Frame

	out     chan []byte
	pending []byte
	closeCh chan struct{}
	failCh  chan struct{}
	once    sync.Once
	failed  sync.Once
}

var errUnplugged = errors.New("device unplugged")

func newFakeStick() *fakeStick {
	s := &fakeStick{
		out:     make(chan []byte, 256),
		closeCh: make(chan struct{}),
		failCh:  make(chan struct{}),
	}
	s.responders = map[serialapi.FunctionID]func(*serialapi.Frame) []*serialapi.Frame{
		serialapi.FuncGetVersion:            respondWith([]byte("Z-Wave 4.05\x00\x01")),
		serialapi.FuncMemoryGetID:           respondWith([]byte{0xC0, 0xFF, 0xEE, 0x01, 0x01}),
		serialapi.FuncSerialAPIGetInitData:  respondWith(initData(1, 7)),
		serialapi.FuncSendData:              respondWith([]byte{0x01}),
		serialapi.FuncRequestNodeInfo:       respondWith([]byte{0x01}),
		serialapi.FuncAddNodeToNetwork:      learnReady(serialapi.FuncAddNodeToNetwork),
		serialapi.FuncRemoveNodeFromNetwork: learnReady(serialapi.FuncRemoveNodeFromNetwork),
	}
	return s
}

func respondWith(payload []byte) func(*serialapi.Frame) []*serialapi.Frame {
	return func(f *serialapi.Frame) []*serialapi.Frame {
		return []*serialapi.Frame{{Type: serialapi.TypeResponse, Function: f.Function, Payload: payload}}
	}
}

// learnReady answers a start request with the LearnReady callback and a stop
// request with nothing but the ACK.
func learnReady(fn serialapi.FunctionID) func(*serialapi.Frame) []*serialapi.Frame {
	return func(f *serialapi.Frame) []*serialapi.Frame {
		if len(f.Payload) == 0 || f.Payload[0]&0x0F == 0x05 {
			return nil
		}
		return []*serialapi.Frame{{Type: serialapi.TypeRequest, Function: fn, Payload: []byte{0xFF, 0x01, 0x00}}}
	}
}

func initData(nodes ...int) []byte {
	bitmap := make([]byte, 29)
	for _, n := range nodes {
		bitmap[(n-1)/8] |= 1 << ((n - 1) % 8)
	}
	p := []byte{0x08, 0x00, 29}
	p = append(p, bitmap...)
	return append(p, 0x07, 0x00)
}

func (s *fakeStick) setResponder(fn serialapi.FunctionID, r func(*serialapi.Frame) []*serialapi.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responders[fn] = r
}

func (s *fakeStick) Write(b []byte) (int, error) {
	s.mu.Lock()
	_, _ = s.dec.Write(b)
	var replies []*serialapi.Frame
	acks := 0
	for {
		u, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, serialapi.ErrIncomplete) {
				break
			}
			continue
		}
		if u.Kind != serialapi.UnitFrame {
			continue
		}
		s.frames = append(s.frames, u.Frame)
		acks++
		if r := s.responders[u.Frame.Function]; r != nil {
			replies = append(replies, r(u.Frame)...)
		}
	}
	s.mu.Unlock()

	for i := 0; i < acks; i++ {
		s.out <- []byte{serialapi.ACK}
	}
	for _, f := range replies {
		s.send(f)
	}
	return len(b), nil
}

func (s *fakeStick) send(f *serialapi.Frame) {
	s.out <- serialapi.MustEncode(f.Type, f.Function, f.Payload)
}

// callback injects an unsolicited request frame.
func (s *fakeStick) callback(fn serialapi.FunctionID, payload ...byte) {
	s.send(&serialapi.Frame{Type: serialapi.TypeRequest, Function: fn, Payload: payload})
}

func (s *fakeStick) Read(b []byte) (int, error) {
	if len(s.pending) == 0 {
		select {
		case p := <-s.out:
			s.pending = p
		case <-s.failCh:
			return 0, errUnplugged
		case <-s.closeCh:
			return 0, io.EOF
		}
	}
	n := copy(b, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *fakeStick) Close() error {
	s.once.Do(func() { close(s.closeCh) })
	return nil
}

// unplug makes the next Read fail.
func (s *fakeStick) unplug() {
	s.failed.Do(func() { close(s.failCh) })
}

// sent returns the data frames the host wrote for fn.
func (s *fakeStick) sent(fn serialapi.FunctionID) []*serialapi.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*serialapi.Frame
	for _, f := range s.frames {
		if f.Function == fn {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeStick) functions() []serialapi.FunctionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]serialapi.FunctionID, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Function
	}
	return out
}
