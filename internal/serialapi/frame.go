package serialapi

// Z-Wave serial API frame codec: SOF framing, XOR checksum, link control bytes.

import (
	"errors"
	"fmt"
)

// Link-level bytes.
const (
	SOF byte = 0x01
	ACK byte = 0x06
	NAK byte = 0x15
	CAN byte = 0x18
)

// LEN covers type(1) + function(1) + payload + checksum(1).
const (
	minFrameLength = 3
	maxFrameLength = 250
	frameOverhead  = 2 // SOF + LEN
)

// MaxPayload is the largest payload a single frame can carry.
const MaxPayload = maxFrameLength - minFrameLength

// Codec errors. These never leave the transaction manager.
var (
	ErrIncomplete = errors.New("serialapi: incomplete frame")
	ErrChecksum   = errors.New("serialapi: checksum mismatch")
	ErrMalformed  = errors.New("serialapi: malformed frame")
)

// MessageType distinguishes requests from responses.
type MessageType uint8

const (
	TypeRequest  MessageType = 0x00
	TypeResponse MessageType = 0x01
)

func (t MessageType) String() string {
	switch t {
	case TypeRequest:
		return "REQ"
	case TypeResponse:
		return "RES"
	default:
		return fmt.Sprintf("0x%02X", uint8(t))
	}
}

// Frame is a single decoded data frame.
type Frame struct {
	Type     MessageType
	Function FunctionID
	Payload  []byte
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s %s %X", f.Type, f.Function, f.Payload)
}

// PayloadByte returns the payload byte at i, or 0 with ok=false when out of range.
func (f *Frame) PayloadByte(i int) (byte, bool) {
	if i < 0 || i >= len(f.Payload) {
		return 0, false
	}
	return f.Payload[i], true
}

// checksum XORs data into 0xFF.
func checksum(data []byte) byte {
	c := byte(0xFF)
	for _, b := range data {
		c ^= b
	}
	return c
}

// Encode builds a complete wire frame.
func Encode(t MessageType, fn FunctionID, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("serialapi: payload too long: %d bytes (max %d)", len(payload), MaxPayload)
	}
	buf := make([]byte, frameOverhead+minFrameLength+len(payload))
	buf[0] = SOF
	buf[1] = byte(minFrameLength + len(payload))
	buf[2] = byte(t)
	buf[3] = byte(fn)
	copy(buf[4:], payload)
	buf[len(buf)-1] = checksum(buf[1 : len(buf)-1])
	return buf, nil
}

// MustEncode is Encode for payloads known to fit.
func MustEncode(t MessageType, fn FunctionID, payload []byte) []byte {
	b, err := Encode(t, fn, payload)
	if err != nil {
		panic(err)
	}
	return b
}

// Bytes encodes f.
func (f *Frame) Bytes() ([]byte, error) {
	return Encode(f.Type, f.Function, f.Payload)
}

// DecodeFrame parses a data frame at the start of data, which must begin with SOF.
// It returns the frame and the number of bytes it occupied. On ErrChecksum the
// returned length is the declared frame size so the caller can skip it.
func DecodeFrame(data []byte) (*Frame, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrIncomplete
	}
	if data[0] != SOF {
		return nil, 1, fmt.Errorf("%w: expected SOF, got 0x%02X", ErrMalformed, data[0])
	}
	if len(data) < 2 {
		return nil, 0, ErrIncomplete
	}
	length := int(data[1])
	if length < minFrameLength || length > maxFrameLength {
		return nil, 1, fmt.Errorf("%w: length %d out of range", ErrMalformed, length)
	}
	total := frameOverhead + length
	if len(data) < total {
		return nil, 0, ErrIncomplete
	}

	raw := data[:total]
	if got, want := raw[total-1], checksum(raw[1:total-1]); got != want {
		return nil, total, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksum, got, want)
	}

	t := MessageType(raw[2])
	if t != TypeRequest && t != TypeResponse {
		return nil, total, fmt.Errorf("%w: unknown message type 0x%02X", ErrMalformed, raw[2])
	}

	f := &Frame{
		Type:     t,
		Function: FunctionID(raw[3]),
	}
	if n := total - 5; n > 0 {
		f.Payload = make([]byte, n)
		copy(f.Payload, raw[4:total-1])
	}
	return f, total, nil
}

// UnitKind classifies what the stream decoder produced.
type UnitKind uint8

const (
	UnitFrame UnitKind = iota
	UnitACK
	UnitNAK
	UnitCAN
)

func (k UnitKind) String() string {
	switch k {
	case UnitFrame:
		return "frame"
	case UnitACK:
		return "ACK"
	case UnitNAK:
		return "NAK"
	case UnitCAN:
		return "CAN"
	default:
		return "unknown"
	}
}

// Unit is one item of the inbound byte stream: a control byte or a data frame.
type Unit struct {
	Kind  UnitKind
	Frame *Frame
}

// Decoder accumulates inbound bytes and splits them into units.
// It is not safe for concurrent use.
type Decoder struct {
	buf       []byte
	discarded int
}

// Write appends received bytes. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of undecoded bytes.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Discarded returns the total number of bytes dropped while resynchronizing.
func (d *Decoder) Discarded() int {
	return d.discarded
}

// Next returns the next unit. ErrIncomplete means more bytes are needed.
// ErrChecksum and ErrMalformed mean a frame was dropped; the caller should NAK
// and call Next again.
func (d *Decoder) Next() (Unit, error) {
	for len(d.buf) > 0 {
		switch d.buf[0] {
		case ACK:
			d.consume(1)
			return Unit{Kind: UnitACK}, nil
		case NAK:
			d.consume(1)
			return Unit{Kind: UnitNAK}, nil
		case CAN:
			d.consume(1)
			return Unit{Kind: UnitCAN}, nil
		case SOF:
			f, n, err := DecodeFrame(d.buf)
			switch {
			case err == nil:
				d.consume(n)
				return Unit{Kind: UnitFrame, Frame: f}, nil
			case errors.Is(err, ErrIncomplete):
				return Unit{}, err
			default:
				d.discard(n)
				d.resync()
				return Unit{}, err
			}
		default:
			d.discard(1)
			d.resync()
		}
	}
	return Unit{}, ErrIncomplete
}

// DropPartial discards a stalled partial frame so scanning can resume past its SOF.
func (d *Decoder) DropPartial() {
	if len(d.buf) == 0 {
		return
	}
	d.discard(1)
	d.resync()
}

// Reset drops everything buffered.
func (d *Decoder) Reset() {
	d.discarded += len(d.buf)
	d.buf = d.buf[:0]
}

// resync skips forward to the next byte that can start a unit.
func (d *Decoder) resync() {
	i := 0
	for i < len(d.buf) && !isUnitStart(d.buf[i]) {
		i++
	}
	d.discard(i)
}

func (d *Decoder) discard(n int) {
	d.discarded += n
	d.consume(n)
}

func (d *Decoder) consume(n int) {
	if n >= len(d.buf) {
		d.buf = d.buf[:0]
		return
	}
	d.buf = append(d.buf[:0], d.buf[n:]...)
}

func isUnitStart(b byte) bool {
	return b == SOF || b == ACK || b == NAK || b == CAN
}
