package trace

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Kind classifies a record.
type Kind uint8

const (
	// KindTX is raw bytes written to the stick.
	KindTX Kind = 0
	// KindRX is raw bytes read from the stick.
	KindRX Kind = 1
	// KindEvent is a decoded event published on the bus.
	KindEvent Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindTX:
		return "TX"
	case KindRX:
		return "RX"
	case KindEvent:
		return "EVENT"
	default:
		return "UNKNOWN"
	}
}

// Record is one entry of a capture file.
type Record struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	SessionID string    `cbor:"2,keyasint,omitempty"`
	Kind      Kind      `cbor:"3,keyasint"`
	Data      []byte    `cbor:"4,keyasint,omitempty"`

	// Set for KindEvent: the event type and its JSON body.
	EventType string `cbor:"5,keyasint,omitempty"`
	EventJSON []byte `cbor:"6,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace: cbor encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("trace: cbor decoder mode: %v", err))
	}
}

// EncodeRecord encodes a record to CBOR.
func EncodeRecord(r Record) ([]byte, error) {
	return encMode.Marshal(r)
}

// DecodeRecord decodes a CBOR record.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
