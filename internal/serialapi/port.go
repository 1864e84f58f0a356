package serialapi

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Port is the byte link to the controller stick.
type Port interface {
	io.ReadWriteCloser
}

// DefaultBaud is the serial API line speed.
const DefaultBaud = 115200

// OpenSerial opens a Z-Wave stick as 8N1 at the given baud rate.
func OpenSerial(portName string, baudRate int) (Port, error) {
	if baudRate == 0 {
		baudRate = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serialapi: open %s: %w", portName, err)
	}

	// USB CDC ACM sticks expect DTR/RTS asserted.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)
	return port, nil
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialapi: list ports: %w", err)
	}
	return ports, nil
}
