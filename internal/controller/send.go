package controller

import (
	"context"
	"errors"
	"fmt"

	"zwave-go-home/internal/commandclass/classes"
	"zwave-go-home/internal/inclusion"
	"zwave-go-home/internal/serialapi"
)

// ErrRejected is returned when the stick answers a request with a failure code.
var ErrRejected = errors.New("controller: request rejected by controller")

// SendData transmit options: ACK | AUTO_ROUTE | EXPLORE.
const defaultTransmitOptions byte = 0x01 | 0x04 | 0x20

// SendCommand submits a request for fn and waits for the stick's response frame.
func (c *Controller) SendCommand(ctx context.Context, fn serialapi.FunctionID, payload []byte) (*serialapi.Frame, error) {
	return c.Send(ctx, serialapi.Request{
		Type:     serialapi.TypeRequest,
		Function: fn,
		Payload:  payload,
		Expect:   fn,
		Priority: serialapi.PriorityNormal,
	})
}

// Send submits an arbitrary request and waits for its result.
func (c *Controller) Send(ctx context.Context, req serialapi.Request) (*serialapi.Frame, error) {
	if !c.running() {
		return nil, ErrNotStarted
	}
	return c.send(ctx, req)
}

func (c *Controller) send(ctx context.Context, req serialapi.Request) (*serialapi.Frame, error) {
	tx, err := c.txm.Submit(req)
	if err != nil {
		return nil, err
	}
	resp, err := tx.Wait(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Unsent requests are dropped; an in-flight one runs its course.
		c.txm.Cancel(tx)
	}
	return resp, err
}

// SendData transmits an application command to node. It returns once the stick
// accepted the frame; delivery is reported later by a callback.
func (c *Controller) SendData(ctx context.Context, node uint8, cmd []byte) error {
	if !inclusion.ValidNodeID(node) {
		return fmt.Errorf("controller: invalid node id %d", node)
	}
	if len(cmd) == 0 || len(cmd) > serialapi.MaxPayload-4 {
		return fmt.Errorf("controller: invalid command length %d", len(cmd))
	}
	payload := make([]byte, 0, len(cmd)+4)
	payload = append(payload, node, byte(len(cmd)))
	payload = append(payload, cmd...)
	payload = append(payload, defaultTransmitOptions, c.nextCallbackID())

	resp, err := c.SendCommand(ctx, serialapi.FuncSendData, payload)
	if err != nil {
		return err
	}
	if rv, _ := resp.PayloadByte(0); rv == 0 {
		return fmt.Errorf("%w: SendData to node %d", ErrRejected, node)
	}
	return nil
}

// BasicSet sends a Basic Set with value to node.
func (c *Controller) BasicSet(ctx context.Context, node, value uint8) error {
	return c.SendData(ctx, node, classes.BasicSetCommand(value))
}

// RequestNodeInfo asks node for its node information frame. The answer arrives
// as a NodeInfo event.
func (c *Controller) RequestNodeInfo(ctx context.Context, node uint8) error {
	resp, err := c.SendCommand(ctx, serialapi.FuncRequestNodeInfo, []byte{node})
	if err != nil {
		return err
	}
	if rv, _ := resp.PayloadByte(0); rv == 0 {
		return fmt.Errorf("%w: RequestNodeInfo for node %d", ErrRejected, node)
	}
	return nil
}

// nextCallbackID cycles through 1..255; 0 means no callback.
func (c *Controller) nextCallbackID() byte {
	for {
		id := byte(c.callbackID.Add(1))
		if id != 0 {
			return id
		}
	}
}
