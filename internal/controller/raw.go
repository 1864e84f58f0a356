package controller

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"zwave-go-home/internal/events"
	"zwave-go-home/internal/serialapi"
)

// RawCommand is a serial API request as accepted by the web, MQTT and Lua surfaces.
type RawCommand struct {
	Function string `json:"function"` // "0x13", "19" or "SendData"
	Payload  string `json:"payload"`  // hex, spaces allowed
}

// RawResponse is the stick's answer to a RawCommand.
type RawResponse struct {
	Function serialapi.FunctionID  `json:"function"`
	Type     serialapi.MessageType `json:"type"`
	Payload  events.HexBytes       `json:"payload"`
}

// Parse validates the command.
func (r RawCommand) Parse() (serialapi.FunctionID, []byte, error) {
	fn, err := ParseFunction(r.Function)
	if err != nil {
		return 0, nil, err
	}
	payload, err := ParseHex(r.Payload)
	if err != nil {
		return 0, nil, err
	}
	if len(payload) > serialapi.MaxPayload {
		return 0, nil, fmt.Errorf("payload too long: %d bytes", len(payload))
	}
	return fn, payload, nil
}

// SendRaw runs a RawCommand.
func (c *Controller) SendRaw(ctx context.Context, cmd RawCommand) (*RawResponse, error) {
	fn, payload, err := cmd.Parse()
	if err != nil {
		return nil, err
	}
	resp, err := c.SendCommand(ctx, fn, payload)
	if err != nil {
		return nil, err
	}
	return &RawResponse{Function: resp.Function, Type: resp.Type, Payload: resp.Payload}, nil
}

// ParseFunction accepts a hex ("0x13"), decimal ("19") or named ("SendData") function id.
func ParseFunction(s string) (serialapi.FunctionID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing function")
	}
	if v, err := strconv.ParseUint(s, 0, 8); err == nil {
		return serialapi.FunctionID(v), nil
	}
	for id := 0; id < 256; id++ {
		fn := serialapi.FunctionID(id)
		if strings.EqualFold(fn.String(), s) {
			return fn, nil
		}
	}
	return 0, fmt.Errorf("unknown function %q", s)
}

// ParseHex decodes a hex string, ignoring spaces, colons and a 0x prefix.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return b, nil
}
