package controller

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/store"
)

// Init data response layout.
const (
	initDataBitmapLen = 29
	initDataHeaderLen = 3 // api version, capabilities, bitmap length
	versionStringLen  = 12
)

// initialize reads the stick's identity and node list, then persists them.
func (c *Controller) initialize(ctx context.Context) error {
	var info store.NetworkState

	resp, err := c.send(ctx, initRequest(serialapi.FuncGetVersion))
	if err != nil {
		return fmt.Errorf("get version: %w", err)
	}
	info.Version, info.LibraryType = parseVersion(resp.Payload)

	resp, err = c.send(ctx, initRequest(serialapi.FuncMemoryGetID))
	if err != nil {
		return fmt.Errorf("memory get id: %w", err)
	}
	if info.HomeID, info.ControllerID, err = parseMemoryID(resp.Payload); err != nil {
		return err
	}

	resp, err = c.send(ctx, initRequest(serialapi.FuncSerialAPIGetInitData))
	if err != nil {
		return fmt.Errorf("get init data: %w", err)
	}
	if info.NodeIDs, err = parseInitData(resp.Payload); err != nil {
		return err
	}
	info.UpdatedAt = time.Now()

	c.infoMu.Lock()
	c.info = info
	c.infoMu.Unlock()

	if err := c.store.SaveNetworkState(&info); err != nil {
		c.logger.Error("save network state", "err", err)
	}
	c.nodes.Sync(info.NodeIDs, info.ControllerID)

	c.logger.Info("controller identified",
		"version", info.Version,
		"home_id", info.HomeIDString(),
		"node_id", info.ControllerID,
		"nodes", len(info.NodeIDs))
	return nil
}

func initRequest(fn serialapi.FunctionID) serialapi.Request {
	return serialapi.Request{Function: fn, Expect: fn, Priority: serialapi.PriorityHigh}
}

// NetworkInfo returns the identity read at Start. Before a successful init it
// falls back to the last persisted state.
func (c *Controller) NetworkInfo() store.NetworkState {
	c.infoMu.RLock()
	info := c.info
	c.infoMu.RUnlock()
	if info.HomeID != 0 {
		info.NodeIDs = append([]int(nil), info.NodeIDs...)
		return info
	}
	if saved, err := c.store.GetNetworkState(); err == nil {
		return *saved
	}
	return info
}

// parseVersion reads "Z-Wave x.yy\0" followed by the library type.
func parseVersion(p []byte) (string, uint8) {
	n := min(len(p), versionStringLen)
	version := string(bytes.TrimRight(p[:n], "\x00"))
	var lib uint8
	if len(p) > versionStringLen {
		lib = p[versionStringLen]
	}
	return version, lib
}

func parseMemoryID(p []byte) (uint32, uint8, error) {
	if len(p) < 5 {
		return 0, 0, fmt.Errorf("memory get id: short response %X", p)
	}
	return binary.BigEndian.Uint32(p[:4]), p[4], nil
}

// parseInitData decodes the node bitmap: bit i of byte j is node j*8+i+1.
func parseInitData(p []byte) ([]int, error) {
	if len(p) < initDataHeaderLen {
		return nil, fmt.Errorf("get init data: short response %X", p)
	}
	n := int(p[2])
	if n > initDataBitmapLen || len(p) < initDataHeaderLen+n {
		return nil, fmt.Errorf("get init data: bad bitmap length %d in %X", n, p)
	}
	var ids []int
	for j, b := range p[initDataHeaderLen : initDataHeaderLen+n] {
		for i := 0; i < 8; i++ {
			if b&(1<<i) != 0 {
				ids = append(ids, j*8+i+1)
			}
		}
	}
	return ids, nil
}
