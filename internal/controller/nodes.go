package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zwave-go-home/internal/events"
	"zwave-go-home/internal/store"
)

// nodeInfoTimeout bounds the node info request sent after an inclusion.
const nodeInfoTimeout = 10 * time.Second

// NodeManager keeps the node records in the store in step with inclusion,
// exclusion and reports.
type NodeManager struct {
	ctrl   *Controller
	logger *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
	stopped     bool
	wg          sync.WaitGroup
}

// NewNodeManager creates a node manager for ctrl.
func NewNodeManager(ctrl *Controller) *NodeManager {
	return &NodeManager{
		ctrl:   ctrl,
		logger: ctrl.logger.With("component", "nodes"),
	}
}

// Start subscribes to the event bus. It must run before other subscribers so
// they observe the updated store.
func (nm *NodeManager) Start() {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if nm.unsubscribe == nil {
		nm.unsubscribe = nm.ctrl.bus.Subscribe(nm.handle)
	}
}

// Stop unsubscribes and waits for pending node info requests.
func (nm *NodeManager) Stop() {
	nm.mu.Lock()
	if nm.unsubscribe != nil {
		nm.unsubscribe()
		nm.unsubscribe = nil
	}
	nm.stopped = true
	nm.mu.Unlock()
	nm.wg.Wait()
}

// List returns all known nodes ordered by id.
func (nm *NodeManager) List() ([]*store.Node, error) {
	return nm.ctrl.store.ListNodes()
}

// Get returns one node.
func (nm *NodeManager) Get(id uint8) (*store.Node, error) {
	return nm.ctrl.store.GetNode(id)
}

// Rename sets the user-visible name of a node.
func (nm *NodeManager) Rename(id uint8, name string) error {
	return nm.ctrl.store.UpdateNode(id, func(n *store.Node) error {
		n.Name = name
		return nil
	})
}

// Forget deletes the record of a node without excluding it from the network.
func (nm *NodeManager) Forget(id uint8) error {
	if _, err := nm.ctrl.store.GetNode(id); err != nil {
		return err
	}
	return nm.ctrl.store.DeleteNode(id)
}

// Sync creates records for nodes listed by the stick that the store does not know.
func (nm *NodeManager) Sync(ids []int, controllerID uint8) {
	for _, id := range ids {
		node := uint8(id)
		if _, err := nm.ctrl.store.GetNode(node); err == nil {
			continue
		}
		rec := &store.Node{ID: node, Controller: node == controllerID}
		if err := nm.ctrl.store.SaveNode(rec); err != nil {
			nm.logger.Error("save node", "node", node, "err", err)
			continue
		}
		nm.logger.Info("node discovered", "node", node)
	}
}

func (nm *NodeManager) handle(e events.Event) {
	switch ev := e.(type) {
	case events.InclusionDone:
		nm.added(ev.NodeID)
	case events.NodeRemoved:
		nm.removed(ev.NodeID)
	case events.ValueUpdated:
		nm.update(ev.NodeID, func(n *store.Node) {
			if ev.Property == "raw" {
				n.SetValue(valueKey(ev), fmt.Sprintf("%X", []byte(ev.Raw)))
				return
			}
			n.SetValue(valueKey(ev), ev.Value)
		})
	case events.NodeInfo:
		nm.update(ev.NodeID, func(n *store.Node) {
			n.Basic = ev.Basic
			n.Generic = ev.Generic
			n.Specific = ev.Specific
			n.CommandClasses = append([]int(nil), ev.CommandClasses...)
		})
	}
}

func (nm *NodeManager) added(id uint8) {
	now := time.Now()
	node, err := nm.ctrl.store.GetNode(id)
	if err != nil {
		node = &store.Node{ID: id}
	}
	node.IncludedAt = now
	node.LastSeen = now
	if err := nm.ctrl.store.SaveNode(node); err != nil {
		nm.logger.Error("save node", "node", id, "err", err)
		return
	}
	nm.logger.Info("node included", "node", id)

	// The bus may still deliver after Stop; wg must not grow once Wait runs.
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if nm.stopped {
		nm.logger.Debug("stopped, skipping node info request", "node", id)
		return
	}
	nm.wg.Add(1)
	go func() {
		defer nm.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), nodeInfoTimeout)
		defer cancel()
		if err := nm.ctrl.RequestNodeInfo(ctx, id); err != nil {
			nm.logger.Warn("request node info", "node", id, "err", err)
		}
	}()
}

func (nm *NodeManager) removed(id uint8) {
	if id == 0 {
		nm.logger.Info("foreign node reset, nothing to remove")
		return
	}
	if err := nm.ctrl.store.DeleteNode(id); err != nil {
		nm.logger.Error("delete node", "node", id, "err", err)
		return
	}
	nm.logger.Info("node excluded", "node", id)
}

// update applies fn to a node, creating the record for nodes reporting before
// they were seen by an inclusion or init.
func (nm *NodeManager) update(id uint8, fn func(*store.Node)) {
	err := nm.ctrl.store.UpdateNode(id, func(n *store.Node) error {
		fn(n)
		n.LastSeen = time.Now()
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		n := &store.Node{ID: id, LastSeen: time.Now()}
		fn(n)
		err = nm.ctrl.store.SaveNode(n)
	}
	if err != nil {
		nm.logger.Error("update node", "node", id, "err", err)
	}
}

// valueKey names the stored value of a report.
func valueKey(ev events.ValueUpdated) string {
	if ev.Property == "raw" {
		return fmt.Sprintf("raw_%02X_%02X", ev.CommandClass, ev.Command)
	}
	return ev.Property
}

// GetNode returns one node record.
func (c *Controller) GetNode(id uint8) (*store.Node, error) { return c.nodes.Get(id) }

// ListNodes returns all node records ordered by id.
func (c *Controller) ListNodes() ([]*store.Node, error) { return c.nodes.List() }

// RenameNode sets the user-visible name of a node.
func (c *Controller) RenameNode(id uint8, name string) error { return c.nodes.Rename(id, name) }

// ForgetNode drops a node record without excluding the node.
func (c *Controller) ForgetNode(id uint8) error { return c.nodes.Forget(id) }
