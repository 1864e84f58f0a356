package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetNode(t *testing.T) {
	s := newTestStore(t)

	node := &Node{
		ID:             7,
		Name:           "hallway switch",
		Basic:          0x04,
		Generic:        0x10,
		Specific:       0x01,
		CommandClasses: []int{0x25, 0x27, 0x86},
		IncludedAt:     time.Now().Truncate(time.Millisecond),
		LastSeen:       time.Now().Truncate(time.Millisecond),
	}
	node.SetValue("switch", true)

	if err := s.SaveNode(node); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetNode(7)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 7 {
		t.Errorf("id = %d, want 7", got.ID)
	}
	if got.Name != node.Name {
		t.Errorf("name = %q, want %q", got.Name, node.Name)
	}
	if got.Generic != 0x10 {
		t.Errorf("generic = 0x%02X, want 0x10", got.Generic)
	}
	if len(got.CommandClasses) != 3 || got.CommandClasses[0] != 0x25 {
		t.Errorf("command classes = %X", got.CommandClasses)
	}
	if got.Values["switch"] != true {
		t.Errorf("values = %v", got.Values)
	}
	if !got.IncludedAt.Equal(node.IncludedAt) {
		t.Errorf("included_at = %v, want %v", got.IncludedAt, node.IncludedAt)
	}
}

func TestDeleteNode(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveNode(&Node{ID: 3}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteNode(3); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetNode(3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListNodesOrdered(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []uint8{200, 2, 17} {
		if err := s.SaveNode(&Node{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListNodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("list count = %d, want 3", len(list))
	}
	want := []uint8{2, 17, 200}
	for i, n := range list {
		if n.ID != want[i] {
			t.Errorf("list[%d] = %d, want %d", i, n.ID, want[i])
		}
	}
}

func TestUpdateNode(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveNode(&Node{ID: 9, Name: "old"}); err != nil {
		t.Fatal(err)
	}
	err := s.UpdateNode(9, func(n *Node) error {
		n.Name = "kitchen"
		n.ID = 99 // ignored
		n.SetValue("level", 42)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetNode(9)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "kitchen" || got.Values["level"] != float64(42) {
		t.Errorf("after update: %+v", got)
	}
	if _, err := s.GetNode(99); !errors.Is(err, ErrNotFound) {
		t.Error("update moved the node")
	}

	if err := s.UpdateNode(50, func(*Node) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing: %v", err)
	}

	failing := errors.New("abort")
	if err := s.UpdateNode(9, func(n *Node) error {
		n.Name = "discarded"
		return failing
	}); !errors.Is(err, failing) {
		t.Errorf("update error = %v", err)
	}
	got, _ = s.GetNode(9)
	if got.Name != "kitchen" {
		t.Errorf("failed update persisted: %q", got.Name)
	}
}

func TestGetNodeNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetNode(232)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndGetNetworkState(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetNetworkState(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store: %v", err)
	}

	state := &NetworkState{
		HomeID:       0xC0FFEE01,
		ControllerID: 1,
		Version:      "Z-Wave 4.05",
		LibraryType:  1,
		NodeIDs:      []int{1, 7},
		UpdatedAt:    time.Now().Truncate(time.Millisecond),
	}
	if err := s.SaveNetworkState(state); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetNetworkState()
	if err != nil {
		t.Fatal(err)
	}
	if got.HomeID != state.HomeID {
		t.Errorf("home_id = %s, want %s", got.HomeIDString(), state.HomeIDString())
	}
	if got.ControllerID != 1 || got.Version != state.Version || got.LibraryType != 1 {
		t.Errorf("state = %+v", got)
	}
	if len(got.NodeIDs) != 2 || got.NodeIDs[1] != 7 {
		t.Errorf("node ids = %v", got.NodeIDs)
	}
	if state.HomeIDString() != "0xC0FFEE01" {
		t.Errorf("HomeIDString = %q", state.HomeIDString())
	}
}

func TestNodeDisplayName(t *testing.T) {
	n := &Node{ID: 4}
	if n.DisplayName() != "node-4" {
		t.Errorf("default name = %q", n.DisplayName())
	}
	n.Name = "porch"
	if n.DisplayName() != "porch" {
		t.Errorf("name = %q", n.DisplayName())
	}
}
