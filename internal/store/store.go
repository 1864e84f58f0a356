package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Node operations
	SaveNode(node *Node) error
	GetNode(id uint8) (*Node, error)
	DeleteNode(id uint8) error
	ListNodes() ([]*Node, error)

	// UpdateNode atomically reads, modifies, and saves a node in a single
	// transaction. Returns ErrNotFound if the node does not exist.
	UpdateNode(id uint8, fn func(node *Node) error) error

	// Network identity
	SaveNetworkState(state *NetworkState) error
	GetNetworkState() (*NetworkState, error)

	// Close the store
	Close() error
}
