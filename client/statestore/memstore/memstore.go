// Package memstore implements an in-memory statestore without persistence.
package memstore

import (
	"errors"

	"github.com/mutecomm/confirmations/client/statestore"
)

// ErrSaveFailed is reported by Save when FailSaves is set.
var ErrSaveFailed = errors.New("memstore: save failed")

// MemStore is a statestore that keeps state in memory only.
type MemStore struct {
	States    map[string]string
	SaveCount int
	FailSaves bool // when set, Save reports a failure and drops the state
}

// New returns an empty MemStore.
func New() *MemStore {
	return &MemStore{States: make(map[string]string)}
}

// Save without persistence.
func (ms *MemStore) Save(key, state string) error {
	ms.SaveCount++
	if ms.FailSaves {
		return ErrSaveFailed
	}
	ms.States[key] = state
	return nil
}

// Load without persistence.
func (ms *MemStore) Load(key string) (string, error) {
	state, ok := ms.States[key]
	if !ok {
		return "", statestore.ErrNotFound
	}
	return state, nil
}
