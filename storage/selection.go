package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"walletd/wallet"
)

const selectionPrefix = "netsel/"

// SelectionStore persists each origin's last selected chain id. Writes are
// single-key upserts with last-writer-wins semantics; the underlying
// Database provides whatever atomicity a single key needs.
type SelectionStore struct {
	db Database
}

// NewSelectionStore wraps a Database as a wallet.NetworkSelectionStore.
func NewSelectionStore(db Database) *SelectionStore {
	return &SelectionStore{db: db}
}

func selectionKey(origin string) []byte {
	return []byte(selectionPrefix + origin)
}

// Get returns the chain id the origin last selected, or wallet.ErrNoSelection
// when the origin never switched networks.
func (s *SelectionStore) Get(origin string) (uint64, error) {
	value, err := s.db.Get(selectionKey(origin))
	if errors.Is(err, ErrNotFound) {
		return 0, wallet.ErrNoSelection
	}
	if err != nil {
		return 0, fmt.Errorf("read selection for %q: %w", origin, err)
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("corrupt selection record for %q", origin)
	}
	return binary.BigEndian.Uint64(value), nil
}

// Set records the origin's selection, overwriting any prior value.
func (s *SelectionStore) Set(origin string, chainID uint64) error {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, chainID)
	if err := s.db.Put(selectionKey(origin), value); err != nil {
		return fmt.Errorf("persist selection for %q: %w", origin, err)
	}
	return nil
}
