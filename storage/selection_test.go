package storage

import (
	"errors"
	"testing"

	"walletd/wallet"
)

func TestSelectionStoreRoundTrip(t *testing.T) {
	store := NewSelectionStore(NewMemDB())
	if err := store.Set("https://dapp.example", 11155111); err != nil {
		t.Fatalf("set: %v", err)
	}
	chainID, err := store.Get("https://dapp.example")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if chainID != 11155111 {
		t.Fatalf("expected 11155111, got %d", chainID)
	}
}

func TestSelectionStoreAbsenceIsNoSelection(t *testing.T) {
	store := NewSelectionStore(NewMemDB())
	if _, err := store.Get("https://unknown.example"); !errors.Is(err, wallet.ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
}

func TestSelectionStoreLastWriterWins(t *testing.T) {
	store := NewSelectionStore(NewMemDB())
	if err := store.Set("https://dapp.example", 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set("https://dapp.example", 137); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	chainID, err := store.Get("https://dapp.example")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if chainID != 137 {
		t.Fatalf("expected the last write to win, got %d", chainID)
	}
}

func TestSelectionStoreKeysAreIsolated(t *testing.T) {
	store := NewSelectionStore(NewMemDB())
	if err := store.Set("https://one.example", 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set("https://two.example", 137); err != nil {
		t.Fatalf("set: %v", err)
	}
	one, _ := store.Get("https://one.example")
	two, _ := store.Get("https://two.example")
	if one != 1 || two != 137 {
		t.Fatalf("selections bled across origins: %d, %d", one, two)
	}
}

func TestLevelDBSelectionStore(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()

	store := NewSelectionStore(db)
	if err := store.Set("https://dapp.example", 42161); err != nil {
		t.Fatalf("set: %v", err)
	}
	chainID, err := store.Get("https://dapp.example")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if chainID != 42161 {
		t.Fatalf("expected 42161, got %d", chainID)
	}
}
