package wallet

import (
	"sync"
	"testing"
)

type memSelectionStore struct {
	mu   sync.Mutex
	data map[string]uint64
}

func newMemSelectionStore() *memSelectionStore {
	return &memSelectionStore{data: make(map[string]uint64)}
}

func (s *memSelectionStore) Get(origin string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chainID, ok := s.data[origin]
	if !ok {
		return 0, ErrNoSelection
	}
	return chainID, nil
}

func (s *memSelectionStore) Set(origin string, chainID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[origin] = chainID
	return nil
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry("mainnet", []Network{
		{Name: "mainnet", ChainID: 1, RPCURL: "http://localhost:1"},
		{Name: "sepolia", ChainID: 11155111, RPCURL: "http://localhost:2"},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return registry
}

func TestResolveFallsBackToDefault(t *testing.T) {
	resolver := NewResolver(newMemSelectionStore(), testRegistry(t))
	network := resolver.Resolve("https://dapp.example")
	if network.ChainID != 1 {
		t.Fatalf("expected default chain 1, got %d", network.ChainID)
	}
}

func TestResolveUsesInternalSelectionAsFallback(t *testing.T) {
	store := newMemSelectionStore()
	resolver := NewResolver(store, testRegistry(t))
	if err := resolver.SetActiveNetwork(OriginInternal, 11155111); err != nil {
		t.Fatalf("set internal selection: %v", err)
	}
	network := resolver.Resolve("https://dapp.example")
	if network.ChainID != 11155111 {
		t.Fatalf("expected internal fallback chain, got %d", network.ChainID)
	}
}

func TestSelectionsAreIsolatedPerOrigin(t *testing.T) {
	store := newMemSelectionStore()
	resolver := NewResolver(store, testRegistry(t))
	if err := resolver.SetActiveNetwork("https://one.example", 11155111); err != nil {
		t.Fatalf("set selection: %v", err)
	}
	if got := resolver.Resolve("https://one.example").ChainID; got != 11155111 {
		t.Fatalf("expected 11155111 for first origin, got %d", got)
	}
	if got := resolver.Resolve("https://two.example").ChainID; got != 1 {
		t.Fatalf("switching one origin must not affect another, got %d", got)
	}
}

func TestSetActiveNetworkRejectsUnknownChain(t *testing.T) {
	resolver := NewResolver(newMemSelectionStore(), testRegistry(t))
	if err := resolver.SetActiveNetwork("https://dapp.example", 999); err == nil {
		t.Fatalf("expected error for unsupported chain")
	}
}

func TestResolveIgnoresStaleSelection(t *testing.T) {
	store := newMemSelectionStore()
	store.data["https://dapp.example"] = 999
	resolver := NewResolver(store, testRegistry(t))
	if got := resolver.Resolve("https://dapp.example").ChainID; got != 1 {
		t.Fatalf("stale selection should fall back to default, got %d", got)
	}
}
