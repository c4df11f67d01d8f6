package wallet

import (
	"errors"
	"fmt"
)

// Resolver answers "which network is active for this origin". Reads are
// side-effect free; absence of a selection falls back to the internal
// origin's own selection and finally the configured default network.
type Resolver struct {
	store    NetworkSelectionStore
	networks *Registry
}

// NewResolver wires the resolver to its selection store and network table.
func NewResolver(store NetworkSelectionStore, networks *Registry) *Resolver {
	return &Resolver{store: store, networks: networks}
}

// Resolve returns the active network for an origin.
func (r *Resolver) Resolve(origin string) Network {
	if network, ok := r.lookup(origin); ok {
		return network
	}
	if origin != OriginInternal {
		if network, ok := r.lookup(OriginInternal); ok {
			return network
		}
	}
	return r.networks.Default()
}

func (r *Resolver) lookup(origin string) (Network, bool) {
	chainID, err := r.store.Get(origin)
	if err != nil {
		return Network{}, false
	}
	// A stale selection pointing at a chain that is no longer configured
	// falls through to the default rather than failing the request.
	return r.networks.Lookup(chainID)
}

// SetActiveNetwork records an origin's selection. The caller must have
// already verified the chain is supported (chain-switch handling activates
// it through the gateway first); this only guards against programming errors.
func (r *Resolver) SetActiveNetwork(origin string, chainID uint64) error {
	if _, ok := r.networks.Lookup(chainID); !ok {
		return fmt.Errorf("chain id %d is not supported", chainID)
	}
	if err := r.store.Set(origin, chainID); err != nil {
		return fmt.Errorf("persist network selection: %w", err)
	}
	return nil
}

// IsNoSelection reports whether a store error just means "nothing recorded".
func IsNoSelection(err error) bool {
	return errors.Is(err, ErrNoSelection)
}
