package wallet

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Network describes one chain this wallet can talk to.
type Network struct {
	Name    string
	ChainID uint64
	RPCURL  string
}

// ChainIDHex formats the chain id the way providers report it.
func (n Network) ChainIDHex() string {
	return hexutil.EncodeUint64(n.ChainID)
}

// Registry holds the set of networks the wallet currently supports plus the
// process-wide default used when an origin has no selection of its own.
type Registry struct {
	byID      map[uint64]Network
	defaultID uint64
}

// NewRegistry builds a registry from the configured network table. The default
// network must be part of the table.
func NewRegistry(defaultName string, networks []Network) (*Registry, error) {
	if len(networks) == 0 {
		return nil, fmt.Errorf("at least one network is required")
	}
	byID := make(map[uint64]Network, len(networks))
	var defaultID uint64
	found := false
	for _, network := range networks {
		if network.ChainID == 0 {
			return nil, fmt.Errorf("network %q has no chain id", network.Name)
		}
		if _, dup := byID[network.ChainID]; dup {
			return nil, fmt.Errorf("duplicate chain id %d", network.ChainID)
		}
		byID[network.ChainID] = network
		if strings.EqualFold(network.Name, defaultName) {
			defaultID = network.ChainID
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("default network %q not present in network table", defaultName)
	}
	return &Registry{byID: byID, defaultID: defaultID}, nil
}

// Lookup returns the network for a chain id when supported.
func (r *Registry) Lookup(chainID uint64) (Network, bool) {
	network, ok := r.byID[chainID]
	return network, ok
}

// Default returns the process-wide default network.
func (r *Registry) Default() Network {
	return r.byID[r.defaultID]
}

// ChainIDs returns the supported chain ids in ascending order.
func (r *Registry) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
