package wallet

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// OriginInternal identifies the trusted in-process caller (the wallet UI).
// It is deliberately not a URL: request origins arrive from the network as
// scheme://host values, so no untrusted caller can present this string
// through the origin extraction path. It is additionally rejected there by
// exact match.
const OriginInternal = "walletd/internal"

// ErrNoSelection is returned by a NetworkSelectionStore when an origin has
// never switched networks. Absence is a valid state, not a failure.
var ErrNoSelection = errors.New("no network selection")

// NetworkSelectionStore persists which chain an origin last selected.
// Implementations provide single-key atomicity; last writer wins.
type NetworkSelectionStore interface {
	Get(origin string) (uint64, error)
	Set(origin string, chainID uint64) error
}

// ChainGateway is the broker's view of the on-chain data layer. It executes
// pass-through calls, broadcasts signed transactions and probes networks for
// activation. The broker never retries gateway failures.
type ChainGateway interface {
	Call(ctx context.Context, method string, params []json.RawMessage, network Network) (json.RawMessage, error)
	BroadcastSignedTransaction(ctx context.Context, signed hexutil.Bytes, network Network) (common.Hash, error)
	ActivateNetwork(ctx context.Context, chainID uint64) (Network, error)
}

// Signer produces signatures for approved payloads. Key custody lives behind
// this interface; the broker only moves opaque signed artifacts around.
type Signer interface {
	SignTransaction(ctx context.Context, tx *TxRequest) (hexutil.Bytes, error)
	SignData(ctx context.Context, account common.Address, data hexutil.Bytes) (hexutil.Bytes, error)
	SignTypedData(ctx context.Context, account common.Address, typedData json.RawMessage) (hexutil.Bytes, error)
}

// PreferenceStore exposes the account the user currently has selected.
type PreferenceStore interface {
	SelectedAccount() (common.Address, bool)
}
