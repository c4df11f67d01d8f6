package wallet

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TxArgs is the wire shape of a transaction as submitted by a requesting
// origin. Callers routinely send both legacy and EIP-1559 fee fields, an
// aliased "input" payload, and a nonce the wallet must not trust.
type TxArgs struct {
	From                 *common.Address `json:"from"`
	To                   *common.Address `json:"to"`
	Value                *hexutil.Big    `json:"value"`
	Gas                  *hexutil.Uint64 `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Data                 *hexutil.Bytes  `json:"data"`
	Input                *hexutil.Bytes  `json:"input"`
	Nonce                *hexutil.Uint64 `json:"nonce"`
	// Annotation is a pre-computed transaction annotation. Only the trusted
	// internal origin may supply it; the router strips it for everyone else
	// before the request goes anywhere near an approval.
	Annotation json.RawMessage `json:"annotation,omitempty"`
}

// TxRequest is the canonical, protocol-agnostic transaction shape used
// internally. It never carries a caller-supplied nonce: the nonce is
// recomputed downstream at signing time.
type TxRequest struct {
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to,omitempty"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	GasLimit             *hexutil.Uint64 `json:"gasLimit,omitempty"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Data                 hexutil.Bytes   `json:"data,omitempty"`
	ChainID              uint64          `json:"chainId"`
	Annotation           json.RawMessage `json:"annotation,omitempty"`
}

// NormalizeTx maps wire-shaped transaction arguments onto the canonical
// request. It is pure: "gas" becomes the gas limit, an explicit "data" field
// wins over the aliased "input" field, and any caller-supplied nonce is
// discarded. A transaction without a sender cannot be signed and fails here.
func NormalizeTx(args TxArgs) (*TxRequest, error) {
	if args.From == nil {
		return nil, ErrInvalidParams("transaction sender is required")
	}
	tx := &TxRequest{
		From:                 *args.From,
		To:                   args.To,
		Value:                args.Value,
		GasLimit:             args.Gas,
		GasPrice:             args.GasPrice,
		MaxFeePerGas:         args.MaxFeePerGas,
		MaxPriorityFeePerGas: args.MaxPriorityFeePerGas,
		Annotation:           args.Annotation,
	}
	switch {
	case args.Data != nil:
		tx.Data = *args.Data
	case args.Input != nil:
		tx.Data = *args.Input
	}
	return tx, nil
}
