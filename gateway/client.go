// Package gateway implements the broker's view of upstream chains: a
// lightweight JSON-RPC client bound per call to the requesting origin's
// active network.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"walletd/wallet"
)

const defaultTimeout = 15 * time.Second

// Client talks JSON-RPC to the upstream endpoint of whichever network a call
// targets. One client serves all configured networks.
type Client struct {
	networks *wallet.Registry
	http     *http.Client
	logger   *slog.Logger
	nextID   atomic.Int64
}

// New constructs a gateway client over the configured network table.
func New(networks *wallet.Registry, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		networks: networks,
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   logger.With(slog.String("component", "gateway")),
	}
}

type rpcEnvelope struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *wallet.RPCError `json:"error"`
}

// Call forwards a pass-through method verbatim to the network's upstream
// endpoint and returns whatever it returns. Upstream JSON-RPC errors are
// surfaced as-is; transport failures are masked as internal errors.
func (c *Client) Call(ctx context.Context, method string, params []json.RawMessage, network wallet.Network) (json.RawMessage, error) {
	if params == nil {
		params = []json.RawMessage{}
	}
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  params,
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, wallet.ErrInternal()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, network.RPCURL, bytes.NewReader(buf))
	if err != nil {
		return nil, wallet.ErrInternal()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("upstream call failed",
			slog.String("method", method),
			slog.String("network", network.Name),
			slog.Any("error", err),
		)
		return nil, wallet.ErrInternal()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("upstream returned non-200",
			slog.String("method", method),
			slog.String("network", network.Name),
			slog.Int("status", resp.StatusCode),
		)
		return nil, wallet.ErrInternal()
	}

	var envelope rpcEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.logger.Error("upstream returned malformed JSON",
			slog.String("method", method),
			slog.String("network", network.Name),
			slog.Any("error", err),
		)
		return nil, wallet.ErrInternal()
	}
	if envelope.Error != nil {
		return nil, envelope.Error
	}
	return envelope.Result, nil
}

// BroadcastSignedTransaction submits a signed raw transaction and returns
// its hash.
func (c *Client) BroadcastSignedTransaction(ctx context.Context, signed hexutil.Bytes, network wallet.Network) (common.Hash, error) {
	param, err := json.Marshal(signed)
	if err != nil {
		return common.Hash{}, wallet.ErrInternal()
	}
	result, err := c.Call(ctx, "eth_sendRawTransaction", []json.RawMessage{param}, network)
	if err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	if err := json.Unmarshal(result, &hash); err != nil {
		c.logger.Error("upstream returned malformed transaction hash", slog.Any("error", err))
		return common.Hash{}, wallet.ErrInternal()
	}
	return hash, nil
}

// ActivateNetwork verifies the requested chain is configured and that its
// upstream endpoint answers for the expected chain id. Chain-switch handling
// calls this before any selection is persisted.
func (c *Client) ActivateNetwork(ctx context.Context, chainID uint64) (wallet.Network, error) {
	network, ok := c.networks.Lookup(chainID)
	if !ok {
		return wallet.Network{}, fmt.Errorf("chain id %d is not configured", chainID)
	}
	result, err := c.Call(ctx, "eth_chainId", nil, network)
	if err != nil {
		return wallet.Network{}, fmt.Errorf("probe %s: %w", network.Name, err)
	}
	var reported hexutil.Uint64
	if err := json.Unmarshal(result, &reported); err != nil {
		return wallet.Network{}, fmt.Errorf("probe %s: malformed chain id: %w", network.Name, err)
	}
	if uint64(reported) != chainID {
		return wallet.Network{}, fmt.Errorf("endpoint for %s reports chain id %d, expected %d", network.Name, uint64(reported), chainID)
	}
	return network, nil
}
