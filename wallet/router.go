package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"walletd/observability"
	"walletd/wallet/approval"
)

// Method buckets, evaluated in precedence order. Every inbound method lands
// in exactly one of them.
var signingMethods = map[string]struct{}{
	"eth_sendTransaction":  {},
	"eth_signTransaction":  {},
	"eth_sign":             {},
	"personal_sign":        {},
	"eth_signTypedData":    {},
	"eth_signTypedData_v3": {},
	"eth_signTypedData_v4": {},
}

var chainSwitchMethods = map[string]struct{}{
	"wallet_switchEthereumChain": {},
	"wallet_addEthereumChain":    {},
}

// passThroughMethods are forwarded verbatim to the gateway bound to the
// origin's active network. The list is an allowlist: anything outside it
// (including provider-identity and permission methods this wallet does not
// implement) is an unsupported-method error, never a silent success.
var passThroughMethods = map[string]struct{}{
	"eth_blockNumber":           {},
	"eth_call":                  {},
	"eth_estimateGas":           {},
	"eth_feeHistory":            {},
	"eth_gasPrice":              {},
	"eth_getBalance":            {},
	"eth_getBlockByHash":        {},
	"eth_getBlockByNumber":      {},
	"eth_getCode":               {},
	"eth_getLogs":               {},
	"eth_getStorageAt":          {},
	"eth_getTransactionByHash":  {},
	"eth_getTransactionCount":   {},
	"eth_getTransactionReceipt": {},
	"eth_maxPriorityFeePerGas":  {},
	"eth_sendRawTransaction":    {},
	"eth_syncing":               {},
	"net_listening":             {},
	"web3_clientVersion":        {},
}

// Router classifies every inbound JSON-RPC method and dispatches it to
// pass-through, chain-switch or approval-correlated handling. One router
// instance serves all origins.
type Router struct {
	resolver  *Resolver
	networks  *Registry
	gateway   ChainGateway
	approvals *approval.Correlator
	prefs     PreferenceStore
	logger    *slog.Logger
}

// NewRouter wires the router to its collaborators.
func NewRouter(resolver *Resolver, networks *Registry, gateway ChainGateway, approvals *approval.Correlator, prefs PreferenceStore, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		resolver:  resolver,
		networks:  networks,
		gateway:   gateway,
		approvals: approvals,
		prefs:     prefs,
		logger:    logger.With(slog.String("component", "router")),
	}
}

// Approvals exposes the correlator so protocol bridges can open session
// approvals through the same registry.
func (r *Router) Approvals() *approval.Correlator {
	return r.approvals
}

// Resolver exposes the origin network resolver.
func (r *Router) Resolver() *Resolver {
	return r.resolver
}

// Route handles one request from the given origin. It may suspend while a
// user decision is pending; suspension never blocks other origins' requests.
func (r *Router) Route(ctx context.Context, origin, method string, params []json.RawMessage) (interface{}, error) {
	return r.routeAndRecord(ctx, origin, method, params, nil)
}

// RouteForChain handles a session request addressed to an explicit chain, the
// way WalletConnect requests arrive. A zero chain id falls back to the
// origin's active network; an unsupported one is a chain-disconnected error.
func (r *Router) RouteForChain(ctx context.Context, origin string, chainID uint64, method string, params []json.RawMessage) (interface{}, error) {
	if chainID == 0 {
		return r.routeAndRecord(ctx, origin, method, params, nil)
	}
	network, ok := r.networks.Lookup(chainID)
	if !ok {
		err := ErrChainDisconnected(chainID)
		observability.Broker().RecordRequest(bucketFor(method), err)
		return nil, err
	}
	return r.routeAndRecord(ctx, origin, method, params, &network)
}

func (r *Router) routeAndRecord(ctx context.Context, origin, method string, params []json.RawMessage, pinned *Network) (interface{}, error) {
	result, err := r.route(ctx, origin, method, params, pinned)
	observability.Broker().RecordRequest(bucketFor(method), err)
	return result, err
}

// activeNetwork is the network a request executes against: the pinned chain
// for session requests, the origin's active network for everything else.
func (r *Router) activeNetwork(origin string, pinned *Network) Network {
	if pinned != nil {
		return *pinned
	}
	return r.resolver.Resolve(origin)
}

func bucketFor(method string) string {
	switch {
	case isSigningMethod(method):
		return "signing"
	case isChainSwitchMethod(method):
		return "chain_switch"
	case method == "eth_accounts" || method == "eth_chainId" || method == "net_version":
		return "local"
	case isPassThroughMethod(method):
		return "pass_through"
	default:
		return "unsupported"
	}
}

func isSigningMethod(method string) bool {
	_, ok := signingMethods[method]
	return ok
}

func isChainSwitchMethod(method string) bool {
	_, ok := chainSwitchMethods[method]
	return ok
}

func isPassThroughMethod(method string) bool {
	_, ok := passThroughMethods[method]
	return ok
}

func (r *Router) route(ctx context.Context, origin, method string, params []json.RawMessage, pinned *Network) (interface{}, error) {
	switch {
	case isSigningMethod(method):
		return r.handleSigning(ctx, origin, method, params, pinned)
	case isChainSwitchMethod(method):
		return r.handleChainSwitch(ctx, origin, params)
	case method == "eth_accounts":
		return r.handleAccounts(), nil
	case method == "eth_chainId":
		return r.activeNetwork(origin, pinned).ChainIDHex(), nil
	case method == "net_version":
		// net_version predates eth_chainId and reports the id in decimal.
		network := r.activeNetwork(origin, pinned)
		return strconv.FormatUint(network.ChainID, 10), nil
	case isPassThroughMethod(method):
		network := r.activeNetwork(origin, pinned)
		return r.gateway.Call(ctx, method, params, network)
	default:
		return nil, ErrUnsupportedMethod(method)
	}
}

// handleAccounts bypasses the gateway entirely. No selected account is an
// empty list, never an error.
func (r *Router) handleAccounts() []string {
	account, ok := r.prefs.SelectedAccount()
	if !ok {
		return []string{}
	}
	return []string{account.Hex()}
}

type switchChainParams struct {
	ChainID hexutil.Uint64 `json:"chainId"`
}

// handleChainSwitch switches among already-supported networks. The requested
// chain is activated through the gateway before the origin's selection is
// persisted; genuinely new chains are never added.
func (r *Router) handleChainSwitch(ctx context.Context, origin string, params []json.RawMessage) (interface{}, error) {
	if len(params) == 0 {
		return nil, ErrInvalidParams("chain parameter required")
	}
	var args switchChainParams
	if err := json.Unmarshal(params[0], &args); err != nil {
		return nil, ErrInvalidParams(err.Error())
	}
	chainID := uint64(args.ChainID)
	if _, err := r.gateway.ActivateNetwork(ctx, chainID); err != nil {
		r.logger.Info("chain switch refused",
			slog.String("origin", origin),
			slog.Uint64("chainId", chainID),
			slog.Any("error", err),
		)
		return nil, ErrChainDisconnected(chainID)
	}
	if err := r.resolver.SetActiveNetwork(origin, chainID); err != nil {
		r.logger.Error("persist network selection", slog.Any("error", err))
		return nil, ErrInternal()
	}
	// EIP-3326 success marker.
	return nil, nil
}

func (r *Router) handleSigning(ctx context.Context, origin, method string, params []json.RawMessage, pinned *Network) (interface{}, error) {
	switch method {
	case "eth_sendTransaction", "eth_signTransaction":
		return r.handleTransaction(ctx, origin, method, params, pinned)
	case "eth_sign", "personal_sign":
		return r.handleSignData(ctx, origin, method, params)
	default:
		return r.handleSignTypedData(ctx, origin, method, params)
	}
}

func (r *Router) handleTransaction(ctx context.Context, origin, method string, params []json.RawMessage, pinned *Network) (interface{}, error) {
	if len(params) == 0 {
		return nil, ErrInvalidParams("transaction object required")
	}
	var args TxArgs
	if err := json.Unmarshal(params[0], &args); err != nil {
		return nil, ErrInvalidParams(err.Error())
	}
	// The identity check happens synchronously, before any suspension point,
	// so a later-arriving untrusted request can never be misattributed to
	// the trusted origin.
	if origin != OriginInternal {
		args.Annotation = nil
	}
	tx, err := NormalizeTx(args)
	if err != nil {
		return nil, err
	}
	network := r.activeNetwork(origin, pinned)
	tx.ChainID = network.ChainID

	id, done := r.approvals.Open(approval.KindSignTransaction, origin, tx)
	raw, err := approval.Await(ctx, done)
	if err != nil {
		observability.Broker().RecordApproval(string(approval.KindSignTransaction), "rejected")
		return nil, approvalError(err)
	}
	observability.Broker().RecordApproval(string(approval.KindSignTransaction), "approved")

	var signed hexutil.Bytes
	if err := json.Unmarshal(raw, &signed); err != nil {
		r.logger.Error("malformed signed transaction from UI", slog.String("id", id), slog.Any("error", err))
		return nil, ErrInternal()
	}
	if method == "eth_signTransaction" {
		return signed, nil
	}
	hash, err := r.gateway.BroadcastSignedTransaction(ctx, signed, network)
	if err != nil {
		r.logger.Error("broadcast failed", slog.String("id", id), slog.Any("error", err))
		return nil, AsRPCError(err)
	}
	return hash, nil
}

// SignDataPayload is handed to the UI for message-signing approvals.
type SignDataPayload struct {
	Account common.Address `json:"account"`
	Data    hexutil.Bytes  `json:"data"`
	Method  string         `json:"method"`
}

func (r *Router) handleSignData(ctx context.Context, origin, method string, params []json.RawMessage) (interface{}, error) {
	if len(params) < 2 {
		return nil, ErrInvalidParams("account and data required")
	}
	// eth_sign orders [account, data]; personal_sign orders [data, account].
	accountParam, dataParam := params[0], params[1]
	if method == "personal_sign" {
		accountParam, dataParam = params[1], params[0]
	}
	var account common.Address
	if err := json.Unmarshal(accountParam, &account); err != nil {
		return nil, ErrInvalidParams(err.Error())
	}
	var data hexutil.Bytes
	if err := json.Unmarshal(dataParam, &data); err != nil {
		return nil, ErrInvalidParams(err.Error())
	}
	payload := SignDataPayload{Account: account, Data: data, Method: method}
	return r.awaitSignature(ctx, origin, approval.KindSignData, payload)
}

// SignTypedDataPayload is handed to the UI for EIP-712 approvals.
type SignTypedDataPayload struct {
	Account   common.Address  `json:"account"`
	TypedData json.RawMessage `json:"typedData"`
	Method    string          `json:"method"`
}

func (r *Router) handleSignTypedData(ctx context.Context, origin, method string, params []json.RawMessage) (interface{}, error) {
	if len(params) < 2 {
		return nil, ErrInvalidParams("account and typed data required")
	}
	var account common.Address
	if err := json.Unmarshal(params[0], &account); err != nil {
		return nil, ErrInvalidParams(err.Error())
	}
	typed := params[1]
	// Typed data arrives either as a JSON object or as a string-encoded
	// object depending on the client library.
	var asString string
	if err := json.Unmarshal(typed, &asString); err == nil {
		typed = json.RawMessage(asString)
	}
	if !json.Valid(typed) {
		return nil, ErrInvalidParams("typed data is not valid JSON")
	}
	payload := SignTypedDataPayload{Account: account, TypedData: typed, Method: method}
	return r.awaitSignature(ctx, origin, approval.KindSignTypedData, payload)
}

// approvalError maps a correlator failure onto the wire error taxonomy.
func approvalError(err error) error {
	if errors.Is(err, approval.ErrRejected) {
		return ErrUserRejected()
	}
	return AsRPCError(err)
}

func (r *Router) awaitSignature(ctx context.Context, origin string, kind approval.Kind, payload interface{}) (interface{}, error) {
	id, done := r.approvals.Open(kind, origin, payload)
	raw, err := approval.Await(ctx, done)
	if err != nil {
		observability.Broker().RecordApproval(string(kind), "rejected")
		return nil, approvalError(err)
	}
	observability.Broker().RecordApproval(string(kind), "approved")
	var signature hexutil.Bytes
	if err := json.Unmarshal(raw, &signature); err != nil {
		r.logger.Error("malformed signature from UI", slog.String("id", id), slog.Any("error", err))
		return nil, ErrInternal()
	}
	return signature, nil
}
