package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"walletd/wallet/approval"
)

type fakeGateway struct {
	mu         sync.Mutex
	calls      []string
	broadcasts []hexutil.Bytes
	registry   *Registry
	callResult json.RawMessage
	activeErr  error
}

func (g *fakeGateway) Call(ctx context.Context, method string, params []json.RawMessage, network Network) (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, method)
	if g.callResult != nil {
		return g.callResult, nil
	}
	return json.RawMessage(`"0x0"`), nil
}

func (g *fakeGateway) BroadcastSignedTransaction(ctx context.Context, signed hexutil.Bytes, network Network) (common.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broadcasts = append(g.broadcasts, signed)
	return common.HexToHash("0xfeed"), nil
}

func (g *fakeGateway) ActivateNetwork(ctx context.Context, chainID uint64) (Network, error) {
	if g.activeErr != nil {
		return Network{}, g.activeErr
	}
	network, ok := g.registry.Lookup(chainID)
	if !ok {
		return Network{}, fmt.Errorf("chain id %d is not configured", chainID)
	}
	return network, nil
}

type fakePrefs struct {
	account  common.Address
	selected bool
}

func (p *fakePrefs) SelectedAccount() (common.Address, bool) {
	return p.account, p.selected
}

type routerFixture struct {
	router    *Router
	gateway   *fakeGateway
	approvals *approval.Correlator
	prefs     *fakePrefs
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	registry := testRegistry(t)
	gw := &fakeGateway{registry: registry}
	prefs := &fakePrefs{}
	approvals := approval.NewCorrelator(nil, 0)
	resolver := NewResolver(newMemSelectionStore(), registry)
	return &routerFixture{
		router:    NewRouter(resolver, registry, gw, approvals, prefs, nil),
		gateway:   gw,
		approvals: approvals,
		prefs:     prefs,
	}
}

func rawParams(t *testing.T, values ...interface{}) []json.RawMessage {
	t.Helper()
	params := make([]json.RawMessage, 0, len(values))
	for _, value := range values {
		raw, err := json.Marshal(value)
		if err != nil {
			t.Fatalf("marshal param: %v", err)
		}
		params = append(params, raw)
	}
	return params
}

func TestRouteChainIDUsesDefaultWithoutSelection(t *testing.T) {
	fx := newRouterFixture(t)
	result, err := fx.router.Route(context.Background(), "https://dapp.example", "eth_chainId", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result != "0x1" {
		t.Fatalf("expected default chain id 0x1, got %v", result)
	}
}

func TestRouteUnsupportedMethodNeverSilentlySucceeds(t *testing.T) {
	fx := newRouterFixture(t)
	_, err := fx.router.Route(context.Background(), "https://dapp.example", "wallet_getPermissions", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeUnsupportedMethod {
		t.Fatalf("expected unsupported method error, got %v", err)
	}
}

func TestRouteAccountsReturnsEmptyListWhenNoneSelected(t *testing.T) {
	fx := newRouterFixture(t)
	result, err := fx.router.Route(context.Background(), "https://dapp.example", "eth_accounts", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	accounts, ok := result.([]string)
	if !ok || len(accounts) != 0 {
		t.Fatalf("expected empty account list, got %v", result)
	}
}

func TestRouteAccountsReturnsSelection(t *testing.T) {
	fx := newRouterFixture(t)
	fx.prefs.account = common.HexToAddress("0x1111111111111111111111111111111111111111")
	fx.prefs.selected = true
	result, err := fx.router.Route(context.Background(), "https://dapp.example", "eth_accounts", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	accounts := result.([]string)
	if len(accounts) != 1 || accounts[0] != fx.prefs.account.Hex() {
		t.Fatalf("expected selected account, got %v", accounts)
	}
}

func TestRouteSwitchChainUnsupportedFailsAndLeavesSelection(t *testing.T) {
	fx := newRouterFixture(t)
	origin := "https://dapp.example"
	_, err := fx.router.Route(context.Background(), origin, "wallet_switchEthereumChain",
		rawParams(t, map[string]string{"chainId": "0x3e7"}))
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeChainDisconnected {
		t.Fatalf("expected chain disconnected error, got %v", err)
	}
	result, err := fx.router.Route(context.Background(), origin, "eth_chainId", nil)
	if err != nil {
		t.Fatalf("route chain id: %v", err)
	}
	if result != "0x1" {
		t.Fatalf("failed switch must leave selection unchanged, got %v", result)
	}
}

func TestRouteSwitchChainPersistsPerOrigin(t *testing.T) {
	fx := newRouterFixture(t)
	result, err := fx.router.Route(context.Background(), "https://one.example", "wallet_switchEthereumChain",
		rawParams(t, map[string]string{"chainId": "0xaa36a7"}))
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if result != nil {
		t.Fatalf("expected null success marker, got %v", result)
	}
	got, _ := fx.router.Route(context.Background(), "https://one.example", "eth_chainId", nil)
	if got != "0xaa36a7" {
		t.Fatalf("expected switched chain id, got %v", got)
	}
	other, _ := fx.router.Route(context.Background(), "https://two.example", "eth_chainId", nil)
	if other != "0x1" {
		t.Fatalf("other origin must be unaffected, got %v", other)
	}
}

func TestRoutePassThroughForwardsToGateway(t *testing.T) {
	fx := newRouterFixture(t)
	fx.gateway.callResult = json.RawMessage(`"0x1234"`)
	result, err := fx.router.Route(context.Background(), "https://dapp.example", "eth_blockNumber", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if string(result.(json.RawMessage)) != `"0x1234"` {
		t.Fatalf("expected gateway result, got %v", result)
	}
	if len(fx.gateway.calls) != 1 || fx.gateway.calls[0] != "eth_blockNumber" {
		t.Fatalf("expected one forwarded call, got %v", fx.gateway.calls)
	}
}

func TestRouteForChainPinsRequestNetwork(t *testing.T) {
	fx := newRouterFixture(t)
	result, err := fx.router.RouteForChain(context.Background(), "https://dapp.example", 11155111, "eth_chainId", nil)
	if err != nil {
		t.Fatalf("route for chain: %v", err)
	}
	if result != "0xaa36a7" {
		t.Fatalf("expected the addressed chain id, got %v", result)
	}
	// Pinning is per request; the origin's active network is untouched.
	if got, _ := fx.router.Route(context.Background(), "https://dapp.example", "eth_chainId", nil); got != "0x1" {
		t.Fatalf("pinned routing must not change the selection, got %v", got)
	}
}

func TestRouteForChainRejectsUnsupportedChain(t *testing.T) {
	fx := newRouterFixture(t)
	_, err := fx.router.RouteForChain(context.Background(), "https://dapp.example", 137, "eth_chainId", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeChainDisconnected {
		t.Fatalf("expected chain disconnected error, got %v", err)
	}
}

func TestRouteForChainZeroFallsBackToOrigin(t *testing.T) {
	fx := newRouterFixture(t)
	result, err := fx.router.RouteForChain(context.Background(), "https://dapp.example", 0, "eth_chainId", nil)
	if err != nil {
		t.Fatalf("route for chain: %v", err)
	}
	if result != "0x1" {
		t.Fatalf("expected the origin's active network, got %v", result)
	}
}

// settle drives the UI side of one approval from a test goroutine.
func settle(t *testing.T, approvals *approval.Correlator, result interface{}, reject bool) <-chan approval.Request {
	t.Helper()
	events, cancel := approvals.Subscribe(1)
	seen := make(chan approval.Request, 1)
	go func() {
		defer cancel()
		select {
		case event := <-events:
			if reject {
				_ = approvals.Reject(event.ID)
			} else {
				raw, _ := json.Marshal(result)
				_ = approvals.Resolve(event.ID, raw)
			}
			seen <- event
		case <-time.After(5 * time.Second):
		}
	}()
	return seen
}

func TestRouteSendTransactionBroadcastsOnce(t *testing.T) {
	fx := newRouterFixture(t)
	signed := hexutil.Bytes{0xde, 0xad}
	seen := settle(t, fx.approvals, signed, false)

	result, err := fx.router.Route(context.Background(), "https://dapp.example", "eth_sendTransaction",
		rawParams(t, map[string]string{
			"from":  "0x1111111111111111111111111111111111111111",
			"gas":   "0x5208",
			"input": "0xabc0",
		}))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result.(common.Hash) != common.HexToHash("0xfeed") {
		t.Fatalf("expected broadcast hash, got %v", result)
	}
	if len(fx.gateway.broadcasts) != 1 {
		t.Fatalf("expected exactly one broadcast, got %d", len(fx.gateway.broadcasts))
	}

	event := <-seen
	tx, ok := event.Payload.(*TxRequest)
	if !ok {
		t.Fatalf("expected TxRequest payload, got %T", event.Payload)
	}
	if tx.GasLimit == nil || uint64(*tx.GasLimit) != 0x5208 {
		t.Fatalf("expected gas limit 0x5208, got %v", tx.GasLimit)
	}
	if tx.Data.String() != "0xabc0" {
		t.Fatalf("expected input promoted to data, got %s", tx.Data)
	}
}

func TestRouteSendTransactionUserRejection(t *testing.T) {
	fx := newRouterFixture(t)
	settle(t, fx.approvals, nil, true)

	_, err := fx.router.Route(context.Background(), "https://dapp.example", "eth_sendTransaction",
		rawParams(t, map[string]string{"from": "0x1111111111111111111111111111111111111111"}))
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeUserRejected {
		t.Fatalf("expected user rejection, got %v", err)
	}
	if len(fx.gateway.broadcasts) != 0 {
		t.Fatalf("rejected transaction must not broadcast")
	}
}

func TestRouteStripsAnnotationFromUntrustedOrigin(t *testing.T) {
	fx := newRouterFixture(t)
	seen := settle(t, fx.approvals, hexutil.Bytes{0x01}, false)

	_, err := fx.router.Route(context.Background(), "https://dapp.example", "eth_sendTransaction",
		rawParams(t, map[string]interface{}{
			"from":       "0x1111111111111111111111111111111111111111",
			"annotation": map[string]string{"bundleId": "precomputed"},
		}))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	event := <-seen
	if tx := event.Payload.(*TxRequest); tx.Annotation != nil {
		t.Fatalf("annotation from untrusted origin must be stripped, got %s", tx.Annotation)
	}
}

func TestRouteKeepsAnnotationFromInternalOrigin(t *testing.T) {
	fx := newRouterFixture(t)
	seen := settle(t, fx.approvals, hexutil.Bytes{0x01}, false)

	_, err := fx.router.Route(context.Background(), OriginInternal, "eth_sendTransaction",
		rawParams(t, map[string]interface{}{
			"from":       "0x1111111111111111111111111111111111111111",
			"annotation": map[string]string{"bundleId": "precomputed"},
		}))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	event := <-seen
	if tx := event.Payload.(*TxRequest); tx.Annotation == nil {
		t.Fatalf("annotation from the internal origin must be honored")
	}
}

func TestRoutePersonalSignReturnsSignature(t *testing.T) {
	fx := newRouterFixture(t)
	signature := hexutil.Bytes{0xbe, 0xef}
	settle(t, fx.approvals, signature, false)

	result, err := fx.router.Route(context.Background(), "https://dapp.example", "personal_sign",
		rawParams(t, "0x68656c6c6f", "0x1111111111111111111111111111111111111111"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got := result.(hexutil.Bytes); got.String() != signature.String() {
		t.Fatalf("expected signature %s, got %s", signature, got)
	}
}

func TestRouteSignTypedDataValidatesJSON(t *testing.T) {
	fx := newRouterFixture(t)
	_, err := fx.router.Route(context.Background(), "https://dapp.example", "eth_signTypedData_v4",
		rawParams(t, "0x1111111111111111111111111111111111111111", "{not json"))
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params, got %v", err)
	}
}

func TestConcurrentApprovalsAreIndependent(t *testing.T) {
	fx := newRouterFixture(t)
	events, cancel := fx.approvals.Subscribe(4)
	defer cancel()

	type outcome struct {
		origin string
		err    error
	}
	results := make(chan outcome, 2)
	for _, origin := range []string{"https://one.example", "https://two.example"} {
		go func(origin string) {
			_, err := fx.router.Route(context.Background(), origin, "eth_sendTransaction",
				rawParams(t, map[string]string{"from": "0x1111111111111111111111111111111111111111"}))
			results <- outcome{origin: origin, err: err}
		}(origin)
	}

	// Settle the second-opened approval first: out-of-order decisions must
	// reach their own callers.
	first := <-events
	second := <-events
	raw, _ := json.Marshal(hexutil.Bytes{0x01})
	if err := fx.approvals.Resolve(second.ID, raw); err != nil {
		t.Fatalf("resolve second: %v", err)
	}
	if err := fx.approvals.Reject(first.ID); err != nil {
		t.Fatalf("reject first: %v", err)
	}

	sawRejection := false
	sawSuccess := false
	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			sawRejection = true
		} else {
			sawSuccess = true
		}
	}
	if !sawRejection || !sawSuccess {
		t.Fatalf("expected one approval and one rejection across concurrent requests")
	}
}
