package walletconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"walletd/wallet"
)

// v2 relay-level user rejection code defined by the WalletConnect protocol.
const v2UserRejectedCode = 5000

// V2Adapter speaks WalletConnect v2: one shared relay connection, session
// proposals with CAIP-2 namespaces, and topic-addressed responses.
type V2Adapter struct {
	transport Transport
	logger    *slog.Logger
	meta      PeerMeta
	publicKey string

	mu       sync.Mutex
	sessions map[string]*v2Session
}

type v2Session struct {
	topic    string
	peer     PeerMeta
	chains   []uint64
	methods  []string
	events   []string
	approved bool
}

// NewV2Adapter builds the v2 adapter over an established relay transport.
func NewV2Adapter(transport Transport, meta PeerMeta, logger *slog.Logger) *V2Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &V2Adapter{
		transport: transport,
		logger:    logger.With(slog.String("component", "wc-v2")),
		meta:      meta,
		publicKey: uuid.NewString(),
		sessions:  make(map[string]*v2Session),
	}
}

func (a *V2Adapter) Version() int { return 2 }

// Messages exposes the relay's inbound payload stream.
func (a *V2Adapter) Messages() <-chan Message { return a.transport.Messages() }

// Pair subscribes to the pairing topic. The call is awaited: a subscribe
// failure fails the pairing rather than leaving a half-open state.
func (a *V2Adapter) Pair(ctx context.Context, uri URI) error {
	if err := a.transport.Subscribe(ctx, uri.Topic); err != nil {
		return fmt.Errorf("subscribe pairing topic: %w", err)
	}
	a.mu.Lock()
	a.sessions[uri.Topic] = &v2Session{topic: uri.Topic}
	a.mu.Unlock()
	return nil
}

// snapshot copies the session state under the adapter lock. Session structs
// are only ever read through copies; mutation happens under the same lock.
func (a *V2Adapter) snapshot(topic string) (v2Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	session, ok := a.sessions[topic]
	if !ok {
		return v2Session{}, false
	}
	return *session, true
}

type v2Namespace struct {
	Chains  []string `json:"chains,omitempty"`
	Methods []string `json:"methods,omitempty"`
	Events  []string `json:"events,omitempty"`
}

type v2Proposer struct {
	PublicKey string   `json:"publicKey"`
	Metadata  PeerMeta `json:"metadata"`
}

type v2ProposeParams struct {
	Proposer           v2Proposer             `json:"proposer"`
	RequiredNamespaces map[string]v2Namespace `json:"requiredNamespaces"`
	OptionalNamespaces map[string]v2Namespace `json:"optionalNamespaces,omitempty"`
}

// TranslateProposal recognises wc_sessionPropose and reduces it to the
// shared proposal shape. Only the eip155 namespace is understood; chains
// from any other namespace are ignored, so a proposal without eip155 comes
// out with no chains at all and gets rejected by the bridge.
func (a *V2Adapter) TranslateProposal(env Envelope) (*SessionProposal, error) {
	if env.Method != "wc_sessionPropose" {
		return nil, nil
	}
	var params v2ProposeParams
	if err := json.Unmarshal(env.Params, &params); err != nil {
		return nil, fmt.Errorf("malformed wc_sessionPropose params: %w", err)
	}
	proposal := &SessionProposal{
		Version: 2,
		Topic:   env.Topic,
		ID:      env.ID,
		Peer:    sanitizePeer(params.Proposer.Metadata),
	}
	for key, namespace := range params.RequiredNamespaces {
		if chainID, ok := parseCAIP2Chain(key); ok {
			// Namespace keys of the form "eip155:1" imply their chain.
			proposal.Chains = append(proposal.Chains, chainID)
		}
		for _, ref := range namespace.Chains {
			if chainID, ok := parseCAIP2Chain(ref); ok {
				proposal.Chains = append(proposal.Chains, chainID)
			}
		}
		if key == "eip155" || len(namespace.Chains) > 0 {
			proposal.Methods = append(proposal.Methods, namespace.Methods...)
			proposal.Events = append(proposal.Events, namespace.Events...)
		}
	}
	return proposal, nil
}

type v2RequestPayload struct {
	Request struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	} `json:"request"`
	ChainID string `json:"chainId"`
}

// TranslateRequest maps wc_sessionRequest onto the shared request shape.
func (a *V2Adapter) TranslateRequest(env Envelope, origin string) (*TranslatedRequest, error) {
	if env.Method != "wc_sessionRequest" {
		return nil, fmt.Errorf("unexpected v2 method %q", env.Method)
	}
	session, ok := a.snapshot(env.Topic)
	if !ok || !session.approved {
		return nil, fmt.Errorf("request on unsettled topic %q", env.Topic)
	}
	var payload v2RequestPayload
	if err := json.Unmarshal(env.Params, &payload); err != nil {
		return nil, fmt.Errorf("malformed wc_sessionRequest params: %w", err)
	}
	if payload.Request.Method == "" {
		return nil, fmt.Errorf("wc_sessionRequest missing method")
	}
	var params []json.RawMessage
	if len(payload.Request.Params) > 0 {
		if err := json.Unmarshal(payload.Request.Params, &params); err != nil {
			return nil, fmt.Errorf("malformed inner request params: %w", err)
		}
	}
	chainID, _ := parseCAIP2Chain(payload.ChainID)
	return &TranslatedRequest{
		Version:   2,
		Topic:     env.Topic,
		RequestID: env.ID,
		Method:    payload.Request.Method,
		Params:    params,
		Origin:    session.peer.URL,
		ChainID:   chainID,
	}, nil
}

type v2ApproveResult struct {
	Relay              map[string]string `json:"relay"`
	ResponderPublicKey string            `json:"responderPublicKey"`
}

type v2SettleParams struct {
	Namespaces map[string]v2SettledNamespace `json:"namespaces"`
	Controller v2Proposer                    `json:"controller"`
}

type v2SettledNamespace struct {
	Accounts []string `json:"accounts"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
}

// Approve acknowledges the proposal on its topic and settles the session
// with the selected accounts rendered as CAIP-10 references.
func (a *V2Adapter) Approve(ctx context.Context, proposal *SessionProposal, accounts []string) error {
	a.mu.Lock()
	session, ok := a.sessions[proposal.Topic]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("approve on unknown topic %q", proposal.Topic)
	}
	session.peer = proposal.Peer
	session.chains = proposal.Chains
	session.methods = proposal.Methods
	session.events = proposal.Events
	session.approved = true
	a.mu.Unlock()

	ack, err := marshalResponse(proposal.ID, v2ApproveResult{
		Relay:              map[string]string{"protocol": "irn"},
		ResponderPublicKey: a.publicKey,
	}, nil)
	if err != nil {
		return err
	}
	if err := a.transport.Publish(ctx, proposal.Topic, ack); err != nil {
		return fmt.Errorf("acknowledge proposal: %w", err)
	}

	namespaced := make([]string, 0, len(accounts)*len(proposal.Chains))
	for _, chainID := range proposal.Chains {
		for _, account := range accounts {
			namespaced = append(namespaced, formatCAIP10Account(chainID, account))
		}
	}
	settle := map[string]interface{}{
		"id":      proposal.ID + 1,
		"jsonrpc": "2.0",
		"method":  "wc_sessionSettle",
		"params": v2SettleParams{
			Namespaces: map[string]v2SettledNamespace{
				"eip155": {Accounts: namespaced, Methods: proposal.Methods, Events: proposal.Events},
			},
			Controller: v2Proposer{PublicKey: a.publicKey, Metadata: a.meta},
		},
	}
	payload, err := json.Marshal(settle)
	if err != nil {
		return err
	}
	if err := a.transport.Publish(ctx, proposal.Topic, payload); err != nil {
		return fmt.Errorf("settle session: %w", err)
	}
	return nil
}

// Reject answers the proposal with the protocol's user-rejection code and
// forgets the pairing.
func (a *V2Adapter) Reject(ctx context.Context, proposal *SessionProposal) error {
	payload, err := marshalResponse(proposal.ID, nil, &wallet.RPCError{
		Code:    v2UserRejectedCode,
		Message: "user rejected",
	})
	if err != nil {
		return err
	}
	a.mu.Lock()
	delete(a.sessions, proposal.Topic)
	a.mu.Unlock()
	return a.transport.Publish(ctx, proposal.Topic, payload)
}

// Respond posts the settled result with a topic-addressed publish.
func (a *V2Adapter) Respond(ctx context.Context, req *TranslatedRequest, result interface{}, rpcErr *wallet.RPCError) error {
	payload, err := marshalResponse(req.RequestID, result, rpcErr)
	if err != nil {
		return err
	}
	return a.transport.Publish(ctx, req.Topic, payload)
}
