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

// LegacyAdapter speaks WalletConnect v1: a bridge server per pairing URI,
// pub/sub topics, and plain JSON-RPC payloads. Responses are posted straight
// back to the peer topic the request arrived from.
type LegacyAdapter struct {
	logger         *slog.Logger
	meta           PeerMeta
	defaultChainID uint64
	dial           func(ctx context.Context, bridgeURL string, logger *slog.Logger) (Transport, error)

	mu       sync.Mutex
	sessions map[string]*legacySession
	messages chan Message
}

// legacySession tracks one v1 pairing. The wallet listens on its own client
// id topic; responses go to the peer's id.
type legacySession struct {
	transport Transport
	clientID  string
	peerID    string
	peer      PeerMeta
	chainID   uint64
	approved  bool
}

// NewLegacyAdapter builds the v1 adapter. The default chain id is used when
// a peer's session request omits one, which v1 dApps routinely do.
func NewLegacyAdapter(meta PeerMeta, defaultChainID uint64, logger *slog.Logger) *LegacyAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LegacyAdapter{
		logger:         logger.With(slog.String("component", "wc-v1")),
		meta:           meta,
		defaultChainID: defaultChainID,
		dial:           dialLegacy,
		sessions:       make(map[string]*legacySession),
		messages:       make(chan Message, messageChanBacklog),
	}
}

func dialLegacy(ctx context.Context, bridgeURL string, logger *slog.Logger) (Transport, error) {
	return DialLegacyBridge(ctx, bridgeURL, logger)
}

func (a *LegacyAdapter) Version() int { return 1 }

// Messages aggregates payloads from every paired bridge connection.
func (a *LegacyAdapter) Messages() <-chan Message { return a.messages }

// Pair dials the bridge named in the URI and subscribes to the handshake
// topic plus a freshly generated client id for this pairing.
func (a *LegacyAdapter) Pair(ctx context.Context, uri URI) error {
	bridgeURL := uri.Params.Get("bridge")
	if bridgeURL == "" {
		return fmt.Errorf("v1 uri missing bridge parameter")
	}
	transport, err := a.dial(ctx, bridgeURL, a.logger)
	if err != nil {
		return err
	}
	clientID := uuid.NewString()
	session := &legacySession{transport: transport, clientID: clientID, chainID: a.defaultChainID}

	a.mu.Lock()
	a.sessions[uri.Topic] = session
	a.sessions[clientID] = session
	a.mu.Unlock()

	if err := transport.Subscribe(ctx, uri.Topic); err != nil {
		return fmt.Errorf("subscribe handshake topic: %w", err)
	}
	if err := transport.Subscribe(ctx, clientID); err != nil {
		return fmt.Errorf("subscribe client topic: %w", err)
	}
	go a.forward(transport)
	return nil
}

func (a *LegacyAdapter) forward(transport Transport) {
	for msg := range transport.Messages() {
		a.messages <- msg
	}
}

// snapshot copies the session state under the adapter lock. Session structs
// are only ever read through copies; mutation happens under the same lock.
func (a *LegacyAdapter) snapshot(topic string) (legacySession, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	session, ok := a.sessions[topic]
	if !ok {
		return legacySession{}, false
	}
	return *session, true
}

type v1SessionRequestParams struct {
	PeerID   string   `json:"peerId"`
	PeerMeta PeerMeta `json:"peerMeta"`
	ChainID  *uint64  `json:"chainId"`
}

// TranslateProposal recognises the v1 handshake (wc_sessionRequest) and
// reduces it to the shared proposal shape.
func (a *LegacyAdapter) TranslateProposal(env Envelope) (*SessionProposal, error) {
	if env.Method != "wc_sessionRequest" {
		return nil, nil
	}
	var params []v1SessionRequestParams
	if err := json.Unmarshal(env.Params, &params); err != nil || len(params) == 0 {
		return nil, fmt.Errorf("malformed wc_sessionRequest params")
	}
	peer := sanitizePeer(params[0].PeerMeta)
	chainID := a.defaultChainID
	if params[0].ChainID != nil && *params[0].ChainID != 0 {
		chainID = *params[0].ChainID
	}

	a.mu.Lock()
	session, ok := a.sessions[env.Topic]
	if !ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("session request on unknown topic %q", env.Topic)
	}
	session.peerID = params[0].PeerID
	session.peer = peer
	session.chainID = chainID
	a.mu.Unlock()

	return &SessionProposal{
		Version: 1,
		Topic:   env.Topic,
		ID:      env.ID,
		Peer:    peer,
		Chains:  []uint64{chainID},
	}, nil
}

// TranslateRequest maps a v1 session call onto the shared request shape.
// Only approved sessions may issue calls.
func (a *LegacyAdapter) TranslateRequest(env Envelope, origin string) (*TranslatedRequest, error) {
	session, ok := a.snapshot(env.Topic)
	if !ok || !session.approved {
		return nil, fmt.Errorf("request on unpaired topic %q", env.Topic)
	}
	var params []json.RawMessage
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, &params); err != nil {
			return nil, fmt.Errorf("malformed v1 request params: %w", err)
		}
	}
	return &TranslatedRequest{
		Version:   1,
		Topic:     env.Topic,
		RequestID: env.ID,
		Method:    env.Method,
		Params:    params,
		Origin:    session.peer.URL,
		ChainID:   session.chainID,
	}, nil
}

type v1ApproveResult struct {
	PeerID   string   `json:"peerId"`
	PeerMeta PeerMeta `json:"peerMeta"`
	Approved bool     `json:"approved"`
	ChainID  uint64   `json:"chainId"`
	Accounts []string `json:"accounts"`
}

// Approve acknowledges the handshake with the selected accounts.
func (a *LegacyAdapter) Approve(ctx context.Context, proposal *SessionProposal, accounts []string) error {
	a.mu.Lock()
	session, ok := a.sessions[proposal.Topic]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("approve on unknown topic %q", proposal.Topic)
	}
	session.approved = true
	settled := *session
	a.mu.Unlock()

	result := v1ApproveResult{
		PeerID:   settled.clientID,
		PeerMeta: a.meta,
		Approved: true,
		ChainID:  settled.chainID,
		Accounts: accounts,
	}
	return a.post(ctx, settled, proposal.ID, result, nil)
}

// Reject declines the handshake and forgets the pairing.
func (a *LegacyAdapter) Reject(ctx context.Context, proposal *SessionProposal) error {
	a.mu.Lock()
	session, ok := a.sessions[proposal.Topic]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("reject on unknown topic %q", proposal.Topic)
	}
	settled := *session
	a.mu.Unlock()

	err := a.post(ctx, settled, proposal.ID, nil, wallet.ErrUserRejected())
	a.drop(session)
	return err
}

// Respond posts the settled result for one session call back to the waiting
// peer.
func (a *LegacyAdapter) Respond(ctx context.Context, req *TranslatedRequest, result interface{}, rpcErr *wallet.RPCError) error {
	session, ok := a.snapshot(req.Topic)
	if !ok {
		return fmt.Errorf("respond on unknown topic %q", req.Topic)
	}
	return a.post(ctx, session, req.RequestID, result, rpcErr)
}

func (a *LegacyAdapter) post(ctx context.Context, session legacySession, id int64, result interface{}, rpcErr *wallet.RPCError) error {
	if session.peerID == "" {
		return fmt.Errorf("session has no peer id yet")
	}
	payload, err := marshalResponse(id, result, rpcErr)
	if err != nil {
		return err
	}
	return session.transport.Publish(ctx, session.peerID, payload)
}

func (a *LegacyAdapter) drop(session *legacySession) {
	a.mu.Lock()
	for topic, candidate := range a.sessions {
		if candidate == session {
			delete(a.sessions, topic)
		}
	}
	a.mu.Unlock()
	if err := session.transport.Close(); err != nil {
		a.logger.Debug("close legacy transport", slog.Any("error", err))
	}
}

func marshalResponse(id int64, result interface{}, rpcErr *wallet.RPCError) ([]byte, error) {
	envelope := map[string]interface{}{"id": id, "jsonrpc": "2.0"}
	if rpcErr != nil {
		envelope["error"] = rpcErr
	} else {
		envelope["result"] = result
	}
	return json.Marshal(envelope)
}
