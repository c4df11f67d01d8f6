// Package walletconnect bridges WalletConnect pairings to the wallet's
// request broker. Legacy v1 and current v2 peers speak incompatible wire
// protocols; both are normalized into one internal request shape so
// everything downstream of translation is version-agnostic.
package walletconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"walletd/wallet"
)

// PeerMeta describes the remote dApp behind a pairing.
type PeerMeta struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons,omitempty"`
}

// SessionProposal is a requested pairing, already reduced to the fields the
// approval flow needs. A rejected or timed-out proposal is simply discarded;
// there is no partial or resumable state.
type SessionProposal struct {
	Version int      `json:"version"`
	Topic   string   `json:"topic"`
	ID      int64    `json:"id"`
	Peer    PeerMeta `json:"peer"`
	Chains  []uint64 `json:"chains"`
	Methods []string `json:"methods,omitempty"`
	Events  []string `json:"events,omitempty"`
}

// TranslatedRequest is the protocol-agnostic shape both adapters produce.
// Only response posting remains protocol-specific.
type TranslatedRequest struct {
	Version   int
	Topic     string
	RequestID int64
	Method    string
	Params    []json.RawMessage
	Origin    string
	ChainID   uint64
}

// ProposalState tracks a session proposal through its lifecycle. Rejection
// and acknowledgment are terminal.
type ProposalState int

const (
	ProposalReceived ProposalState = iota
	NamespaceValidated
	AwaitingAccountSelection
	ProposalAcknowledged
	ProposalRejected
)

func (s ProposalState) String() string {
	switch s {
	case ProposalReceived:
		return "received"
	case NamespaceValidated:
		return "namespace_validated"
	case AwaitingAccountSelection:
		return "awaiting_account_selection"
	case ProposalAcknowledged:
		return "acknowledged"
	case ProposalRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Adapter is implemented once per protocol version. Translation failures
// return an error and the bridge drops the message without responding; the
// remote peer times out, which is the accepted failure mode for malformed
// input.
type Adapter interface {
	Version() int
	Pair(ctx context.Context, uri URI) error
	TranslateProposal(env Envelope) (*SessionProposal, error)
	TranslateRequest(env Envelope, origin string) (*TranslatedRequest, error)
	Approve(ctx context.Context, proposal *SessionProposal, accounts []string) error
	Reject(ctx context.Context, proposal *SessionProposal) error
	Respond(ctx context.Context, req *TranslatedRequest, result interface{}, rpcErr *wallet.RPCError) error
}

// Envelope is one decoded JSON-RPC frame received on a relay topic.
type Envelope struct {
	Topic   string
	ID      int64             `json:"id"`
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  json.RawMessage   `json:"params"`
	Result  json.RawMessage   `json:"result"`
	Error   json.RawMessage   `json:"error"`
}

func decodeEnvelope(topic string, payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode relay payload: %w", err)
	}
	env.Topic = topic
	return env, nil
}

// sanitizePeer strips a peer identity that collides with the trusted
// internal origin. Peer metadata is attacker-controlled; nothing a remote
// peer sends may ever be attributed to the internal caller.
func sanitizePeer(meta PeerMeta) PeerMeta {
	if meta.URL == wallet.OriginInternal {
		meta.URL = ""
	}
	return meta
}

// parseCAIP2Chain extracts the chain id from an "eip155:<id>" reference.
// References outside the eip155 namespace return false.
func parseCAIP2Chain(ref string) (uint64, bool) {
	parts := strings.SplitN(strings.TrimSpace(ref), ":", 2)
	if len(parts) != 2 || parts[0] != "eip155" {
		return 0, false
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// formatCAIP10Account renders an account for a chain the v2 way.
func formatCAIP10Account(chainID uint64, account string) string {
	return fmt.Sprintf("eip155:%d:%s", chainID, account)
}
