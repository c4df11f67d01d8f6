package walletconnect

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"walletd/observability"
	"walletd/observability/logging"
	"walletd/wallet"
	"walletd/wallet/approval"
)

// Bridge owns the pairing and session lifecycle for both protocol versions
// simultaneously. Translated requests flow through the same router and
// approval registry as direct RPC traffic; only response posting stays
// protocol-specific.
type Bridge struct {
	router *wallet.Router
	v1     *LegacyAdapter
	v2     *V2Adapter
	logger *slog.Logger
}

// NewBridge wires the bridge to the broker's router and both adapters.
// Either adapter may be nil when its protocol is disabled.
func NewBridge(router *wallet.Router, v1 *LegacyAdapter, v2 *V2Adapter, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		router: router,
		v1:     v1,
		v2:     v2,
		logger: logger.With(slog.String("component", "wc-bridge")),
	}
}

// Pair bootstraps a connection from a pairing URI. The version tag embedded
// in the URI selects the protocol stack; an unrecognized version is logged
// and dropped, never fatal to the bridge.
func (b *Bridge) Pair(ctx context.Context, raw string) error {
	uri, err := ParseURI(raw)
	if err != nil {
		return err
	}
	switch uri.Version {
	case 1:
		if b.v1 == nil {
			b.logger.Warn("v1 pairing requested but legacy support is disabled")
			return nil
		}
		return b.v1.Pair(ctx, uri)
	case 2:
		if b.v2 == nil {
			b.logger.Warn("v2 pairing requested but relay support is disabled")
			return nil
		}
		return b.v2.Pair(ctx, uri)
	default:
		b.logger.Warn("unrecognized walletconnect version", slog.Int("version", uri.Version))
		return nil
	}
}

// Run pumps inbound relay messages into the session machinery until the
// context ends. Each message is handled on its own goroutine so a request
// suspended on user approval never blocks the next peer.
func (b *Bridge) Run(ctx context.Context) {
	var v1Messages, v2Messages <-chan Message
	if b.v1 != nil {
		v1Messages = b.v1.Messages()
	}
	if b.v2 != nil {
		v2Messages = b.v2.Messages()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-v1Messages:
			if !ok {
				v1Messages = nil
				continue
			}
			go b.dispatch(ctx, b.v1, msg)
		case msg, ok := <-v2Messages:
			if !ok {
				v2Messages = nil
				continue
			}
			go b.dispatch(ctx, b.v2, msg)
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context, adapter Adapter, msg Message) {
	env, err := decodeEnvelope(msg.Topic, msg.Payload)
	if err != nil {
		// Malformed input is dropped without a response; the peer times out.
		b.logger.Debug("dropping undecodable relay message",
			slog.String("topic", msg.Topic),
			logging.MaskField("payload", string(msg.Payload)),
			slog.Any("error", err),
		)
		return
	}
	proposal, err := adapter.TranslateProposal(env)
	if err != nil {
		b.logger.Debug("dropping malformed session proposal",
			slog.String("topic", msg.Topic),
			slog.Any("error", err),
		)
		return
	}
	if proposal != nil {
		b.handleProposal(ctx, adapter, proposal)
		return
	}
	request, err := adapter.TranslateRequest(env, "")
	if err != nil {
		b.logger.Debug("dropping untranslatable session request",
			slog.String("topic", msg.Topic),
			slog.String("method", env.Method),
			slog.Any("error", err),
		)
		return
	}
	b.handleRequest(ctx, adapter, request)
}

// handleProposal drives one session proposal to a terminal state. A proposal
// whose required namespaces omit eip155 is rejected without acknowledgment;
// everything else waits for the user's account selection.
func (b *Bridge) handleProposal(ctx context.Context, adapter Adapter, proposal *SessionProposal) {
	version := strconv.Itoa(adapter.Version())
	b.logger.Debug("session proposal received",
		slog.String("topic", proposal.Topic),
		slog.String("state", ProposalReceived.String()),
	)

	if len(proposal.Chains) == 0 {
		b.logger.Info("session proposal lacks a supported chain namespace",
			slog.String("topic", proposal.Topic),
			slog.String("peer", proposal.Peer.URL),
			slog.String("state", ProposalRejected.String()),
		)
		observability.Broker().RecordSession(version, "rejected")
		if err := adapter.Reject(ctx, proposal); err != nil {
			b.logger.Warn("post proposal rejection", slog.Any("error", err))
		}
		return
	}
	b.logger.Debug("session proposal awaiting account selection",
		slog.String("topic", proposal.Topic),
		slog.String("state", AwaitingAccountSelection.String()),
	)
	_, done := b.router.Approvals().Open(approval.KindSessionProposal, proposal.Peer.URL, proposal)
	raw, err := approval.Await(ctx, done)
	if err != nil {
		observability.Broker().RecordSession(version, "rejected")
		if rejectErr := adapter.Reject(ctx, proposal); rejectErr != nil {
			b.logger.Warn("post proposal rejection", slog.Any("error", rejectErr))
		}
		return
	}

	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil || len(accounts) == 0 {
		b.logger.Error("approval produced no usable account selection",
			slog.String("topic", proposal.Topic),
			slog.Any("error", err),
		)
		observability.Broker().RecordSession(version, "rejected")
		if rejectErr := adapter.Reject(ctx, proposal); rejectErr != nil {
			b.logger.Warn("post proposal rejection", slog.Any("error", rejectErr))
		}
		return
	}

	if err := adapter.Approve(ctx, proposal, accounts); err != nil {
		b.logger.Error("acknowledge session proposal", slog.Any("error", err))
		observability.Broker().RecordSession(version, "error")
		return
	}
	observability.Broker().RecordSession(version, "acknowledged")
	b.logger.Info("session acknowledged",
		slog.String("topic", proposal.Topic),
		slog.String("peer", proposal.Peer.URL),
		slog.String("state", ProposalAcknowledged.String()),
	)
}

// handleRequest routes one translated request on the chain it is addressed
// to and posts the protocol-correct response. Approved and rejected outcomes
// travel the same branch; the adapter decides the wire shape.
func (b *Bridge) handleRequest(ctx context.Context, adapter Adapter, req *TranslatedRequest) {
	result, err := b.router.RouteForChain(ctx, req.Origin, req.ChainID, req.Method, req.Params)
	rpcErr := wallet.AsRPCError(err)
	if respondErr := adapter.Respond(ctx, req, result, rpcErr); respondErr != nil {
		b.logger.Error("post session response",
			slog.String("topic", req.Topic),
			slog.Int64("requestId", req.RequestID),
			slog.Any("error", respondErr),
		)
	}
}
