package rpc

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"walletd/wallet/approval"
)

const wsWriteTimeout = 10 * time.Second

// handleApprovalsWS streams approval events to the trusted UI. The backlog
// of already-pending approvals is replayed first so a reconnecting UI never
// misses a decision it still owes.
func (s *Server) handleApprovalsWS(w http.ResponseWriter, r *http.Request) {
	if authErr := s.requireAuth(r); authErr != nil {
		http.Error(w, authErr.Message, http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	if err := s.streamApprovals(r.Context(), conn); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamApprovals(ctx context.Context, conn *websocket.Conn) error {
	// Snapshot and subscription are atomic so an approval opened while the
	// UI connects is delivered exactly once.
	backlog, events, cancel := s.approvals.SubscribeWithBacklog(16)
	defer cancel()

	for _, pending := range backlog {
		if err := writeApprovalEvent(ctx, conn, pending); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeApprovalEvent(ctx, conn, event); err != nil {
				return err
			}
		}
	}
}

func writeApprovalEvent(ctx context.Context, conn *websocket.Conn, event approval.Request) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, event)
}
