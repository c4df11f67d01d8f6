// Package rpc is the broker's front door: it accepts JSON-RPC requests from
// untrusted web origins, attributes each one to its origin, and hands it to
// the method router. It also carries the authenticated UI surface used to
// settle pending approvals.
package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"walletd/wallet"
	"walletd/wallet/approval"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	originHeader        = "X-Wallet-Origin"
	defaultOriginPerSec = 25
	defaultOriginBurst  = 50
	serverReadTimeout   = 30 * time.Second
	serverWriteTimeout  = 120 * time.Second
)

// Server serves the inbound RPC surface and the UI approval surface on one
// listener.
type Server struct {
	router    *wallet.Router
	approvals *approval.Correlator
	authToken string
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	httpServer *http.Server
}

// NewServer constructs the front door. The auth token gates the UI methods
// and the approval event stream; an empty token disables them entirely.
func NewServer(router *wallet.Router, authToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		router:    router,
		approvals: router.Approvals(),
		authToken: strings.TrimSpace(authToken),
		logger:    logger.With(slog.String("component", "rpc")),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Handler builds the HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Post("/", s.handleRPC)
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Method(http.MethodGet, "/metrics", promhttp.Handler())
	mux.Get("/ws/approvals", s.handleApprovalsWS)
	return mux
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}
	s.logger.Info("rpc server listening", slog.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// RPCRequest is the inbound JSON-RPC envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

// RPCResponse is the outbound envelope.
type RPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id"`
	Result  interface{}      `json:"result,omitempty"`
	Error   *wallet.RPCError `json:"error,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, rpcErr *wallet.RPCError) {
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// originOf attributes a request to its origin. The trusted internal origin
// constant is never accepted from the network path: presenting it here is a
// masquerade attempt and yields an empty origin instead.
func originOf(r *http.Request) string {
	origin := strings.TrimSpace(r.Header.Get(originHeader))
	if origin == "" {
		origin = strings.TrimSpace(r.Header.Get("Origin"))
	}
	if origin == wallet.OriginInternal {
		return ""
	}
	return origin
}

func (s *Server) limiterFor(origin string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[origin]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(defaultOriginPerSec), defaultOriginBurst)
		s.limiters[origin] = limiter
	}
	return limiter
}

func (s *Server) requireAuth(r *http.Request) *wallet.RPCError {
	if s.authToken == "" {
		return &wallet.RPCError{Code: wallet.CodeUnauthorized, Message: "ui surface disabled"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &wallet.RPCError{Code: wallet.CodeUnauthorized, Message: "unauthorized"}
	}
	return nil
}

// handle is the main request handler.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, &wallet.RPCError{Code: wallet.CodeInvalidRequest, Message: message})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, &wallet.RPCError{Code: wallet.CodeInvalidRequest, Message: "request body required"})
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, &wallet.RPCError{Code: wallet.CodeParseError, Message: "invalid JSON payload", Data: err.Error()})
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, &wallet.RPCError{Code: wallet.CodeInvalidRequest, Message: "unsupported jsonrpc version", Data: req.JSONRPC})
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, &wallet.RPCError{Code: wallet.CodeInvalidRequest, Message: "method required"})
		return
	}

	switch req.Method {
	case "wallet_pendingApprovals", "wallet_approve", "wallet_reject":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr)
			return
		}
		s.handleUIMethod(w, req)
		return
	}

	origin := originOf(r)
	if !s.limiterFor(origin).Allow() {
		writeError(w, http.StatusTooManyRequests, req.ID, &wallet.RPCError{Code: wallet.CodeServerError, Message: "rate limited"})
		return
	}

	result, err := s.router.Route(r.Context(), origin, req.Method, req.Params)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, wallet.AsRPCError(err))
		return
	}
	writeResult(w, req.ID, result)
}

// handleUIMethod serves the trusted UI. Requests that pass auth act with the
// internal origin; they are the only legitimate callers of resolve/reject.
func (s *Server) handleUIMethod(w http.ResponseWriter, req *RPCRequest) {
	switch req.Method {
	case "wallet_pendingApprovals":
		writeResult(w, req.ID, s.approvals.Pending())
	case "wallet_approve":
		if len(req.Params) < 2 {
			writeError(w, http.StatusOK, req.ID, wallet.ErrInvalidParams("approval id and result required"))
			return
		}
		id, ok := decodeApprovalID(req.Params[0])
		if !ok {
			writeError(w, http.StatusOK, req.ID, wallet.ErrInvalidParams("approval id must be a string"))
			return
		}
		if err := s.approvals.Resolve(id, req.Params[1]); err != nil {
			writeError(w, http.StatusOK, req.ID, wallet.ErrInvalidParams(err.Error()))
			return
		}
		writeResult(w, req.ID, true)
	case "wallet_reject":
		if len(req.Params) < 1 {
			writeError(w, http.StatusOK, req.ID, wallet.ErrInvalidParams("approval id required"))
			return
		}
		id, ok := decodeApprovalID(req.Params[0])
		if !ok {
			writeError(w, http.StatusOK, req.ID, wallet.ErrInvalidParams("approval id must be a string"))
			return
		}
		if err := s.approvals.Reject(id); err != nil {
			writeError(w, http.StatusOK, req.ID, wallet.ErrInvalidParams(err.Error()))
			return
		}
		writeResult(w, req.ID, true)
	}
}

func decodeApprovalID(raw json.RawMessage) (string, bool) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return "", false
	}
	return id, true
}
