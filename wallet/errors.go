package wallet

import (
	"errors"
	"fmt"
)

// Provider error codes follow EIP-1193; the negative codes are the standard
// JSON-RPC 2.0 protocol codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901

	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
)

// RPCError is the structured error surfaced to requesting origins. It carries
// the provider error code alongside a human readable message and optional
// detail payload.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrUserRejected reports that the user declined a pending approval.
func ErrUserRejected() *RPCError {
	return &RPCError{Code: CodeUserRejected, Message: "user rejected the request"}
}

// ErrUnsupportedMethod reports a method this wallet does not implement.
func ErrUnsupportedMethod(method string) *RPCError {
	return &RPCError{Code: CodeUnsupportedMethod, Message: "unsupported method", Data: method}
}

// ErrChainDisconnected reports a chain id that is not currently supported.
func ErrChainDisconnected(chainID uint64) *RPCError {
	return &RPCError{Code: CodeChainDisconnected, Message: "chain disconnected", Data: fmt.Sprintf("0x%x", chainID)}
}

// ErrInvalidParams reports malformed request parameters.
func ErrInvalidParams(detail string) *RPCError {
	return &RPCError{Code: CodeInvalidParams, Message: "invalid params", Data: detail}
}

// ErrInternal masks an unexpected collaborator failure. The underlying cause
// is logged by the caller; it must not leak to the requesting origin.
func ErrInternal() *RPCError {
	return &RPCError{Code: CodeServerError, Message: "request failed"}
}

// AsRPCError converts any error into the structured form sent over the wire.
// Errors that are not already RPCError values are masked as internal failures
// so collaborator detail never reaches an untrusted origin.
func AsRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return ErrInternal()
}
