package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for calls on a client whose channel is gone.
	ErrClosed = errors.New("tool process channel closed")
	// ErrUnknownTool is returned by the server for tools/call on an unregistered name.
	ErrUnknownTool = errors.New("unknown tool")
)

// RPCError is a JSON-RPC error object, either received or sent.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// TransportError reports a spawn, handshake or channel I/O fault.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause == nil {
		return "transport " + e.Op + " failed"
	}
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// ToolExecutionError wraps any failure between handshake and text extraction,
// including a result flagged isError by the tool.
type ToolExecutionError struct {
	Tool  string
	Cause error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }
