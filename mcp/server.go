package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"
)

// Handler executes one tool call. A returned error becomes an isError result,
// not a protocol error.
type Handler func(ctx context.Context, args json.RawMessage) (ToolResult, error)

// Tool pairs a descriptor with its handler.
type Tool struct {
	ToolDesc
	Handler Handler
}

// Server is a stdio JSON-RPC server exposing registered tools.
// Logs must never go to the protocol writer.
type Server struct {
	info        Implementation
	tools       map[string]Tool
	callTimeout time.Duration
	logger      *log.Logger

	writeMu sync.Mutex
}

// NewServer creates a server; logger should write to stderr.
func NewServer(name, version string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		info:        Implementation{Name: name, Version: version},
		tools:       map[string]Tool{},
		callTimeout: 60 * time.Second,
		logger:      logger,
	}
}

// WithCallTimeout bounds each tools/call handler.
func (srv *Server) WithCallTimeout(d time.Duration) *Server {
	if d > 0 {
		srv.callTimeout = d
	}
	return srv
}

// Register adds or replaces a tool.
func (srv *Server) Register(t Tool) {
	srv.tools[t.Name] = t
}

// Tools returns the advertised descriptors sorted by name.
func (srv *Server) Tools() []ToolDesc {
	out := make([]ToolDesc, 0, len(srv.tools))
	for _, t := range srv.tools {
		out = append(out, t.ToolDesc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Serve reads newline-delimited requests from in and answers on out until EOF
// or ctx is cancelled. Requests are handled one at a time.
func (srv *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	type line struct {
		data []byte
		err  error
	}
	lines := make(chan line)
	go func() {
		rd := bufio.NewReader(in)
		for {
			data, err := rd.ReadBytes('\n')
			select {
			case lines <- line{data: data, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var l line
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l = <-lines:
		}
		if data := bytes.TrimSpace(l.data); len(data) > 0 {
			srv.handleLine(ctx, data, out)
		}
		if l.err != nil {
			if errors.Is(l.err, io.EOF) {
				return nil
			}
			return l.err
		}
	}
}

func (srv *Server) handleLine(ctx context.Context, data []byte, out io.Writer) {
	var req rpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		srv.logger.Printf("parse error: %v", err)
		srv.writeResp(out, json.RawMessage("null"), nil, &RPCError{Code: CodeParseError, Message: "parse error"})
		return
	}
	if req.Method == "" {
		if !req.isNotification() {
			srv.writeResp(out, req.ID, nil, &RPCError{Code: CodeInvalidRequest, Message: "method is required"})
		}
		return
	}
	result, rpcErr := srv.dispatch(ctx, req)
	if req.isNotification() {
		return
	}
	srv.writeResp(out, req.ID, result, rpcErr)
}

func (srv *Server) dispatch(ctx context.Context, req rpcRequest) (interface{}, *RPCError) {
	switch req.Method {
	case MethodInitialize:
		var params InitializeParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
			}
		}
		srv.logger.Printf("initialize from %s %s", params.ClientInfo.Name, params.ClientInfo.Version)
		return InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    map[string]interface{}{"tools": map[string]interface{}{}},
			ServerInfo:      srv.info,
		}, nil

	case MethodInitialized:
		return nil, nil

	case MethodToolsList:
		return ListToolsResult{Tools: srv.Tools()}, nil

	case MethodToolsCall:
		var params CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		tool, ok := srv.tools[params.Name]
		if !ok {
			return nil, &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("%v: %s", ErrUnknownTool, params.Name)}
		}
		// Per-call timeout to avoid stuck handlers
		callCtx, cancel := context.WithTimeout(ctx, srv.callTimeout)
		defer cancel()
		res, err := tool.Handler(callCtx, params.Arguments)
		if err != nil {
			srv.logger.Printf("tool %s failed: %v", params.Name, err)
			res = TextResult(err.Error())
			res.IsError = true
		}
		if res.Content == nil {
			res.Content = []ContentBlock{}
		}
		return res, nil

	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "unknown method: " + req.Method}
	}
}

func (srv *Server) writeResp(w io.Writer, id json.RawMessage, result interface{}, rpcErr *RPCError) {
	resp := rpcResponse{JSONRPC: jsonrpcVersion, ID: id, Error: rpcErr}
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
		} else {
			resp.Result = raw
		}
	}
	data, err := json.Marshal(resp)
	if err != nil {
		srv.logger.Printf("encode response: %v", err)
		return
	}
	srv.writeMu.Lock()
	defer srv.writeMu.Unlock()
	if _, err := w.Write(append(data, '\n')); err != nil {
		srv.logger.Printf("write response: %v", err)
	}
}
