package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const closeGrace = 2 * time.Second

// ClientConfig describes the tool process to spawn.
type ClientConfig struct {
	Command          string
	Args             []string
	Env              []string // appended to the parent environment
	HandshakeTimeout time.Duration
	CallTimeout      time.Duration
	ClientName       string
	ClientVersion    string
	Logger           *log.Logger
}

// Client owns one spawned tool process and the JSON-RPC channel to it.
type Client struct {
	cfg    ClientConfig
	logger *log.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex
	ids     atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan rpcResponse
	readErr error
	done    chan struct{}

	stderrDone chan struct{}
	closeOnce  sync.Once
}

// Start spawns the tool process. Any failure is a *TransportError.
func Start(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Command == "" {
		return nil, &TransportError{Op: "spawn", Cause: errors.New("command is empty")}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &TransportError{Op: "spawn", Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &TransportError{Op: "spawn", Cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &TransportError{Op: "spawn", Cause: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &TransportError{Op: "spawn", Cause: err}
	}

	c := &Client{
		cfg:        cfg,
		logger:     logger,
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		pending:    map[int64]chan rpcResponse{},
		done:       make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
	go c.forwardStderr(stderr)
	go c.readLoop()
	return c, nil
}

func (c *Client) forwardStderr(r io.Reader) {
	defer close(c.stderrDone)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		c.logger.Printf("[tool stderr] %s", sc.Text())
	}
}

// readLoop routes responses to waiting callers by id until stdout closes.
func (c *Client) readLoop() {
	rd := bufio.NewReader(c.stdout)
	var loopErr error
	for {
		line, err := rd.ReadBytes('\n')
		if len(line) > 0 {
			var resp rpcResponse
			if jerr := json.Unmarshal(line, &resp); jerr != nil {
				c.logger.Printf("discarding malformed line from tool process: %v", jerr)
			} else if id, ok := parseID(resp.ID); ok {
				c.mu.Lock()
				ch := c.pending[id]
				delete(c.pending, id)
				c.mu.Unlock()
				if ch != nil {
					ch <- resp
				}
			}
		}
		if err != nil {
			loopErr = err
			break
		}
	}
	if errors.Is(loopErr, io.EOF) {
		loopErr = ErrClosed
	}
	c.mu.Lock()
	c.readErr = loopErr
	c.mu.Unlock()
	close(c.done)
}

func parseID(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	return id, err == nil
}

func (c *Client) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.stdin.Write(append(data, '\n'))
	return err
}

// call sends a request and decodes the result into out. Channel faults and
// timeouts are *TransportError; an error object from the peer is *RPCError.
func (c *Client) call(ctx context.Context, method string, params, out interface{}, timeout time.Duration) error {
	id := c.ids.Add(1)
	rawParams, err := json.Marshal(params)
	if err != nil {
		return err
	}
	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return &TransportError{Op: method, Cause: err}
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := rpcRequest{JSONRPC: jsonrpcVersion, ID: json.RawMessage(strconv.FormatInt(id, 10)), Method: method, Params: rawParams}
	if err := c.send(req); err != nil {
		return &TransportError{Op: method, Cause: err}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-c.done:
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		return &TransportError{Op: method, Cause: err}
	case <-ctx.Done():
		return &TransportError{Op: method, Cause: ctx.Err()}
	}
}

func (c *Client) notify(method string, params interface{}) error {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = b
	}
	if err := c.send(rpcRequest{JSONRPC: jsonrpcVersion, Method: method, Params: raw}); err != nil {
		return &TransportError{Op: method, Cause: err}
	}
	return nil
}

// Initialize performs the handshake bounded by HandshakeTimeout. Every
// failure, including a peer error, is a *TransportError.
func (c *Client) Initialize(ctx context.Context) (InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      Implementation{Name: c.cfg.ClientName, Version: c.cfg.ClientVersion},
	}
	var res InitializeResult
	if err := c.call(ctx, MethodInitialize, params, &res, c.cfg.HandshakeTimeout); err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			te.Op = "handshake"
			return InitializeResult{}, te
		}
		return InitializeResult{}, &TransportError{Op: "handshake", Cause: err}
	}
	if err := c.notify(MethodInitialized, nil); err != nil {
		return InitializeResult{}, err
	}
	return res, nil
}

// ListTools asks the tool process for its advertised tools.
func (c *Client) ListTools(ctx context.Context) ([]ToolDesc, error) {
	var res ListToolsResult
	if err := c.call(ctx, MethodToolsList, struct{}{}, &res, c.cfg.CallTimeout); err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// CallTool invokes name with args, bounded by CallTimeout.
func (c *Client) CallTool(ctx context.Context, name string, args interface{}) (ToolResult, error) {
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return ToolResult{}, err
	}
	var res ToolResult
	if err := c.call(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: rawArgs}, &res, c.cfg.CallTimeout); err != nil {
		return ToolResult{}, err
	}
	return res, nil
}

// Close releases the channel and the process: stdin is closed, the process
// gets a short grace period to exit, then it is killed. Safe to call twice.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.stdin.Close()
		drained := make(chan struct{})
		go func() {
			<-c.done
			<-c.stderrDone
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(closeGrace):
			if c.cmd.Process != nil {
				_ = c.cmd.Process.Kill()
			}
		}
		err = c.cmd.Wait()
	})
	return err
}
