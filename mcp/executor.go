package mcp

import (
	"context"
	"errors"
	"io"
	"log"
)

// SearchToolName is the capability the pipeline invokes.
const SearchToolName = "search_tourism"

// Executor runs one batch of queries in a freshly spawned tool process per
// call, so no two sessions ever share a process.
type Executor struct {
	cfg    ClientConfig
	tool   string
	logger *log.Logger
	debug  bool
}

// NewExecutor builds an executor spawning cfg.Command for every Search.
func NewExecutor(cfg ClientConfig, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "wayfarer"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "1.0.0"
	}
	return &Executor{cfg: cfg, tool: SearchToolName, logger: logger}
}

// WithDebug enables logging of the discovered tool list and a result preview.
func (e *Executor) WithDebug(debug bool) *Executor {
	e.debug = debug
	return e
}

// Search spawns the tool process, handshakes, calls search_tourism with
// queries and returns the concatenated text blocks. Spawn failures are
// *TransportError; everything after spawn is wrapped in *ToolExecutionError.
// The process is always torn down before returning.
func (e *Executor) Search(ctx context.Context, queries []string) (string, error) {
	client, err := Start(ctx, e.cfg)
	if err != nil {
		e.logger.Printf("spawn %s failed: %v", e.cfg.Command, err)
		return "", err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			e.logger.Printf("tool process exit: %v", cerr)
		}
	}()

	text, err := e.invoke(ctx, client, queries)
	if err != nil {
		e.logger.Printf("failed to execute tool %s: %v", e.tool, err)
		return "", &ToolExecutionError{Tool: e.tool, Cause: err}
	}
	return text, nil
}

func (e *Executor) invoke(ctx context.Context, client *Client, queries []string) (string, error) {
	if _, err := client.Initialize(ctx); err != nil {
		return "", err
	}

	// Discovery is diagnostic only.
	if tools, err := client.ListTools(ctx); err != nil {
		e.logger.Printf("tools/list failed (ignored): %v", err)
	} else if e.debug {
		names := make([]string, len(tools))
		for i, t := range tools {
			names[i] = t.Name
		}
		e.logger.Printf("connected, tools: %v", names)
	}

	if queries == nil {
		queries = []string{}
	}
	e.logger.Printf("executing search for %d queries", len(queries))
	res, err := client.CallTool(ctx, e.tool, map[string]interface{}{"queries": queries})
	if err != nil {
		return "", err
	}
	text := res.Text()
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", errors.New(text)
	}
	if e.debug {
		preview := text
		if len(preview) > 100 {
			preview = preview[:100]
		}
		e.logger.Printf("raw search results: %s...", preview)
	}
	e.logger.Printf("search completed successfully")
	return text, nil
}
