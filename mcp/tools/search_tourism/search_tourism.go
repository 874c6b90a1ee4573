// Package search_tourism implements the batch search capability exposed by the tool process.
package search_tourism

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/mohammad-safakhou/wayfarer/mcp"
	"github.com/mohammad-safakhou/wayfarer/tools/web_search/models"
	"github.com/mohammad-safakhou/wayfarer/utils"
	"golang.org/x/sync/errgroup"
)

const (
	Name = "search_tourism"

	MaxQueriesPerBatch = 3
	MaxCharsPerResult  = 300

	MissingKeyMessage = "Error: Server misconfigured (Missing API Key)."
)

// Searcher is the hosted search API.
type Searcher interface {
	Search(ctx context.Context, req models.Request) (models.Response, error)
}

// Reader extracts readable text from a page.
type Reader interface {
	Readable(ctx context.Context, link string) (string, error)
}

type Config struct {
	APIKey             string
	MaxQueriesPerBatch int
	MaxCharsPerResult  int
	MaxResults         int
	Depth              string
	Concurrency        int
	EnrichEmptyResults bool
}

func (c Config) normalize() Config {
	if c.MaxQueriesPerBatch <= 0 {
		c.MaxQueriesPerBatch = MaxQueriesPerBatch
	}
	if c.MaxCharsPerResult <= 0 {
		c.MaxCharsPerResult = MaxCharsPerResult
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 2
	}
	if c.Depth == "" {
		c.Depth = "basic"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return c
}

type Handler struct {
	cfg      Config
	searcher Searcher
	reader   Reader
	logger   *log.Logger
}

func New(cfg Config, searcher Searcher, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Handler{cfg: cfg.normalize(), searcher: searcher, logger: logger}
}

// WithReader enables filling empty result content from the page itself.
func (h *Handler) WithReader(r Reader) *Handler {
	h.reader = r
	return h
}

// Run searches the first MaxQueriesPerBatch queries and renders one text blob.
// Failures are rendered as text; Run never fails.
func (h *Handler) Run(ctx context.Context, queries []string) string {
	if h.cfg.APIKey == "" {
		h.logger.Printf("search API key is missing, aborting search")
		return MissingKeyMessage
	}

	accepted := queries
	if len(accepted) > h.cfg.MaxQueriesPerBatch {
		accepted = accepted[:h.cfg.MaxQueriesPerBatch]
	}
	h.logger.Printf("processing %d queries (requested: %d)", len(accepted), len(queries))

	sections := make([]string, len(accepted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Concurrency)
	for i, q := range accepted {
		i, q := i, q
		g.Go(func() error {
			sections[i] = h.searchOne(gctx, q)
			return nil
		})
	}
	_ = g.Wait()

	if skipped := len(queries) - len(accepted); skipped > 0 {
		sections = append(sections, fmt.Sprintf("\n*Note: %d queries were skipped to conserve resources.*", skipped))
	}
	return strings.Join(sections, "\n")
}

func (h *Handler) searchOne(ctx context.Context, query string) string {
	h.logger.Printf("searching: '%s'", query)
	resp, err := h.searcher.Search(ctx, models.Request{
		Query:         query,
		MaxResults:    h.cfg.MaxResults,
		Depth:         h.cfg.Depth,
		IncludeAnswer: true,
	})
	if err != nil {
		h.logger.Printf("search failed for '%s': %v", query, err)
		return fmt.Sprintf("Error searching '%s': %v", query, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### Results for: '%s'\n", query)
	if resp.Answer != "" {
		fmt.Fprintf(&b, "**AI Summary**: %s\n\n", resp.Answer)
	}
	for _, r := range resp.Results {
		title := r.Title
		if title == "" {
			title = "N/A"
		}
		link := r.URL
		if link == "" {
			link = "#"
		}
		content := r.Content
		if content == "" && h.cfg.EnrichEmptyResults && h.reader != nil && r.URL != "" {
			if text, err := h.reader.Readable(ctx, r.URL); err != nil {
				h.logger.Printf("enrich %s: %v", r.URL, err)
			} else {
				content = text
			}
		}
		fmt.Fprintf(&b, "- **Title**: %s\n  **Link**: %s\n  **Content**: %s\n\n",
			title, link, utils.Truncate(content, h.cfg.MaxCharsPerResult))
	}
	return b.String()
}

type arguments struct {
	Queries []string `json:"queries"`
}

// Tool exposes the handler over the tool-process protocol.
func (h *Handler) Tool() mcp.Tool {
	return mcp.Tool{
		ToolDesc: mcp.ToolDesc{
			Name: Name,
			Description: fmt.Sprintf("Executes web searches for travel research. Only the first %d queries are processed "+
				"to ensure performance and quota management.", h.cfg.MaxQueriesPerBatch),
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"queries": map[string]interface{}{
						"type":  "array",
						"items": map[string]interface{}{"type": "string"},
					},
				},
				"required": []string{"queries"},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (mcp.ToolResult, error) {
			var args arguments
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return mcp.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
				}
			}
			return mcp.TextResult(h.Run(ctx, args.Queries)), nil
		},
	}
}
