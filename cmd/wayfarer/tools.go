package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mohammad-safakhou/wayfarer/config"
	"github.com/mohammad-safakhou/wayfarer/internal/runtime"
	"github.com/mohammad-safakhou/wayfarer/mcp"
	"github.com/mohammad-safakhou/wayfarer/mcp/tools/search_tourism"
	"github.com/mohammad-safakhou/wayfarer/mcp/tools/web_fetch"
	"github.com/mohammad-safakhou/wayfarer/tools/web_search"
	"github.com/spf13/cobra"
)

func toolsCMD(opts *rootOptions) *cobra.Command {
	tools := &cobra.Command{
		Use:   "tools",
		Short: "Tool process commands",
	}
	tools.AddCommand(toolsServeCMD(opts), toolsListCMD(opts))
	return tools
}

// newToolServer builds the search_tourism tool server. Its logger must never
// write to stdout, which carries the protocol.
func newToolServer(cfg *config.Config) (*mcp.Server, error) {
	logger := newLogger("TOOLS")
	searcher, err := web_search.NewWebSearcher(web_search.Provider(cfg.Search.Provider), cfg.Search.APIKey(), cfg.Search.Timeout)
	if err != nil {
		return nil, err
	}
	handler := search_tourism.New(search_tourism.Config{
		APIKey:             cfg.Search.APIKey(),
		MaxQueriesPerBatch: cfg.Search.MaxQueriesPerBatch,
		MaxCharsPerResult:  cfg.Search.MaxCharsPerResult,
		MaxResults:         cfg.Search.MaxResults,
		Concurrency:        cfg.Search.Concurrency,
		EnrichEmptyResults: cfg.Search.EnrichEmptyResults,
	}, searcher, logger).WithReader(web_fetch.NewFetcher(cfg.Search.Timeout, 0, ""))

	srv := mcp.NewServer("travel-tools", version, logger).WithCallTimeout(cfg.Tool.Normalize().CallTimeout)
	srv.Register(handler.Tool())
	return srv, nil
}

func toolsServeCMD(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve search_tourism over stdin/stdout (spawned by the pipeline)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.cfgPath)
			if err != nil {
				return err
			}
			srv, err := newToolServer(cfg)
			if err != nil {
				return err
			}
			err = runtime.RunUntilSignal(cmd.Context(), "tools", newLogger("TOOLS"), func(ctx context.Context) error {
				return srv.Serve(ctx, os.Stdin, os.Stdout)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func toolsListCMD(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Spawn the tool process, handshake and list its tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.cfgPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			ccfg := toolClientConfig(cfg, opts.cfgPath)
			ccfg.Logger = newLogger("MCP")
			client, err := mcp.Start(ctx, ccfg)
			if err != nil {
				return err
			}
			defer client.Close()

			info, err := client.Initialize(ctx)
			if err != nil {
				return err
			}
			list, err := client.ListTools(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s (protocol %s)\n", info.ServerInfo.Name, info.ServerInfo.Version, info.ProtocolVersion)
			for _, t := range list {
				fmt.Fprintf(out, "- %s: %s\n", t.Name, t.Description)
			}
			return nil
		},
	}
}
