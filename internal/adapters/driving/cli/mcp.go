package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/foldline/internal/adapters/driving/mcp"
	"github.com/custodia-labs/foldline/internal/logger"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server for AI assistant integration.

By default, the server communicates over stdio using JSON-RPC and can be
used with Claude Desktop and other MCP-compatible AI assistants.

Use --port to start an HTTP server instead, which enables:
  - Testing with MCP Inspector web UI
  - Remote access via HTTP

While the server runs, edits to the configuration file are applied without
a restart and the cache maintenance scheduler is active.

Examples:
  # Stdio mode (default, for Claude Desktop)
  foldline mcp serve

  # HTTP mode (for MCP Inspector, remote access)
  foldline mcp serve --port 8080

Claude Desktop configuration (claude_desktop_config.json):
  {
    "mcpServers": {
      "foldline": {
        "command": "/path/to/foldline",
        "args": ["mcp", "serve"]
      }
    }
  }`,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}

	ports := &mcp.Ports{
		Prediction: predictionService,
		Cache:      cacheAdmin,
		Settings:   settingsService,
	}

	server, err := mcp.NewServer(ports)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, ctx := errgroup.WithContext(runCtx)

	if scheduler != nil {
		g.Go(func() error {
			if err := scheduler.Start(ctx); err != nil && !errors.Is(err, ctx.Err()) {
				logger.Warn("Scheduler stopped: %v", err)
			}
			return nil
		})
	}

	if watchConfig != nil {
		g.Go(func() error {
			// A broken watcher must not take the server down.
			if err := watchConfig(ctx); err != nil && !errors.Is(err, ctx.Err()) {
				logger.Warn("Config watcher stopped: %v", err)
			}
			return nil
		})
	}

	// Background workers run as long as the server does.
	g.Go(func() error {
		defer cancel()
		if port > 0 {
			addr := fmt.Sprintf(":%d", port)
			fmt.Fprintf(cmd.OutOrStdout(), "MCP server listening on http://localhost%s\n", addr)
			return server.RunHTTP(ctx, addr)
		}
		return server.Run(ctx)
	})

	return g.Wait()
}
