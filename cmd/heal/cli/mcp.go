package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/healdb/heal/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		verbose  bool
		httpAddr string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the engine's control surface over the Model Context Protocol",
		Long: `Runs the monitor loop and exposes it as MCP tools. By default the server
speaks stdio, for clients that launch it as a subprocess; pass --http to
serve Streamable HTTP instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose)

			eng, err := buildEngine(logger)
			if err != nil {
				return err
			}
			defer eng.close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go eng.monitor.Run(ctx)
			defer eng.monitor.Stop()

			srv := mcp.NewMCPServer(eng.monitor, logger)
			if httpAddr != "" {
				return srv.ServeHTTP(httpAddr)
			}
			return srv.ServeStdio()
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve Streamable HTTP on this address instead of stdio")
	return cmd
}
