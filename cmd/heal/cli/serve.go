package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/healdb/heal/internal/server"
)

func newServeCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the healing engine and its HTTP control surface",
		Long: `Starts the monitor loop (periodic introspection, source scanning, issue
detection, and automatic fixing) and serves the control surface over HTTP.
Blocks until SIGINT/SIGTERM.`,
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

			srv := server.New(server.Config{
				Host:              eng.cfg.Server.Host,
				Port:              eng.cfg.Server.Port,
				ShutdownTimeout:   30 * time.Second,
				CORSOrigins:       eng.cfg.Server.CORSOrigins,
				TriggersPerMinute: eng.cfg.Server.TriggersPerMinute,
			}, eng.monitor, eng.conn, logger)

			return srv.ListenAndServe()
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}
