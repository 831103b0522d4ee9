package commands

import (
	"fmt"

	"github.com/irahardianto/dockhand/internal/engine/formatter"
	"github.com/irahardianto/dockhand/internal/engine/reaper"
	"github.com/irahardianto/dockhand/internal/engine/sidecar"
	"github.com/irahardianto/dockhand/internal/platform/logger"
	"github.com/spf13/cobra"
)

var (
	flagSidecarAddr    string
	flagSidecarConnect = sidecar.DefaultConnectionTimeout
	flagSidecarRecon   = sidecar.DefaultReconnectionTimeout
)

var sidecarCmd = &cobra.Command{
	Use:   "sidecar",
	Short: "Run the reaper side of the cleanup protocol",
	Long: `Accept filter sets from dockhand sessions over TCP and acknowledge each one.
Once no session has been connected for the reconnection timeout, remove every
resource matching a stored filter set and exit.

This is what the reaper container runs; it needs access to the daemon socket.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := logger.FromContext(ctx)

		client, res, err := openDaemon(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		log.Info("reaper using daemon", "host", res.Endpoint.Host)

		srv := sidecar.New(reaper.NewPruner(client), sidecar.Config{
			ConnectionTimeout:   flagSidecarConnect,
			ReconnectionTimeout: flagSidecarRecon,
		})
		report, err := srv.ListenAndServe(ctx, flagSidecarAddr)
		fmt.Fprintln(cmd.OutOrStdout(), newFormatter().FormatCleanup(formatter.NewCleanupReport("reaper", report, err)))
		return err
	},
}

func init() {
	sidecarCmd.Flags().StringVar(&flagSidecarAddr, "addr", sidecar.DefaultAddr, "Address to listen on")
	sidecarCmd.Flags().DurationVar(&flagSidecarConnect, "connection-timeout", sidecar.DefaultConnectionTimeout, "How long to wait for the first session")
	sidecarCmd.Flags().DurationVar(&flagSidecarRecon, "reconnection-timeout", sidecar.DefaultReconnectionTimeout, "How long to wait after the last session disconnects")
	rootCmd.AddCommand(sidecarCmd)
}
