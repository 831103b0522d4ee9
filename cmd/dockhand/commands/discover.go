package commands

import (
	"fmt"
	"time"

	"github.com/irahardianto/dockhand/internal/engine/formatter"
	"github.com/irahardianto/dockhand/internal/platform/logger"
	"github.com/spf13/cobra"
)

var flagNoPersist bool

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find a working Docker daemon and report how it was found",
	Long: `Try every discovery strategy in order and print the endpoint that answered,
together with the strategies that failed and a hint for each.

The winning strategy is remembered in the user config file unless --no-persist
is given.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := logger.FromContext(ctx)

		cfg, loader, path, err := globalConfig(ctx)
		if err != nil {
			return err
		}
		persist := persistTo(loader, path)
		if flagNoPersist {
			persist = nil
		}

		start := time.Now()
		resolver := newResolver(cfg, persist)
		defer func() {
			if err := resolver.Close(); err != nil {
				log.Warn("releasing discovery resources failed", "error", err)
			}
		}()
		res, err := resolver.Resolve(ctx)
		report := formatter.NewDiscoveryReport(res, err, time.Since(start))
		fmt.Fprintln(cmd.OutOrStdout(), newFormatter().FormatDiscovery(report))

		if err != nil {
			log.Error("discovery failed", "error", err)
			return &exitError{code: 1}
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().BoolVar(&flagNoPersist, "no-persist", false, "Do not remember the winning strategy")
	rootCmd.AddCommand(discoverCmd)
}
