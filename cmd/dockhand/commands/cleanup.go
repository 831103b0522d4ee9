package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/irahardianto/dockhand/internal/engine/formatter"
	"github.com/irahardianto/dockhand/internal/engine/pool"
	"github.com/irahardianto/dockhand/internal/engine/reaper"
	"github.com/irahardianto/dockhand/internal/platform/logger"
	"github.com/spf13/cobra"
)

var (
	flagCleanupSession string
	flagCleanupAll     bool
	flagOlderThan      time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove resources left behind by dockhand",
	Long: `Remove dockhand resources without waiting for a reaper.

  --session ID      everything labelled with that session
  --all             every resource dockhand ever created, reused containers included
  --older-than DUR  managed containers created more than DUR ago`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := logger.FromContext(ctx)

		modes := 0
		for _, set := range []bool{flagCleanupSession != "", flagCleanupAll, flagOlderThan > 0} {
			if set {
				modes++
			}
		}
		if modes != 1 {
			return errors.New("cleanup needs exactly one of --session, --all or --older-than")
		}

		client, _, err := openDaemon(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		var report formatter.CleanupReport
		switch {
		case flagOlderThan > 0:
			removed, err := pool.New(client, pool.Options{}).CleanupStale(ctx, flagOlderThan)
			report = formatter.NewCleanupReport(fmt.Sprintf("older than %s", flagOlderThan), reaper.PruneReport{Containers: removed}, err)
		case flagCleanupAll:
			// Project containers go first so reaper sidecars still running
			// their own sweep are only removed afterwards.
			var errs *multierror.Error
			removed, err := pool.New(client, pool.Options{}).CleanupAll(ctx)
			if err != nil {
				errs = multierror.Append(errs, err)
			}
			r, err := reaper.NewPruner(client).Prune(ctx, reaper.MarkerFilters())
			if err != nil {
				errs = multierror.Append(errs, err)
			}
			r.Containers = append(removed, r.Containers...)
			report = formatter.NewCleanupReport("all", r, errs.ErrorOrNil())
		default:
			r, err := reaper.NewPruner(client).Prune(ctx, reaper.SessionFilters(flagCleanupSession))
			report = formatter.NewCleanupReport("session "+flagCleanupSession, r, err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), newFormatter().FormatCleanup(report))
		log.Info("cleanup completed", "scope", report.Scope, "containers", len(report.Containers))
		if report.Error != "" {
			return &exitError{code: 1}
		}
		return nil
	},
}

func init() {
	cleanupCmd.Flags().StringVar(&flagCleanupSession, "session", "", "Remove the resources of one session")
	cleanupCmd.Flags().BoolVar(&flagCleanupAll, "all", false, "Remove every dockhand resource")
	cleanupCmd.Flags().DurationVar(&flagOlderThan, "older-than", 0, "Remove managed containers older than this")
	rootCmd.AddCommand(cleanupCmd)
}
