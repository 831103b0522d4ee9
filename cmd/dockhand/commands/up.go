package commands

import (
	"context"
	"fmt"

	"github.com/irahardianto/dockhand/internal/platform/logger"
	"github.com/irahardianto/dockhand/internal/platform/shutdown"
	"github.com/spf13/cobra"
)

var (
	flagFile     string
	flagFailFast bool
	flagParallel int
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Provision the project's containers and keep them until interrupted",
	Long: `Read the project file, start every container in parallel and wait.

The session's resources are registered with the reaper before they are created.
Interrupting dockhand (Ctrl+C) ends the session and the reaper removes them.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := logger.FromContext(ctx)

		cfg, err := loadProject(ctx, flagFile, true)
		if err != nil {
			return err
		}

		scope := shutdown.New()
		defer func() {
			if err := scope.Run(context.WithoutCancel(ctx)); err != nil {
				log.Error("session shutdown failed", "error", err)
			}
		}()

		s, err := openSession(ctx, scope)
		if err != nil {
			return err
		}

		report, err := provision(ctx, s, cfg, projectOpts{FailFast: flagFailFast, Limit: flagParallel, JSON: flagJSON}, cmd.ErrOrStderr())
		if report != nil {
			fmt.Fprintln(cmd.OutOrStdout(), newFormatter().FormatUp(*report))
		}
		if err != nil {
			return err
		}
		if !report.OK {
			return ErrProvisionFailed
		}

		if !flagJSON {
			fmt.Fprintln(cmd.ErrOrStderr(), "⏸  Resources stay up until dockhand is interrupted")
		}
		<-ctx.Done()
		log.Info("interrupted, ending session", "session_id", s.ID)
		return nil
	},
}

func init() {
	upCmd.Flags().StringVarP(&flagFile, "file", "f", "dockhand.yaml", "Project file")
	upCmd.Flags().BoolVar(&flagFailFast, "fail-fast", false, "Cancel remaining containers on the first failure")
	upCmd.Flags().IntVar(&flagParallel, "parallel", 0, "Maximum containers provisioned at once (0 = unlimited)")
	rootCmd.AddCommand(upCmd)
}
