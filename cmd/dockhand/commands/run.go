package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/irahardianto/dockhand/internal/engine/formatter"
	"github.com/irahardianto/dockhand/internal/platform/logger"
	"github.com/irahardianto/dockhand/internal/platform/shutdown"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- command [args...]",
	Short: "Provision the project, run a command against it, then tear down",
	Long: `Provision the project's containers, run the command with the daemon and
session exported in its environment, and end the session when it exits.

The command sees DOCKER_HOST (plus TLS variables when needed),
DOCKHAND_SESSION_ID and DOCKHAND_CONTAINER_<NAME>=<id> for every container.
dockhand exits with the command's exit code.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logger.FromContext(ctx)

		cfg, err := loadProject(ctx, flagFile, cmd.Flags().Changed("file"))
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

		report, err := provision(ctx, s, cfg, projectOpts{FailFast: true, Limit: flagParallel, JSON: flagJSON}, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if !report.OK {
			fmt.Fprintln(cmd.OutOrStdout(), newFormatter().FormatUp(*report))
			return ErrProvisionFailed
		}

		env := append(os.Environ(), s.Resolution.Endpoint.Env()...)
		env = append(env, childEnv(s.ID, report)...)

		child := exec.CommandContext(ctx, args[0], args[1:]...) // #nosec G204 -- the user's own command.
		child.Env = env
		child.Stdin = cmd.InOrStdin()
		child.Stdout = cmd.OutOrStdout()
		child.Stderr = cmd.ErrOrStderr()

		log.Info("running command", "command", args[0], "session_id", s.ID)
		if err := child.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return &exitError{code: exitErr.ExitCode()}
			}
			return fmt.Errorf("running %s: %w", args[0], err)
		}
		return nil
	},
}

// childEnv exports the session to the child process.
func childEnv(sessionID string, report *formatter.UpReport) []string {
	env := []string{"DOCKHAND_SESSION_ID=" + sessionID}
	for _, c := range report.Containers {
		name := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(c.Name))
		env = append(env, fmt.Sprintf("DOCKHAND_CONTAINER_%s=%s", name, c.ID))
	}
	return env
}

func init() {
	runCmd.Flags().StringVarP(&flagFile, "file", "f", "dockhand.yaml", "Project file")
	runCmd.Flags().IntVar(&flagParallel, "parallel", 0, "Maximum containers provisioned at once (0 = unlimited)")
	runCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(runCmd)
}
