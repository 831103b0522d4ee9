// Package commands implements the CLI commands for dockhand.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/irahardianto/dockhand/internal/engine/config"
	"github.com/irahardianto/dockhand/internal/engine/formatter"
	"github.com/irahardianto/dockhand/internal/platform/logger"
	"github.com/irahardianto/dockhand/internal/platform/shutdown"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Global flag values accessible to all commands.
var (
	flagJSON    bool
	flagVerbose bool
	flagNoColor bool
	flagEnvFile string
	flagConfig  string
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// rootCmd is the base command for the dockhand CLI.
var rootCmd = &cobra.Command{
	Use:   "dockhand",
	Short: "Ephemeral Docker resources for test runs",
	Long: `dockhand provisions containers, networks and volumes for a test run and
guarantees they are removed afterwards, even if the run is killed.

It discovers a working Docker daemon without configuration, registers every
resource with a reaper container before creating it, and can share a running
container across runs when its configuration and copied files are unchanged.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if flagEnvFile != "" {
			if err := godotenv.Load(flagEnvFile); err != nil {
				return fmt.Errorf("loading env file: %w", err)
			}
		}
		l := logger.New(cmd.ErrOrStderr(), flagVerbose, flagJSON)
		ctx := logger.WithContext(cmd.Context(), l)
		cmd.SetContext(ctx)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output results as JSON to stdout")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable debug logging and detailed reports")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "Load environment variables from a dotenv file")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to the user config file (default ~/.config/dockhand/config.yaml)")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}

func newFormatter() formatter.Formatter {
	if flagJSON {
		return formatter.NewJSONFormatter()
	}
	return formatter.NewCLIFormatter(!flagNoColor, flagVerbose)
}

// globalConfig loads the user config from --config or the default location
// and returns the path strategy wins are persisted to.
func globalConfig(ctx context.Context) (*config.GlobalConfig, *config.Loader, string, error) {
	loader := config.NewLoader(&config.RealFileSystem{})
	path := flagConfig
	if path == "" {
		p, err := loader.GlobalConfigPath()
		if err != nil {
			cfg, err := loader.LoadGlobalConfig(ctx)
			return cfg, loader, "", err
		}
		path = p
	}
	cfg, err := loader.LoadGlobalConfigFrom(ctx, path)
	if err != nil {
		return nil, nil, "", fmt.Errorf("loading global config: %w", err)
	}
	return cfg, loader, path, nil
}
