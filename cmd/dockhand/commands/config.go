package commands

import (
	"fmt"

	"github.com/irahardianto/dockhand/internal/engine/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective user configuration",
	Long: `Print the user configuration after defaults and environment overrides,
followed by the environment variable that overrides each key.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, path, err := globalConfig(cmd.Context())
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}

		out := cmd.OutOrStdout()
		if path != "" {
			fmt.Fprintf(out, "# %s\n", path)
		}
		fmt.Fprint(out, string(data))
		if flagVerbose {
			fmt.Fprintln(out, "\n# environment overrides")
			for _, k := range config.Keys() {
				fmt.Fprintf(out, "#   %-24s %s\n", k, config.EnvName(k))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
