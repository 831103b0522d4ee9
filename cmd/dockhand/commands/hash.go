package commands

import (
	"encoding/json"
	"fmt"

	"github.com/irahardianto/dockhand/internal/engine/pool"
	"github.com/irahardianto/dockhand/internal/engine/runner"
	"github.com/spf13/cobra"
)

// hashEntry is the reuse identity of one project container.
type hashEntry struct {
	Name      string `json:"name"`
	Reuse     bool   `json:"reuse"`
	FilesHash string `json:"files_hash"`
	Key       string `json:"key"`
}

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Print the reuse key and copied-files hash of every project container",
	Long: `Compute, without contacting the daemon, the values dockhand uses to decide
whether a running container can be reused: the hash of the files copied into
it and the key over its whole configuration. A change in either means a new
container.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadProject(cmd.Context(), flagFile, true)
		if err != nil {
			return err
		}
		tasks, err := runner.Tasks(cfg)
		if err != nil {
			return err
		}

		entries := make([]hashEntry, 0, len(tasks))
		for _, t := range tasks {
			filesHash, err := pool.HashFiles(t.Request.Files)
			if err != nil {
				return fmt.Errorf("container %q: %w", t.Request.Name, err)
			}
			entries = append(entries, hashEntry{
				Name:      t.Request.Name,
				Reuse:     t.Request.Reuse,
				FilesHash: filesHash,
				Key:       pool.ReuseKey(t.Request, filesHash),
			})
		}

		out := cmd.OutOrStdout()
		if flagJSON {
			data, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		}
		for _, e := range entries {
			reuse := ""
			if e.Reuse {
				reuse = " (reuse)"
			}
			fmt.Fprintf(out, "%s%s\n  files: %s\n  key:   %s\n", e.Name, reuse, e.FilesHash, e.Key)
		}
		return nil
	},
}

func init() {
	hashCmd.Flags().StringVarP(&flagFile, "file", "f", "dockhand.yaml", "Project file")
	rootCmd.AddCommand(hashCmd)
}
