package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/basket/taskcopilot/internal/config"
)

func newInitCmd(a *app) *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create .copilot/tasks.db in a project",
		Long: `Create the task database under <path>/.copilot/tasks.db, or bring an
existing one up to the current schema. Safe to run more than once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbPath := a.dbFlag
			if dbPath == "" {
				abs, err := filepath.Abs(root)
				if err != nil {
					return err
				}
				dbPath = config.DBPathIn(abs)
			} else if abs, err := filepath.Abs(dbPath); err == nil {
				dbPath = abs
			}
			if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
				return err
			}
			store, err := a.openAt(cmd, dbPath)
			if err != nil {
				return err
			}
			version, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			result := map[string]any{"status": "initialized", "path": dbPath, "schema_version": version}
			return a.printer.Result(result, func() {
				a.printer.Success("Initialized task database at %s", dbPath)
				a.printer.Step("Create work with `tc task create --title ...`")
			})
		},
	}
	cmd.Flags().StringVar(&root, "path", ".", "project root that receives .copilot/")
	return cmd
}
