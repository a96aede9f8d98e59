package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/basket/taskcopilot/internal/persistence"
)

func newDBCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and back up the database",
	}
	cmd.AddCommand(newDBPathCmd(a), newDBStatsCmd(a), newDBBackupCmd(a))
	return cmd
}

func newDBPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the database this directory resolves to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbPath, err := a.resolveDB()
			if err != nil {
				return err
			}
			return a.printer.Result(map[string]string{"path": dbPath}, func() {
				a.printer.Info("%s\n", dbPath)
			})
		},
	}
}

type statsResult struct {
	Path          string                   `json:"path"`
	SchemaVersion int                      `json:"schema_version"`
	Tables        []persistence.TableCount `json:"tables"`
}

func newDBStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts per table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			res := statsResult{Path: store.Path()}
			if res.SchemaVersion, err = store.SchemaVersion(ctx); err != nil {
				return err
			}
			if res.Tables, err = store.Stats(ctx); err != nil {
				return err
			}
			return a.printer.Result(res, func() {
				a.printer.Fields(
					[2]string{"Database", res.Path},
					[2]string{"Schema", fmt.Sprint(res.SchemaVersion)},
				)
				rows := make([][]string, 0, len(res.Tables))
				for _, tc := range res.Tables {
					rows = append(rows, []string{tc.Table, fmt.Sprint(tc.Rows)})
				}
				a.printer.Table([]string{"TABLE", "ROWS"}, rows)
			})
		},
	}
}

func newDBBackupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <dest>",
		Short: "Write a consistent copy of the database",
		Long: `Write a consistent copy of the database to dest while other agents keep
working. dest must not exist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			if err := store.Backup(cmd.Context(), dest); err != nil {
				return err
			}
			return a.printer.Result(map[string]string{"status": "backed_up", "path": dest}, func() {
				a.printer.Success("Backed up %s to %s", store.Path(), dest)
			})
		},
	}
}
