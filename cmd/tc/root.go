package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basket/taskcopilot/internal/persistence"
	"github.com/basket/taskcopilot/internal/printer"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "tc",
		Short: "tc - shared task store for cooperating agents",
		Long: `tc keeps PRDs, streams, tasks, dependencies, work products and an
activity log in one SQLite file (.copilot/tasks.db). Any number of agent
processes may run tc against the same file; claims are atomic, so a task
is owned by at most one agent at a time.

Exit codes: 0 ok, 1 error, 2 not found, 3 conflict, 4 validation, 5 database.`,
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.printer = printer.New(a.stdout, a.stderr, a.jsonOut)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetVersionTemplate("tc version {{.Version}}\n")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", persistence.ErrValidation, err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.dbFlag, "db", "", "database file (default: nearest .copilot/tasks.db, or TC_DB)")
	pf.BoolVar(&a.jsonOut, "json", false, "write results as JSON")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "mirror logs to stderr")

	root.AddCommand(
		newInitCmd(a),
		newVersionCmd(),
		newTaskCmd(a),
		newPRDCmd(a),
		newStreamCmd(a),
		newWPCmd(a),
		newDBCmd(a),
		newProgressCmd(a),
		newHandoffCmd(a),
		newLogCmd(a),
		newWatchCmd(a),
		newDoctorCmd(a),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the tc version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("tc version %s\n", Version)
		},
	}
}
