package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basket/taskcopilot/internal/persistence"
)

func newStreamCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Manage work streams",
	}
	cmd.AddCommand(newStreamCreateCmd(a), newStreamListCmd(a), newStreamGetCmd(a), newStreamStatusCmd(a))
	return cmd
}

func newStreamCreateCmd(a *app) *cobra.Command {
	var in persistence.CreateStreamInput
	var prd int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a named stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			in.PRDID = optionalID(cmd, "prd", prd)
			st, err := store.CreateStream(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.printer.Result(st, func() {
				a.printer.Success("Created stream #%d: %s", st.ID, st.Name)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "unique stream name")
	f.Int64Var(&prd, "prd", 0, "associated PRD id")
	f.StringVar(&in.WorktreePath, "worktree-path", "", "git worktree the stream works in")
	return cmd
}

func newStreamListCmd(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st persistence.StreamStatus
			if status != "" {
				var err error
				if st, err = persistence.ParseStreamStatus(status); err != nil {
					return err
				}
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			streams, err := store.ListStreams(cmd.Context(), st)
			if err != nil {
				return err
			}
			if streams == nil {
				streams = []persistence.Stream{}
			}
			return a.printer.Result(streams, func() {
				rows := make([][]string, 0, len(streams))
				for _, s := range streams {
					rows = append(rows, []string{fmt.Sprint(s.ID), s.Name, a.printer.Status(string(s.Status)), ref(s.PRDID), str(s.WorktreePath)})
				}
				a.printer.Table([]string{"ID", "NAME", "STATUS", "PRD", "WORKTREE"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func newStreamGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id|name>",
		Short: "Show a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			st, err := store.GetStream(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer.Result(st, func() { a.printStream(st) })
		},
	}
}

func newStreamStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id|name> <active|paused|completed|archived>",
		Short: "Change a stream's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := persistence.ParseStreamStatus(args[1])
			if err != nil {
				return err
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			st, err := store.UpdateStreamStatus(cmd.Context(), args[0], status)
			if err != nil {
				return err
			}
			return a.printer.Result(st, func() {
				a.printer.Success("Stream %s is now %s", st.Name, st.Status)
			})
		},
	}
}
