package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basket/taskcopilot/internal/persistence"
)

func newProgressCmd(a *app) *cobra.Command {
	var stream string
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Count tasks per stream and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			streamID, err := a.streamRef(cmd, stream)
			if err != nil {
				return err
			}
			prog, err := store.Progress(cmd.Context(), streamID)
			if err != nil {
				return err
			}
			return a.printer.Result(prog, func() { a.printProgress(prog) })
		},
	}
	cmd.Flags().StringVarP(&stream, "stream", "s", "", "only this stream (id or name)")
	return cmd
}

func newHandoffCmd(a *app) *cobra.Command {
	var in persistence.HandoffInput
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Reassign a task to another agent with context",
		Long: `Reassign a task to another agent and record the reason in the activity
log. Any claim stays in place; the receiving agent claims when ready.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("task") {
				return fmt.Errorf("%w: --task is required", persistence.ErrValidation)
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			if in.From, err = a.agent(in.From); err != nil {
				return err
			}
			task, err := store.Handoff(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.printer.Result(task, func() {
				a.printer.Success("Task #%d handed off from %s to %s", task.ID, in.From, in.To)
			})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&in.TaskID, "task", 0, "task to hand off")
	f.StringVar(&in.From, "from", "", "current agent (default TC_AGENT)")
	f.StringVar(&in.To, "to", "", "receiving agent")
	f.StringVar(&in.Context, "context", "", "why, and what the next agent needs to know")
	return cmd
}

func newLogCmd(a *app) *cobra.Command {
	var (
		f      persistence.LogFilter
		stream string
		task   int64
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the activity log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			if f.StreamID, err = a.streamRef(cmd, stream); err != nil {
				return err
			}
			f.TaskID = optionalID(cmd, "task", task)
			entries, err := store.ListLog(cmd.Context(), f)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []persistence.LogEntry{}
			}
			return a.printer.Result(entries, func() { a.printLog(entries) })
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.Agent, "agent", "", "filter by agent")
	fl.StringVar(&stream, "stream", "", "filter by stream id or name")
	fl.Int64Var(&task, "task", 0, "filter by task id")
	fl.IntVar(&f.Limit, "limit", 50, "maximum entries")
	return cmd
}
