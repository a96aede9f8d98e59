package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/basket/taskcopilot/internal/config"
	"github.com/basket/taskcopilot/internal/persistence"
	"github.com/basket/taskcopilot/internal/tui"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		refresh       int
		compact, once bool
		stream        string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of streams, agents and activity",
		Long: `Show a live dashboard of progress, active agents and recent activity.
The dashboard only reads, so it never blocks agents writing to the
database. When stdout is not a terminal, or with --once, a single
snapshot is printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			streamID, err := a.streamRef(cmd, stream)
			if err != nil {
				return err
			}
			interval := a.cfg.RefreshInterval()
			if cmd.Flags().Changed("refresh") {
				if refresh <= 0 {
					return fmt.Errorf("%w: --refresh must be at least 1 second", persistence.ErrValidation)
				}
				interval = time.Duration(refresh) * time.Second
			}
			compact = compact || a.cfg.Watch.Compact
			logLimit := a.cfg.Watch.LogEntries
			if compact {
				logLimit = 0
			}

			opts := tui.Options{
				Fetch: func(ctx context.Context) (*persistence.Dashboard, error) {
					return store.DashboardSnapshot(ctx, streamID, logLimit)
				},
				Refresh: interval,
				Compact: compact,
				Title:   store.Path(),
			}
			if stream != "" {
				opts.Title = stream
			}

			if once || a.jsonOut || !isTerminal(a.stdout) {
				snap, err := opts.Fetch(ctx)
				if err != nil {
					return err
				}
				return a.printer.Result(snap, func() {
					fmt.Fprintln(a.printer.Out(), tui.Render(snap, opts))
				})
			}

			if follow := a.cfg.Watch.FollowWrites; follow == nil || *follow {
				w := config.NewWatcher(store.Path(), a.logger)
				if err := w.Start(ctx); err != nil {
					a.logger.WarnContext(ctx, "database watcher unavailable; polling only", "component", "cli", "error", err)
				} else {
					opts.Changes = w.Events()
				}
			}
			return tui.Run(ctx, opts)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&refresh, "refresh", "r", 0, "seconds between refreshes (default from config, 5)")
	f.BoolVar(&compact, "compact", false, "hide the activity panel")
	f.StringVarP(&stream, "stream", "s", "", "only this stream (id or name)")
	f.BoolVar(&once, "once", false, "print one snapshot and exit")
	return cmd
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
