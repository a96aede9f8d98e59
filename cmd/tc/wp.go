package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/basket/taskcopilot/internal/persistence"
)

func newWPCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wp",
		Aliases: []string{"work-product"},
		Short:   "Store and search work products",
	}
	cmd.AddCommand(newWPStoreCmd(a), newWPGetCmd(a), newWPListCmd(a), newWPSearchCmd(a))
	return cmd
}

func newWPStoreCmd(a *app) *cobra.Command {
	var (
		in   persistence.StoreWorkProductInput
		file string
	)
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Record an artifact produced for a task",
		Long: `Record an artifact produced for a task. The body comes from --content,
--file, or standard input with --file -. Bodies larger than the inline
threshold are written to the content directory next to the database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("task") {
				return fmt.Errorf("%w: --task is required", persistence.ErrValidation)
			}
			if file == "-" {
				if in.Content != "" {
					return fmt.Errorf("%w: use either --content or --file", persistence.ErrValidation)
				}
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				in.Content = string(data)
			} else {
				var err error
				if in.Content, err = readContent(in.Content, file); err != nil {
					return err
				}
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			if in.Agent == "" {
				in.Agent = a.cfg.Agent
			}
			wp, err := store.StoreWorkProduct(cmd.Context(), in)
			if err != nil {
				return err
			}
			wp.Content = nil
			return a.printer.Result(wp, func() {
				a.printer.Success("Stored work product #%d: %s", wp.ID, wp.Title)
				if wp.FilePath != nil {
					a.printer.Step("Body written to %s", *wp.FilePath)
				}
			})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&in.TaskID, "task", 0, "task the artifact belongs to")
	f.StringVar(&in.Type, "type", "", "artifact type, e.g. implementation, test, review")
	f.StringVar(&in.Title, "title", "", "artifact title")
	f.StringVar(&in.Content, "content", "", "artifact body")
	f.StringVar(&file, "file", "", "read the body from a file, - for stdin")
	f.StringVar(&in.Agent, "agent", "", "producing agent (default TC_AGENT)")
	return cmd
}

func newWPGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a work product with its body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("work product", args[0])
			if err != nil {
				return err
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			wp, err := store.GetWorkProduct(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.printer.Result(wp, func() {
				a.printer.Fields(
					[2]string{"Work product", fmt.Sprintf("#%d %s", wp.ID, wp.Title)},
					[2]string{"Type", wp.Type},
					[2]string{"Task", ref(wp.TaskID)},
					[2]string{"Agent", str(wp.Agent)},
					[2]string{"File", str(wp.FilePath)},
					[2]string{"Created", stamp(&wp.CreatedAt)},
				)
				if body := str(wp.Content); body != "" {
					a.printer.Info("\n%s\n", body)
				}
			})
		},
	}
}

func newWPListCmd(a *app) *cobra.Command {
	var (
		f    persistence.WorkProductFilter
		task int64
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work products, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			f.TaskID = optionalID(cmd, "task", task)
			wps, err := store.ListWorkProducts(cmd.Context(), f)
			if err != nil {
				return err
			}
			if wps == nil {
				wps = []persistence.WorkProduct{}
			}
			return a.printer.Result(wps, func() { a.printWorkProducts(wps) })
		},
	}
	fl := cmd.Flags()
	fl.Int64Var(&task, "task", 0, "filter by task id")
	fl.StringVar(&f.Type, "type", "", "filter by type")
	fl.StringVar(&f.Agent, "agent", "", "filter by agent")
	return cmd
}

func newWPSearchCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over work products",
		Long: `Full-text search over work product titles, bodies, types and agents.
Supports the SQLite FTS query syntax: prefix* terms, "quoted phrases", OR.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			hits, err := store.SearchWorkProducts(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if hits == nil {
				hits = []persistence.WorkProduct{}
			}
			return a.printer.Result(hits, func() { a.printWorkProducts(hits) })
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	return cmd
}
