package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/basket/taskcopilot/internal/persistence"
)

func newPRDCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prd",
		Short: "Manage product requirement documents",
	}
	cmd.AddCommand(newPRDCreateCmd(a), newPRDListCmd(a), newPRDGetCmd(a), newPRDUpdateCmd(a))
	return cmd
}

// readContent returns the --content value, or the file named by --file.
func readContent(content, file string) (string, error) {
	if file == "" {
		return content, nil
	}
	if content != "" {
		return "", fmt.Errorf("%w: use either --content or --file", persistence.ErrValidation)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", persistence.ErrValidation, file, err)
	}
	return string(data), nil
}

func newPRDCreateCmd(a *app) *cobra.Command {
	var in persistence.CreatePRDInput
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a PRD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if in.Content, err = readContent(in.Content, file); err != nil {
				return err
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			prd, err := store.CreatePRD(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.printer.Result(prd, func() {
				a.printer.Success("Created PRD #%d: %s", prd.ID, prd.Title)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Title, "title", "", "PRD title")
	f.StringVar(&in.Description, "description", "", "short description")
	f.StringVar(&in.Content, "content", "", "PRD body")
	f.StringVar(&file, "file", "", "read the PRD body from a file")
	return cmd
}

func newPRDListCmd(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List PRDs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st persistence.PRDStatus
			if status != "" {
				var err error
				if st, err = persistence.ParsePRDStatus(status); err != nil {
					return err
				}
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			prds, err := store.ListPRDs(cmd.Context(), st)
			if err != nil {
				return err
			}
			if prds == nil {
				prds = []persistence.PRD{}
			}
			return a.printer.Result(prds, func() {
				rows := make([][]string, 0, len(prds))
				for _, p := range prds {
					rows = append(rows, []string{fmt.Sprint(p.ID), a.printer.Status(string(p.Status)), p.Title, str(p.Description)})
				}
				a.printer.Table([]string{"ID", "STATUS", "TITLE", "DESCRIPTION"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func newPRDGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a PRD with its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("prd", args[0])
			if err != nil {
				return err
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			prd, err := store.GetPRD(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.printer.Result(prd, func() { a.printPRD(prd) })
		},
	}
}

func newPRDUpdateCmd(a *app) *cobra.Command {
	var title, status, content, file string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a PRD's title, status or content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("prd", args[0])
			if err != nil {
				return err
			}
			var in persistence.UpdatePRDInput
			if cmd.Flags().Changed("title") {
				in.Title = &title
			}
			if cmd.Flags().Changed("status") {
				st, err := persistence.ParsePRDStatus(status)
				if err != nil {
					return err
				}
				in.Status = &st
			}
			if cmd.Flags().Changed("content") || file != "" {
				body, err := readContent(content, file)
				if err != nil {
					return err
				}
				in.Content = &body
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			prd, err := store.UpdatePRD(cmd.Context(), id, in)
			if err != nil {
				return err
			}
			return a.printer.Result(prd, func() {
				a.printer.Success("Updated PRD #%d: %s [%s]", prd.ID, prd.Title, prd.Status)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&title, "title", "", "new title")
	f.StringVar(&status, "status", "", "new status (active, completed, archived)")
	f.StringVar(&content, "content", "", "new body")
	f.StringVar(&file, "file", "", "read the new body from a file")
	return cmd
}
