package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/taskcopilot/internal/config"
	"github.com/basket/taskcopilot/internal/doctor"
	"github.com/basket/taskcopilot/internal/persistence"
)

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the database and settings",
		Long: `Run diagnostic checks: settings, WAL mode, file integrity, schema
version, the claim invariant and dependency cycles. Exits 1 when any
check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := doctor.Inputs{Version: Version}
			dbPath, err := config.ResolveDBPath(a.dbFlag)
			if err != nil {
				in.ConfigErr = err
			} else {
				cfg, err := config.Load(dbPath)
				in.Config, in.ConfigErr = &cfg, err
				in.Open = func(context.Context) (*persistence.Store, error) {
					store, err := a.openAt(cmd, dbPath)
					// Run closes the store it diagnoses.
					a.store = nil
					return store, err
				}
			}

			diag := doctor.Run(cmd.Context(), in)
			if !diag.Healthy() {
				a.exitCode = 1
			}
			return a.printer.Result(diag, func() { a.printDiagnosis(diag) })
		},
	}
}

func (a *app) printDiagnosis(d doctor.Diagnosis) {
	p := a.printer
	p.Info("tc doctor report (%s)\n", d.Timestamp.Format(time.RFC3339))
	p.Info("System: %s/%s (%s), tc %s\n", d.System.OS, d.System.Arch, d.System.Go, d.System.Version)
	if d.Database != "" {
		p.Info("Database: %s\n", d.Database)
	}
	p.Info("---\n")

	failCount := 0
	for _, res := range d.Results {
		icon := "✅"
		switch res.Status {
		case doctor.StatusFail:
			icon = "❌"
			failCount++
		case doctor.StatusWarn:
			icon = "⚠️ "
		case doctor.StatusSkip:
			icon = "⏩"
		}
		p.Info("%s %-18s: %s\n", icon, res.Name, res.Message)
		if res.Detail != "" {
			p.Info("    %s\n", p.Dim(res.Detail))
		}
	}
	if failCount > 0 {
		p.Warning("%d check(s) failed", failCount)
	}
}

