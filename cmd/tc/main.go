package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/basket/taskcopilot/internal/config"
	"github.com/basket/taskcopilot/internal/persistence"
	"github.com/basket/taskcopilot/internal/printer"
	"github.com/basket/taskcopilot/internal/shared"
	"github.com/basket/taskcopilot/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one tc invocation and returns its exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	a := &app{stdout: stdout, stderr: stderr, logger: telemetry.Discard()}
	defer a.close(context.WithoutCancel(ctx))

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return a.exitCode
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	a.reportError(err)
	return persistence.Classify(err).ExitCode()
}

func (a *app) reportError(err error) {
	p := a.printer
	if p == nil {
		p = printer.New(a.stdout, a.stderr, a.jsonOut)
	}
	kind := persistence.Classify(err)
	var suggestions []string
	switch {
	case errors.Is(err, config.ErrNoDatabase):
		suggestions = []string{"Run `tc init` in the project root", "Point at a database with --db or TC_DB"}
	case kind == persistence.KindDatabase:
		suggestions = []string{"Another agent may hold the write lock; retry, or raise busy_timeout_ms", "Run `tc doctor` to check the database file"}
	}
	p.Error(kind.String(), err.Error(), "", suggestions)
	a.logger.Info("command failed", "component", "cli", "kind", kind.String(), "error", err)
}
