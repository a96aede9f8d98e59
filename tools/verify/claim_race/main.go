//go:build ignore

// claim_race checks that claims stay exclusive across processes. It builds
// the tc binary, creates one task, starts many `tc task claim` processes
// against it at once, and verifies that:
//   - exactly one process exits 0 and every other one exits 3 (conflict)
//   - the task is owned by the winner and the log holds one claim entry
//   - tc doctor reports a healthy database afterwards
//
// Usage:
//
//	go run ./tools/verify/claim_race/ [-n 16]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/basket/taskcopilot/internal/config"
	"github.com/basket/taskcopilot/internal/persistence"
)

func main() {
	n := flag.Int("n", 16, "concurrent claimants")
	flag.Parse()
	if err := run(*n); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("VERDICT PASS (claim_race)")
}

func run(n int) error {
	ctx := context.Background()

	root := moduleRoot()
	binDir, err := os.MkdirTemp("", "claim-race-bin-*")
	if err != nil {
		return fmt.Errorf("mktemp bin: %w", err)
	}
	defer os.RemoveAll(binDir)
	binPath := filepath.Join(binDir, "tc")

	fmt.Println("BUILD tc binary...")
	build := exec.Command("go", "build", "-o", binPath, "./cmd/tc")
	build.Dir = root
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		return fmt.Errorf("build binary: %w", err)
	}

	project, err := os.MkdirTemp("", "claim-race-project-*")
	if err != nil {
		return fmt.Errorf("mktemp project: %w", err)
	}
	defer os.RemoveAll(project)
	dbPath := config.DBPathIn(project)

	if out, err := tc(binPath, dbPath, "init", "--path", project); err != nil {
		return fmt.Errorf("init: %w: %s", err, out)
	}
	if out, err := tc(binPath, dbPath, "task", "create", "--title", "contended"); err != nil {
		return fmt.Errorf("create task: %w: %s", err, out)
	}

	fmt.Printf("RACE %d claimants...\n", n)
	codes := make([]int, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := tc(binPath, dbPath, "task", "claim", "1", "--agent", fmt.Sprintf("agent-%02d", i))
			codes[i] = exitCode(err)
		}()
	}
	close(start)
	wg.Wait()

	winner := -1
	for i, code := range codes {
		switch code {
		case 0:
			if winner >= 0 {
				return fmt.Errorf("agents %d and %d both claimed task 1", winner, i)
			}
			winner = i
		case 3:
		default:
			return fmt.Errorf("agent %d exited %d, want 0 or 3", i, code)
		}
	}
	if winner < 0 {
		return errors.New("no claimant won")
	}
	fmt.Printf("WINNER agent-%02d\n", winner)

	store, err := persistence.Open(dbPath, persistence.Options{})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	task, err := store.GetTask(ctx, 1)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	want := fmt.Sprintf("agent-%02d", winner)
	if task.ClaimedBy == nil || *task.ClaimedBy != want || task.ClaimedAt == nil {
		return fmt.Errorf("task owned by %v, want %s", task.ClaimedBy, want)
	}
	entries, err := store.ListLog(ctx, persistence.LogFilter{TaskID: &task.ID})
	if err != nil {
		return fmt.Errorf("list log: %w", err)
	}
	if len(entries) != 1 || entries[0].Action != persistence.ActionClaimed {
		return fmt.Errorf("expected one claim entry, got %d", len(entries))
	}

	if out, err := tc(binPath, dbPath, "doctor"); err != nil {
		return fmt.Errorf("doctor: %w\n%s", err, out)
	}
	fmt.Println("ALL CHECKS PASSED")
	return nil
}

func tc(bin, dbPath string, args ...string) (string, error) {
	cmd := exec.Command(bin, append([]string{"--db", dbPath}, args...)...)
	cmd.Env = append(os.Environ(), "TC_AGENT=", "NO_COLOR=1")
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func moduleRoot() string {
	out, err := exec.Command("go", "env", "GOMOD").Output()
	if err != nil {
		fmt.Fprintf(os.Stderr, "go env GOMOD: %v\n", err)
		os.Exit(1)
	}
	gomod := strings.TrimSpace(string(out))
	if gomod == "" || gomod == os.DevNull {
		fmt.Fprintln(os.Stderr, "go env GOMOD returned empty; expected path to go.mod")
		os.Exit(1)
	}
	return filepath.Dir(gomod)
}
