package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/basket/taskcopilot/internal/persistence"
)

// backup_restore_drill backs the database up while another connection keeps
// writing, then opens the copy and checks it is complete and consistent.
func main() {
	ctx := context.Background()
	baseDir, err := os.MkdirTemp("", "tc-backup-drill-*")
	if err != nil {
		fmt.Printf("mktemp_error=%v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(baseDir)

	dbPath := filepath.Join(baseDir, persistence.DirName, persistence.FileName)
	backupPath := filepath.Join(baseDir, "backup.db")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		fmt.Printf("mkdir_error=%v\n", err)
		os.Exit(1)
	}
	store, err := persistence.Open(dbPath, persistence.Options{})
	if err != nil {
		fmt.Printf("open_store_error=%v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	const seeded = 40
	for i := 0; i < seeded; i++ {
		task, err := store.CreateTask(ctx, persistence.CreateTaskInput{Title: fmt.Sprintf("backup-%d", i)})
		if err != nil {
			fmt.Printf("create_task_error=%v\n", err)
			os.Exit(1)
		}
		if _, err := store.Claim(ctx, task.ID, "drill"); err != nil {
			fmt.Printf("claim_task_error=%v\n", err)
			os.Exit(1)
		}
		done := persistence.TaskStatusCompleted
		if _, err := store.UpdateTask(ctx, task.ID, persistence.UpdateTaskInput{Status: &done}); err != nil {
			fmt.Printf("complete_task_error=%v\n", err)
			os.Exit(1)
		}
	}

	// A second agent keeps creating tasks through its own connection.
	writer, err := persistence.Open(dbPath, persistence.Options{})
	if err != nil {
		fmt.Printf("open_writer_error=%v\n", err)
		os.Exit(1)
	}
	defer writer.Close()
	var written atomic.Int64
	stop := make(chan struct{})
	writerDone := make(chan error, 1)
	go func() {
		for {
			select {
			case <-stop:
				writerDone <- nil
				return
			default:
			}
			if _, err := writer.CreateTask(ctx, persistence.CreateTaskInput{Title: "concurrent"}); err != nil {
				writerDone <- err
				return
			}
			written.Add(1)
		}
	}()

	backupStart := time.Now().UTC()
	if err := store.Backup(ctx, backupPath); err != nil {
		fmt.Printf("backup_error=%v\n", err)
		os.Exit(1)
	}
	backupEnd := time.Now().UTC()
	close(stop)
	if err := <-writerDone; err != nil {
		fmt.Printf("concurrent_writer_error=%v\n", err)
		os.Exit(1)
	}

	restoreStart := time.Now().UTC()
	restored, err := persistence.Open(backupPath, persistence.Options{})
	if err != nil {
		fmt.Printf("open_restore_error=%v\n", err)
		os.Exit(1)
	}
	defer restored.Close()
	restoreEnd := time.Now().UTC()

	counts, err := restored.Stats(ctx)
	if err != nil {
		fmt.Printf("stats_error=%v\n", err)
		os.Exit(1)
	}
	rows := map[string]int64{}
	for _, c := range counts {
		rows[c.Table] = c.Rows
	}
	integrity, err := restored.IntegrityCheck(ctx)
	if err != nil {
		fmt.Printf("integrity_error=%v\n", err)
		os.Exit(1)
	}
	halfClaimed, err := restored.ClaimInvariantViolations(ctx)
	if err != nil {
		fmt.Printf("claim_check_error=%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("backup_started=%s\n", backupStart.Format(time.RFC3339Nano))
	fmt.Printf("backup_completed=%s\n", backupEnd.Format(time.RFC3339Nano))
	fmt.Printf("backup_duration=%s\n", backupEnd.Sub(backupStart))
	fmt.Printf("restore_duration=%s\n", restoreEnd.Sub(restoreStart))
	fmt.Printf("concurrent_writes=%d\n", written.Load())
	fmt.Printf("restored_tasks=%d\n", rows["tasks"])
	fmt.Printf("restored_log_entries=%d\n", rows["agent_log"])
	fmt.Printf("integrity=%s\n", integrity)

	// Each seeded task logged a claim and a completion.
	if rows["tasks"] < seeded || rows["agent_log"] < 2*seeded || integrity != "ok" || len(halfClaimed) > 0 {
		fmt.Println("VERDICT FAIL")
		os.Exit(1)
	}
	fmt.Println("VERDICT PASS")
}
