//go:build unix

package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-supervisor/internal/history"
	"github.com/nerrad567/gray-logic-supervisor/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-supervisor/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-supervisor/internal/supervisor"
)

// shellConfig builds a config that runs script under /bin/sh.
func shellConfig(script, dbPath string, maxRestarts int) string {
	db := "database:\n  enabled: false\n"
	if dbPath != "" {
		db = "database:\n  enabled: true\n  path: \"" + dbPath + "\"\n"
	}
	return `
supervisor:
  name: test-worker
  max_restarts: ` + strconv.Itoa(maxRestarts) + `
  restart_delay: 10ms
worker:
  binary: /bin/sh
  args: ["-c", "` + script + `"]
  port: 3999
logging:
  level: warn
api:
  enabled: true
  host: 127.0.0.1
  port: 0
metrics:
  enabled: true
` + db
}

func runWithTimeout(t *testing.T, signals <-chan os.Signal) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return run(ctx, signals, nil)
}

func TestRun_CleanExit(t *testing.T) {
	writeConfig(t, shellConfig("exit 0", "", 3))

	err := runWithTimeout(t, nil)
	if err != nil {
		t.Fatalf("run() error = %v, want nil", err)
	}
	if code := supervisor.ExitCode(err); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestRun_BudgetExhausted(t *testing.T) {
	writeConfig(t, shellConfig("exit 7", "", 2))

	err := runWithTimeout(t, nil)
	if !errors.Is(err, supervisor.ErrRestartBudgetExhausted) {
		t.Fatalf("run() error = %v, want ErrRestartBudgetExhausted", err)
	}
	if code := supervisor.ExitCode(err); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestRun_SignalStopsWorker(t *testing.T) {
	writeConfig(t, shellConfig("exec sleep 30", "", 3))

	signals := make(chan os.Signal, 1)
	go func() {
		time.Sleep(200 * time.Millisecond)
		signals <- syscall.SIGTERM
	}()

	start := time.Now()
	if err := runWithTimeout(t, signals); err != nil {
		t.Fatalf("run() error = %v, want nil", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("run() took %v, shutdown did not stop the worker promptly", elapsed)
	}
}

func TestRun_ReleasesSignalsOnStop(t *testing.T) {
	writeConfig(t, shellConfig("exec sleep 30", "", 3))

	signals := make(chan os.Signal, 1)
	go func() {
		time.Sleep(200 * time.Millisecond)
		signals <- syscall.SIGTERM
	}()

	var released atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := run(ctx, signals, func() { released.Add(1) }); err != nil {
		t.Fatalf("run() error = %v, want nil", err)
	}
	if got := released.Load(); got != 1 {
		t.Errorf("releaseSignals called %d times, want 1", got)
	}
}

func TestRun_StartupFailureKeepsSignals(t *testing.T) {
	// A regular file where the database directory should be.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatalf("writing blocker: %v", err)
	}
	dbPath := filepath.Join(blocker, "supervisor.db")
	writeConfig(t, shellConfig("exit 0", dbPath, 3))

	var released atomic.Int32
	if err := run(context.Background(), nil, func() { released.Add(1) }); err == nil {
		t.Fatal("run() error = nil, want database directory error")
	}
	if got := released.Load(); got != 0 {
		t.Errorf("releaseSignals called %d times before a supervisor ran", got)
	}
}

func TestRun_RecordsHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "supervisor.db")
	writeConfig(t, shellConfig("exit 0", dbPath, 1))

	// Two runs so the second one finds a previous run.
	for i := 0; i < 2; i++ {
		if err := runWithTimeout(t, nil); err != nil {
			t.Fatalf("run() #%d error = %v", i+1, err)
		}
	}

	db, err := database.Open(config.DatabaseConfig{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	repo := history.NewRepository(db.DB)
	entries, err := repo.Recent(context.Background(), "", 200)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) < 4 {
		t.Fatalf("Recent() returned %d entries, want at least 4", len(entries))
	}
	if entries[0].To != supervisor.StateStoppedClean {
		t.Errorf("newest transition = %s, want %s", entries[0].To, supervisor.StateStoppedClean)
	}

	runs := map[string]bool{}
	for _, e := range entries {
		runs[e.RunID] = true
		if e.Name != "test-worker" {
			t.Errorf("entry name = %q, want test-worker", e.Name)
		}
	}
	if len(runs) != 2 {
		t.Errorf("distinct run ids = %d, want 2", len(runs))
	}
}
