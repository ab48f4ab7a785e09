package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amariwan/cronexec/internal/models"
	"github.com/amariwan/cronexec/internal/storage"
)

// execute runs rootCmd with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yml"), "--log-level", "error"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootPrintsUsage(t *testing.T) {
	out, err := execute(t)
	if err != nil {
		t.Fatalf("root command error = %v", err)
	}
	if !strings.Contains(out, "Usage: cronexec <reload|list>") {
		t.Errorf("expected usage message, got %q", out)
	}
}

func TestCheckCommand(t *testing.T) {
	good := writeFile(t, "good.txt", "* * * * * say hi\n0 0 * * * say night\n")
	out, err := execute(t, "check", good)
	if err != nil {
		t.Fatalf("check on valid file error = %v", err)
	}
	if !strings.Contains(out, "2 rules, 0 rejected") {
		t.Errorf("unexpected output %q", out)
	}

	bad := writeFile(t, "bad.txt", "* * * * * say hi\n* * * say broken\n")
	out, err = execute(t, "check", bad)
	if err == nil {
		t.Fatal("expected error for malformed line")
	}
	if !strings.Contains(out, "1 rules, 1 rejected") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestListOffline(t *testing.T) {
	path := writeFile(t, "crontab.txt", "*/15 * * * * say quarter\n")

	// The crontab path comes from the config file.
	cfgPath := writeFile(t, "cronexec.yml", "crontab: "+path+"\n")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--config", cfgPath, "--log-level", "error", "list", "--offline", "--format", "text"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("list --offline error = %v", err)
	}
	if !strings.Contains(out.String(), "Minute: */15") || !strings.Contains(out.String(), "say quarter") {
		t.Errorf("unexpected listing %q", out.String())
	}
	listOffline = false
}

func TestHistoryCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := storage.NewHistoryStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(models.DispatchRecord{
		RunID:     "r1",
		Command:   "say hi",
		StartTime: time.Now(),
		Duration:  time.Second,
		Error:     "exit status 1",
	}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	cfgPath := writeFile(t, "cronexec.yml", "history:\n  path: "+dbPath+"\n")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--config", cfgPath, "--log-level", "error", "history", "--limit", "5"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(out.String(), "failed: exit status 1") || !strings.Contains(out.String(), "say hi") {
		t.Errorf("unexpected history %q", out.String())
	}
}

func TestRunDryRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	crontabFile := filepath.Join(dir, "crontab.txt")
	if err := os.WriteFile(crontabFile, []byte("* * * * * say hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := writeFile(t, "cronexec.yml", "history:\n  path: \"\"\ncontrol:\n  addr: \"\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--config", cfgPath, "--log-level", "error", "run", "--dry-run", "--crontab", crontabFile})

	done := make(chan error, 1)
	go func() { done <- rootCmd.ExecuteContext(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after context cancel")
	}
	dryRun = false
}

func TestBadConfigIsUsageError(t *testing.T) {
	cfgPath := writeFile(t, "cronexec.yml", "dispatch:\n  mode: telnet\n")
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"--config", cfgPath, "check"})
	err := rootCmd.Execute()
	if _, ok := err.(*usageError); !ok {
		t.Fatalf("expected usageError, got: %T %v", err, err)
	}
}

func TestHistoryAnomalies(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := storage.NewHistoryStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	durations := []time.Duration{100, 110, 105, 95, 100, 5000}
	for i, d := range durations {
		if err := store.Save(models.DispatchRecord{
			RunID:     "backup-" + strings.Repeat("x", i+1),
			Command:   "backup.sh",
			StartTime: start.Add(time.Duration(i) * time.Minute),
			Duration:  d * time.Millisecond,
		}); err != nil {
			t.Fatal(err)
		}
	}
	store.Close()

	cfgPath := writeFile(t, "cronexec.yml", "history:\n  path: "+dbPath+"\n")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--config", cfgPath, "--log-level", "error", "history", "--anomalies", "--limit", "50"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("history --anomalies error = %v", err)
	}
	historyAnomalies = false

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one slow run, got %q", out.String())
	}
	if !strings.Contains(lines[1], "5s") || !strings.Contains(lines[1], "backup.sh") {
		t.Errorf("unexpected anomaly row %q", lines[1])
	}
}
