package dispatch

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amariwan/cronexec/internal/models"
	"github.com/amariwan/cronexec/internal/util"
	"golang.org/x/crypto/ssh"
)

func TestShellDispatch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping on windows")
	}
	logger := util.NewLogger("error")

	tests := []struct {
		name    string
		command string
		timeout time.Duration
		wantErr string
	}{
		{name: "success", command: "true"},
		{name: "pipeline", command: "echo hi | grep hi"},
		{name: "failure", command: "exit 3", wantErr: "command failed"},
		{name: "timeout", command: "sleep 5", timeout: 100 * time.Millisecond, wantErr: "timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewShell("", tt.timeout, logger)
			err := d.Dispatch(context.Background(), tt.command)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Dispatch(%q) error = %v", tt.command, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Dispatch(%q) error = %v, want containing %q", tt.command, err, tt.wantErr)
			}
		})
	}
}

func TestShellDispatch_WritesFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping on windows")
	}
	out := filepath.Join(t.TempDir(), "out.txt")
	d := NewShell("/bin/sh", time.Second, util.NewLogger("error"))
	if err := d.Dispatch(context.Background(), "echo 'say hi' > "+out); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "say hi" {
		t.Errorf("file content = %q", data)
	}
}

type countingDispatcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingDispatcher) Dispatch(ctx context.Context, command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func TestLimited(t *testing.T) {
	inner := &countingDispatcher{}
	if d := NewLimited(inner, 0); d != Dispatcher(inner) {
		t.Error("NewLimited with 0 should return the inner dispatcher")
	}

	d := NewLimited(inner, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	for i := 0; i < 2; i++ {
		if err := d.Dispatch(ctx, "x"); err != nil {
			t.Fatalf("burst dispatch %d error = %v", i, err)
		}
	}
	// The third call needs 30s of refill and must give up with the context.
	if err := d.Dispatch(ctx, "x"); err == nil {
		t.Error("expected rate limit error")
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
}

type memoryStore struct {
	records []models.DispatchRecord
}

func (m *memoryStore) Save(rec models.DispatchRecord) error {
	m.records = append(m.records, rec)
	return nil
}

type memoryAlerter struct {
	alerts []models.DispatchRecord
}

func (m *memoryAlerter) Alert(ctx context.Context, rec models.DispatchRecord) error {
	m.alerts = append(m.alerts, rec)
	return nil
}

func TestRecorded(t *testing.T) {
	store := &memoryStore{}
	alerter := &memoryAlerter{}
	inner := &countingDispatcher{}
	d := NewRecorded(inner, store, alerter, util.NewLogger("error"))

	if err := d.Dispatch(context.Background(), "backup --password=hunter2"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	inner.err = errors.New("exit status 1")
	if err := d.Dispatch(context.Background(), "say fail"); err == nil {
		t.Fatal("expected inner error to propagate")
	}

	if len(store.records) != 2 {
		t.Fatalf("stored %d records, want 2", len(store.records))
	}
	if store.records[0].RunID == "" || store.records[0].RunID == store.records[1].RunID {
		t.Errorf("run IDs not unique: %q %q", store.records[0].RunID, store.records[1].RunID)
	}
	if strings.Contains(store.records[0].Command, "hunter2") {
		t.Errorf("stored command not sanitized: %q", store.records[0].Command)
	}
	if store.records[0].Failed() || !store.records[1].Failed() {
		t.Errorf("failure flags wrong: %+v", store.records)
	}
	if len(alerter.alerts) != 1 || alerter.alerts[0].Command != "say fail" {
		t.Errorf("alerts = %+v, want one for say fail", alerter.alerts)
	}
}

func TestNew_Modes(t *testing.T) {
	logger := util.NewLogger("error")

	if _, err := New(Options{Mode: "carrier-pigeon"}, logger); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := New(Options{Mode: ModeSSH}, logger); err == nil {
		t.Error("expected error for ssh mode without host")
	}

	d, err := New(Options{Mode: ModeLog}, logger)
	if err != nil {
		t.Fatalf("New(log) error = %v", err)
	}
	if err := d.Dispatch(context.Background(), "say hi"); err != nil {
		t.Errorf("log dispatch error = %v", err)
	}
}

func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewSSH(t *testing.T) {
	logger := util.NewLogger("error")
	key := writeTestKey(t)

	if _, err := NewSSH(SSHConfig{Host: "example.com", KeyFile: key}, logger); err == nil {
		t.Error("expected error without known_hosts or insecure")
	}
	if _, err := NewSSH(SSHConfig{Host: "example.com", KeyFile: filepath.Join(t.TempDir(), "missing")}, logger); err == nil {
		t.Error("expected error for missing key")
	}

	d, err := NewSSH(SSHConfig{Host: "example.com", User: "cron", KeyFile: key, Insecure: true}, logger)
	if err != nil {
		t.Fatalf("NewSSH() error = %v", err)
	}
	if got := d.addr(); got != "example.com:22" {
		t.Errorf("addr() = %q, want example.com:22", got)
	}
}

func TestSSHDispatch_StalledHandshakeTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	// Accept and never speak.
	var conns []net.Conn
	var mu sync.Mutex
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	d, err := NewSSH(SSHConfig{
		Host:     "127.0.0.1",
		Port:     addr.Port,
		User:     "cron",
		KeyFile:  writeTestKey(t),
		Insecure: true,
		Timeout:  300 * time.Millisecond,
	}, util.NewLogger("error"))
	if err != nil {
		t.Fatalf("NewSSH() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Dispatch(context.Background(), "true") }()

	select {
	case err := <-done:
		if err == nil || !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Dispatch() error = %v, want deadline exceeded", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Dispatch still blocked after 3s with a 300ms timeout")
	}
}
