package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/telvault/telvault/internal/api"
	"github.com/telvault/telvault/internal/bus"
	"github.com/telvault/telvault/internal/lock"
	"github.com/telvault/telvault/internal/status"
	"github.com/telvault/telvault/internal/store"
	syncengine "github.com/telvault/telvault/internal/sync"
	"github.com/telvault/telvault/internal/telegram/telegramtest"
)

func TestDaemonLifecycle(t *testing.T) {
	// Use a short path to avoid the unix socket length limit.
	tmpDir, err := os.MkdirTemp("/tmp", "tv-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	sessionDir := filepath.Join(tmpDir, "test")
	socketPath := filepath.Join(sessionDir, "d.sock")
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		t.Fatal(err)
	}

	lk, err := lock.Acquire(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(sessionDir, "telvault.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	fake := &telegramtest.Fake{}
	manager := syncengine.NewManager(db, fake, nil, b, machine, logger, 100, false)
	defer manager.Close()
	handler := api.NewHandler(db, manager, b, machine, logger, "test")

	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, logger, handler)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	// The socket must be private to the owner.
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket perm = %o, want 600", perm)
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://telvault/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["session"] != "test" {
		t.Errorf("session = %q", out["session"])
	}
	if out["state"] != string(status.Booting) {
		t.Errorf("state = %q, want BOOTING before lifecycle start", out["state"])
	}

	// Conversations endpoint works over the socket too.
	resp2, err := client.Get("http://telvault/v1/conversations")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp2.Body.Close() }()
	var convs []json.RawMessage
	if err := json.NewDecoder(resp2.Body).Decode(&convs); err != nil {
		t.Fatal(err)
	}
	if len(convs) != 0 {
		t.Errorf("expected empty archive, got %d conversations", len(convs))
	}
}

func TestServerReplacesStaleSocket(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "tv-stale-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")

	// Leave a dead socket behind, as a crashed daemon would.
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Close()
	if err := os.WriteFile(socketPath, nil, 0600); err != nil && !os.IsExist(err) {
		// A closed unix listener removes its socket file on some
		// platforms; recreate something stale either way.
		t.Fatal(err)
	}

	db, err := store.Open(filepath.Join(tmpDir, "telvault.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	manager := syncengine.NewManager(db, &telegramtest.Fake{}, nil, b, machine, logger, 100, false)
	defer manager.Close()
	handler := api.NewHandler(db, manager, b, machine, logger, "test")

	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, logger, handler)
	if err != nil {
		t.Fatalf("stale socket not replaced: %v", err)
	}
	srv.Stop(context.Background())
}
