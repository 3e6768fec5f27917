package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/caioqm/deskchat/internal/api"
	"github.com/caioqm/deskchat/internal/backend"
	"github.com/caioqm/deskchat/internal/bus"
	"github.com/caioqm/deskchat/internal/lock"
	"github.com/caioqm/deskchat/internal/media"
	"github.com/caioqm/deskchat/internal/outbox"
	"github.com/caioqm/deskchat/internal/search"
	"github.com/caioqm/deskchat/internal/status"
	"github.com/caioqm/deskchat/internal/store"
	"github.com/caioqm/deskchat/internal/transport"
)

type noDialer struct{}

func (noDialer) Dial(ctx context.Context, _ string) (transport.Channel, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type noPoller struct{}

func (noPoller) FetchSince(context.Context, string, int64) ([]backend.Message, error) {
	return nil, nil
}

// TestDaemonLifecycle assembles the daemon's components by hand, serves the
// control API on a unix socket and drives it the way an attached client
// would.
func TestDaemonLifecycle(t *testing.T) {
	// Use a short path to avoid macOS 104-char unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "deskchat-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	sessionDir := filepath.Join(tmpDir, "test")
	socketPath := filepath.Join(sessionDir, "d.sock")
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		t.Fatal(err)
	}

	lk, err := lock.Acquire(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(sessionDir, "deskchat.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	manager := transport.NewManager(noDialer{}, noPoller{}, db, machine, b, logger, transport.Config{})
	defer manager.Close()

	srv := api.NewServer(socketPath, api.Deps{
		DB:      db,
		Machine: machine,
		Manager: manager,
		Queue:   outbox.NewQueue(db, b),
		Stager:  media.NewStager(backend.NewClient("http://unused", "t"), media.Limits{}, logger),
		Index:   search.NewIndex(db),
	}, logger)
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}()

	httpc := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}}

	// Status starts out connecting over realtime.
	var st struct {
		State string `json:"state"`
		Mode  string `json:"mode"`
	}
	getJSON(t, httpc, "http://deskchat/v1/status", &st)
	if st.State != string(status.Connecting) || st.Mode != "realtime" {
		t.Errorf("status = %+v", st)
	}

	// An empty log lists as empty.
	var msgs struct {
		Messages []store.Message `json:"messages"`
	}
	getJSON(t, httpc, "http://deskchat/v1/chats/c1/messages", &msgs)
	if len(msgs.Messages) != 0 {
		t.Errorf("expected 0 messages, got %d", len(msgs.Messages))
	}

	// Ingest an inbound message directly and query it back.
	if _, err := db.AppendInbound(&store.Message{
		ChatID: "c1", ServerID: "srv-1", Sender: store.SenderAgent,
		Body: "hello world", Status: store.StatusDelivered,
	}); err != nil {
		t.Fatal(err)
	}
	getJSON(t, httpc, "http://deskchat/v1/chats/c1/messages", &msgs)
	if len(msgs.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs.Messages))
	}

	// Search finds it with a highlighted span.
	var results struct {
		Matches []search.Match `json:"matches"`
	}
	getJSON(t, httpc, "http://deskchat/v1/chats/c1/search?q=hello", &results)
	if len(results.Matches) != 1 || len(results.Matches[0].Spans) != 1 {
		t.Fatalf("search = %+v", results.Matches)
	}

	// A send is accepted and lands in the log at sending.
	resp, err := httpc.Post("http://deskchat/v1/chats/c1/messages", "application/json",
		strings.NewReader(`{"body":"test"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send status = %d", resp.StatusCode)
	}
	var sent store.Message
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		t.Fatal(err)
	}
	if sent.Status != store.StatusSending || sent.TempID == "" {
		t.Errorf("sent = %+v", sent)
	}
}

// TestSecondDaemonRefused verifies the single-writer rule: a second daemon
// on the same session directory must fail to acquire the lock.
func TestSecondDaemonRefused(t *testing.T) {
	dir := t.TempDir()
	lk, err := lock.Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	if _, err := lock.Acquire(dir); err == nil {
		t.Fatal("second acquire succeeded")
	}
}

func getJSON(t *testing.T, c *http.Client, url string, out any) {
	t.Helper()
	resp, err := c.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s = %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}
