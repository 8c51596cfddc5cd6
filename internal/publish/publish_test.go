package publish

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"recipebox/internal/logging"
)

func TestTriggerTouchesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("title = 'x'\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	want := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	tr := NewTrigger(path, logging.NewNop())
	tr.Now = func() time.Time { return want }
	tr.Rebuild()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(want) {
		t.Fatalf("mtime = %s, want %s", info.ModTime(), want)
	}
}

func TestTriggerMissingFileIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	NewTrigger(path, logging.NewNop()).Rebuild()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("trigger must not create the config file")
	}
}

func TestAwaitReadyAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recipes/apple-pie/" {
			http.NotFound(w, r)
			return
		}
		if hits.Add(1) < 3 {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPoller(srv.URL+"/", time.Millisecond, 5, logging.NewNop())
	if got := p.Await(context.Background(), "apple-pie"); got != StatusReady {
		t.Fatalf("status = %s", got)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", hits.Load())
	}
}

func TestAwaitGivesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := NewPoller(srv.URL, time.Millisecond, 4, logging.NewNop())
	if got := p.Await(context.Background(), "soup"); got.Ready() {
		t.Fatal("expected pending")
	}
	if hits.Load() != 4 {
		t.Fatalf("expected 4 polls, got %d", hits.Load())
	}
	if got := p.AwaitGone(context.Background(), "soup"); got != StatusReady {
		t.Fatalf("AwaitGone = %s", got)
	}
}

func TestAwaitDisabled(t *testing.T) {
	p := NewPoller("http://127.0.0.1:1", time.Millisecond, 0, logging.NewNop())
	if got := p.Await(context.Background(), "x"); got != StatusPending {
		t.Fatalf("status = %s", got)
	}
}

func TestAwaitStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPoller(srv.URL, time.Hour, 3, logging.NewNop())
	start := time.Now()
	if got := p.Await(ctx, "x"); got != StatusPending {
		t.Fatalf("status = %s", got)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancelled wait should return promptly")
	}
}
