package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newFakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tags", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tags":[{"name":"dessert","count":3},{"name":"soup","count":1}]}`))
	})
	mux.HandleFunc("/check-title", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		exists := strings.EqualFold(r.PostForm.Get("title"), "apple pie")
		_ = json.NewEncoder(w).Encode(map[string]bool{"exists": exists})
	})
	mux.HandleFunc("/delete", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("slug") != "toast" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success":false,"message":"Recipe not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"ready":false}`))
	})
	mux.HandleFunc("/bulk", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"batch_id":"b-1","results":[
			{"id":0,"url":"https://example.com/a","success":true,"proposed_slug":"a"},
			{"id":1,"url":"https://example.com/b","success":false,"message":"Unsafe URL"}]}`))
	})
	mux.HandleFunc("/bulk-commit", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BatchID string `json:"batch_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.BatchID != "b-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"saved":["a"],"skipped":1}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--api", srv.URL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTagsCommand(t *testing.T) {
	srv := newFakeAPI(t)
	out, err := execute(t, srv, "tags")
	if err != nil {
		t.Fatalf("tags: %v", err)
	}
	if !strings.Contains(out, "dessert") || !strings.Contains(out, "Recipes") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	out, err = execute(t, srv, "--json", "tags")
	if err != nil || !strings.Contains(out, `"count": 3`) {
		t.Fatalf("json output = %q, err = %v", out, err)
	}
}

func TestCheckCommand(t *testing.T) {
	srv := newFakeAPI(t)
	out, err := execute(t, srv, "check", "Apple", "Pie")
	if err != nil || strings.TrimSpace(out) != "taken" {
		t.Fatalf("out = %q err = %v", out, err)
	}
	out, err = execute(t, srv, "check", "Soup")
	if err != nil || strings.TrimSpace(out) != "available" {
		t.Fatalf("out = %q err = %v", out, err)
	}
}

func TestDeleteCommand(t *testing.T) {
	srv := newFakeAPI(t)
	out, err := execute(t, srv, "delete", "toast")
	if err != nil || !strings.Contains(out, "site not yet updated") {
		t.Fatalf("out = %q err = %v", out, err)
	}

	_, err = execute(t, srv, "delete", "missing")
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Message != "Recipe not found" {
		t.Fatalf("expected not-found api error, got %v", err)
	}
}

func TestImportCommand(t *testing.T) {
	srv := newFakeAPI(t)
	out, err := execute(t, srv, "import", "--commit", "https://example.com/a", "https://example.com/b")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	for _, want := range []string{"Batch b-1", "failed: Unsafe URL", "Saved 1, skipped 1, failed 0"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}

	if _, err := execute(t, srv, "import"); err == nil {
		t.Fatal("expected error without urls")
	}
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("https://a\n\n# comment\n  https://b  \n"), "-")
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[1] != "https://b" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestWSURL(t *testing.T) {
	c := &apiClient{baseURL: "https://recipes.example.com/api"}
	got, err := c.wsURL()
	if err != nil || got != "wss://recipes.example.com/api/ws" {
		t.Fatalf("wsURL = %q, %v", got, err)
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"1"}, {"2", "3"}}, []columnAlignment{alignLeft, alignRight})
	if !strings.Contains(out, "A") || !strings.Contains(out, "3") {
		t.Fatalf("table:\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty table without headers")
	}
}
