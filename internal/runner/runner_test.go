package runner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ajitpratap0/comet/pkg/checkpoint"
	"github.com/ajitpratap0/comet/pkg/config"
	"github.com/ajitpratap0/comet/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAPI serves a two-page ticket collection and a one-page user
// collection with the wire shape the paginator expects.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	var srv *httptest.Server
	mux.HandleFunc("/tickets.json", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"tickets":[{"id":11,"subject":"Monitor flickers","requester_id":7}],"next_page":null}`)
			return
		}
		fmt.Fprintf(w, `{"tickets":[{"id":10,"subject":"Printer on fire","requester_id":7}],"next_page":"%s/tickets.json?page=2"}`, srv.URL)
	})
	mux.HandleFunc("/users.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"users":[{"id":7,"name":"Jordan Lee","active":true}],"next_page":null}`)
	})
	mux.HandleFunc("/tickets/10/comments.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"comments":[{"id":501,"author_id":7,"body":"Extinguished and replaced the fuser."}],"next_page":null}`)
	})
	mux.HandleFunc("/tickets/11/comments.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"comments":[{"id":502,"author_id":99,"body":"Cable reseated."}],"next_page":null}`)
	})
	mux.HandleFunc("/users/me.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"user":{"id":1,"email":"ops@acme.example"}}`)
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.API.BaseURL = baseURL
	cfg.API.Email = "ops@acme.example"
	cfg.API.APIToken = "secret"
	cfg.Collection.Entities = []string{"tickets", "users"}
	cfg.Output.BaseDirectory = filepath.Join(t.TempDir(), "export")
	cfg.Output.StateFile = ""
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	srv := fakeAPI(t)
	cfg := testConfig(t, srv.URL)

	res, err := New(cfg, zap.NewNop()).Run(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, 3, res.DocumentsEmitted)
	assert.False(t, res.Summary.AuthFailed)
	assert.Len(t, res.Summary.Completed, 2)
	assert.Zero(t, res.Summary.UnresolvedReferences)

	// Documents land under the per-entity directories.
	for _, rel := range []string{
		"tickets/printer-on-fire.md",
		"tickets/monitor-flickers.md",
		"users/jordan-lee.md",
	} {
		_, err := os.Stat(filepath.Join(cfg.Output.BaseDirectory, rel))
		assert.NoError(t, err, rel)
	}

	// The ticket references its requester by relative path and carries
	// its comment thread with a resolved author name.
	body, err := os.ReadFile(filepath.Join(cfg.Output.BaseDirectory, "tickets", "printer-on-fire.md"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "[jordan-lee](../users/jordan-lee.md)")
	assert.Contains(t, string(body), "## Comments")
	assert.Contains(t, string(body), "### Jordan Lee")
	assert.Contains(t, string(body), "Extinguished and replaced the fuser.")

	// Comment author 99 was never collected.
	body, err = os.ReadFile(filepath.Join(cfg.Output.BaseDirectory, "tickets", "monitor-flickers.md"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "### Unknown")
}

// TestRunPartialTaskFailure exercises the degraded path end to end: the
// user collection dies on page 2 with a 403 while tickets complete, so
// the run still emits documents, labels the reference to the unfetched
// user as dangling and leaves a resumable user checkpoint behind.
func TestRunPartialTaskFailure(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/tickets.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tickets":[
			{"id":20,"subject":"Standing desk stuck","requester_id":7},
			{"id":21,"subject":"Badge reader offline","requester_id":8}
		],"next_page":null}`)
	})
	mux.HandleFunc("/users.json", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprintf(w, `{"users":[{"id":7,"name":"Jordan Lee","active":true}],"next_page":"%s/users.json?page=2"}`, srv.URL)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Collection.IncludeComments = false
	cfg.Output.StateFile = filepath.Join(t.TempDir(), "state.db")

	res, err := New(cfg, zap.NewNop()).Run(context.Background(), false)
	require.NoError(t, err, "one failing task must not fail the run")
	require.NotNil(t, res)

	assert.Equal(t, []record.EntityType{record.EntityTickets}, res.Summary.Completed)
	assert.Contains(t, res.Summary.Failed, record.EntityUsers)
	assert.False(t, res.Summary.AuthFailed)
	assert.Equal(t, int64(1), res.Summary.UnresolvedReferences)
	assert.Equal(t, 3, res.DocumentsEmitted)

	// User 7 came from page 1, so its reference resolves.
	body, err := os.ReadFile(filepath.Join(cfg.Output.BaseDirectory, "tickets", "standing-desk-stuck.md"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "[jordan-lee](../users/jordan-lee.md)")

	// User 8 sat on the forbidden page; its reference degrades to a label.
	body, err = os.ReadFile(filepath.Join(cfg.Output.BaseDirectory, "tickets", "badge-reader-offline.md"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "requester_id: user #8 (not exported)")

	// Page 1 progress is durable so a later resume retries from page 2.
	store, err := checkpoint.NewSQLiteStore(cfg.Output.StateFile)
	require.NoError(t, err)
	defer store.Close()
	cp, found, err := store.Load(context.Background(), record.EntityUsers)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, cp.Completed)
	assert.Contains(t, cp.Cursor, "page=2")
}

func TestRunAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.RateLimit.RetryAttempts = 0

	res, err := New(cfg, zap.NewNop()).Run(context.Background(), false)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Summary.AuthFailed)
	assert.Zero(t, res.DocumentsEmitted)
}

func TestTestConnection(t *testing.T) {
	srv := fakeAPI(t)
	cfg := testConfig(t, srv.URL)

	require.NoError(t, New(cfg, zap.NewNop()).TestConnection(context.Background()))
}

func TestFormatSummary(t *testing.T) {
	srv := fakeAPI(t)
	cfg := testConfig(t, srv.URL)

	res, err := New(cfg, zap.NewNop()).Run(context.Background(), false)
	require.NoError(t, err)

	out := FormatSummary(res)
	assert.Contains(t, out, "tickets")
	assert.Contains(t, out, "users")
	assert.Contains(t, out, "documents emitted: 3")
}
