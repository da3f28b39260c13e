package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

type fakeEndpoint struct {
	method, path, use string
	public            bool
}

func (e *fakeEndpoint) Route() (string, string, http.HandlerFunc) {
	return e.method, e.path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (e *fakeEndpoint) Public() bool { return e.public }

func (e *fakeEndpoint) Command(func() *Client) *cobra.Command {
	return &cobra.Command{Use: e.use}
}

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register(
		&fakeEndpoint{method: http.MethodGet, path: "/health", use: "health", public: true},
		&fakeEndpoint{method: http.MethodPost, path: "/api/jobs", use: "create"},
		&fakeEndpoint{method: http.MethodGet, path: "/api/jobs/{job_id}", use: "get"},
		&fakeEndpoint{method: http.MethodPost, path: "/api/analyze", use: "analyze"},
	)
	return r
}

func TestCommandGroup(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", ""},
		{"/api/jobs", "jobs"},
		{"/api/jobs/{job_id}/continue", "jobs"},
		{"/api/documents/{document_id}/issues", "documents"},
		{"/api/analyze", "analyze"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := commandGroup(tt.path); got != tt.want {
				t.Errorf("commandGroup(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestRegistry_BuildCommands(t *testing.T) {
	apiCmd := testRegistry().BuildCommands(func() *Client { return nil })

	names := map[string]*cobra.Command{}
	for _, c := range apiCmd.Commands() {
		names[c.Name()] = c
	}
	for _, want := range []string{"health", "jobs", "analyze"} {
		if names[want] == nil {
			t.Errorf("missing top-level command %q", want)
		}
	}
	if names["analyze"] != nil && names["analyze"].HasSubCommands() {
		t.Error("analyze should not be nested under its own group")
	}
	jobs := names["jobs"]
	if jobs == nil {
		t.FailNow()
	}
	var subs []string
	for _, c := range jobs.Commands() {
		subs = append(subs, c.Name())
	}
	if len(subs) != 2 {
		t.Errorf("jobs subcommands = %v, want create and get", subs)
	}
}

func TestRegistry_Mount(t *testing.T) {
	denyAll := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	router := chi.NewRouter()
	testRegistry().Mount(router, denyAll)

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusNoContent},
		{http.MethodGet, "/api/jobs/j1", http.StatusUnauthorized},
		{http.MethodPost, "/api/analyze", http.StatusUnauthorized},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	open := chi.NewRouter()
	testRegistry().Mount(open, nil)
	w := httptest.NewRecorder()
	open.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs/j1", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("without authn status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
