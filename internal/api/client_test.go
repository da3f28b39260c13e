package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClient(t *testing.T) {
	var gotAuth, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		switch r.URL.Path {
		case "/echo":
			body := map[string]any{}
			json.NewDecoder(r.Body).Decode(&body)
			body["method"] = r.Method
			json.NewEncoder(w).Encode(body)
		case "/file":
			w.Write([]byte("PK\x03\x04"))
		case "/denied":
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "forbidden"})
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL, "secret")

	t.Run("post", func(t *testing.T) {
		var out map[string]any
		if err := c.Post(ctx, "/echo", map[string]any{"jobId": "j1"}, &out); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
		want := map[string]any{"jobId": "j1", "method": "POST"}
		if diff := cmp.Diff(want, out); diff != "" {
			t.Errorf("response mismatch (-want +got):\n%s", diff)
		}
		if gotAuth != "Bearer secret" {
			t.Errorf("Authorization = %q", gotAuth)
		}
		if gotContentType != "application/json" {
			t.Errorf("Content-Type = %q", gotContentType)
		}
	})

	t.Run("download", func(t *testing.T) {
		data, err := c.Download(ctx, "/file")
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if !bytes.HasPrefix(data, []byte("PK")) {
			t.Errorf("data = %q", data)
		}
	})

	t.Run("error_response", func(t *testing.T) {
		err := c.Get(ctx, "/denied", nil)
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("error = %v, want *StatusError", err)
		}
		if se.Code != http.StatusForbidden || se.Message != "forbidden" {
			t.Errorf("StatusError = %+v", se)
		}
	})

	t.Run("plain_error_body", func(t *testing.T) {
		_, err := c.Download(ctx, "/other")
		var se *StatusError
		if !errors.As(err, &se) || se.Code != http.StatusBadGateway || se.Message != "upstream down" {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("no_token", func(t *testing.T) {
		if err := NewClient(srv.URL, "").Get(ctx, "/echo", nil); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if gotAuth != "" {
			t.Errorf("Authorization = %q, want empty", gotAuth)
		}
	})
}

func TestOutputTo(t *testing.T) {
	data := struct {
		JobID     string `json:"jobId"`
		Remaining int    `json:"remaining"`
	}{"j1", 2}

	var buf bytes.Buffer
	if err := OutputTo(&buf, OutputFormatYAML, data); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); !strings.Contains(got, "jobId: j1") || !strings.Contains(got, "remaining: 2") {
		t.Errorf("yaml = %q", got)
	}

	buf.Reset()
	if err := OutputTo(&buf, OutputFormatJSON, data); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"jobId": "j1"`) {
		t.Errorf("json = %q", buf.String())
	}

	if err := OutputTo(&buf, "xml", data); err == nil {
		t.Error("expected error for unknown format")
	}
	if err := SetOutputFormat("toml"); err == nil {
		t.Error("SetOutputFormat(toml) succeeded, want error")
	}
}
