// Package testutil holds helpers shared by tests that run a takeoff server.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ServerConfig returns configuration values for creating a test server.
// This avoids importing the server package directly.
type ServerConfig struct {
	Host       string
	Port       string
	HomePath   string
	ConfigFile string
	Logger     *slog.Logger
}

// NewServerConfig creates configuration for a test server on a free port
// with its own home directory.
func NewServerConfig(t *testing.T) ServerConfig {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	tempDir := t.TempDir()

	httpPort, err := FindFreePort()
	if err != nil {
		t.Fatalf("failed to find free port for HTTP: %v", err)
	}

	return ServerConfig{
		Host:       "127.0.0.1",
		Port:       httpPort,
		HomePath:   filepath.Join(tempDir, "home"),
		ConfigFile: filepath.Join(tempDir, "config.yaml"),
		Logger:     logger,
	}
}

// URL returns the server URL for the given config.
func (c ServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%s", c.Host, c.Port)
}

// WriteConfig writes content to the config file.
func (c ServerConfig) WriteConfig(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(c.ConfigFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

// WaitForServer polls /ready until the store reports healthy.
func WaitForServer(url string, timeout time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url + "/ready")
		if err == nil {
			var status struct {
				Status string `json:"status"`
			}
			decodeErr := json.NewDecoder(resp.Body).Decode(&status)
			resp.Body.Close()
			if decodeErr == nil && status.Status == "ok" {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}

// WaitForShutdown waits for a channel to receive a value or timeout.
func WaitForShutdown(done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for shutdown")
	}
}

// FindFreePort finds an available TCP port and returns it as a string.
func FindFreePort() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer listener.Close()
	return fmt.Sprintf("%d", listener.Addr().(*net.TCPAddr).Port), nil
}

// StartServer is a helper type for managing server lifecycle in tests.
// Usage:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	done := make(chan error, 1)
//	go func() { done <- srv.Start(ctx) }()
//	starter := testutil.StartServer{Cancel: cancel, Done: done}
//	t.Cleanup(starter.Stop)
type StartServer struct {
	Cancel context.CancelFunc
	Done   <-chan error
}

// Stop cancels the server context and waits for shutdown.
func (s *StartServer) Stop() {
	if s.Cancel != nil {
		s.Cancel()
	}
	if s.Done != nil {
		<-s.Done
	}
}

// WritePageImages creates a directory of n fake page images named
// sheet-1.png .. sheet-n.png and returns its path.
func WritePageImages(t *testing.T, n int) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "pages")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("sheet-%d.png", i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("page "+name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// ItemsResponse returns a model answer listing n distinct takeoff items.
func ItemsResponse(n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"category":"concrete","description":"footing F%d","quantity":%d,"unit":"cy","unit_cost":150,"confidence":0.9}`, i+1, i+1)
	}
	return `{"items":[` + strings.Join(items, ",") + `],"quality_analysis":{"completeness":{"missing_disciplines":[],"missing_sheets":[],"notes":""},"consistency":{"conflicts":[],"unit_mismatches":[],"scale_issues":[]},"risk_flags":[{"severity":"high","category":"structural","description":"footing schedule missing","page":1}],"audit_trail":{"chunks_covered":1,"pages_covered":1,"method":"single"}}}`
}
