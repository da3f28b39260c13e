// Package api ties HTTP routes and CLI commands together. Each Endpoint
// serves one route on the takeoff server and builds the cobra command that
// calls it.
package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint defines both an HTTP route and its corresponding CLI command.
type Endpoint interface {
	// Route returns the HTTP method, chi path pattern, and handler.
	Route() (method, path string, handler http.HandlerFunc)

	// Public reports whether the route is served without authentication.
	Public() bool

	// Command returns a Cobra command that calls this endpoint via HTTP.
	// client is called at runtime so flags are read after parsing.
	Command(client func() *Client) *cobra.Command
}
