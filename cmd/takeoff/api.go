package main

import (
	"os"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/server/endpoints"
)

var (
	serverURL   string
	serverToken string
)

// client builds the API client at runtime (after flag parsing).
func client() *api.Client {
	token := serverToken
	if token == "" {
		token = os.Getenv("TAKEOFF_TOKEN")
	}
	return api.NewClient(serverURL, token)
}

func init() {
	registry := api.NewRegistry()
	registry.Register(endpoints.All()...)
	apiCmd := registry.BuildCommands(client)

	// Persistent so all subcommands inherit them
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)
	apiCmd.PersistentFlags().StringVar(
		&serverToken, "token", "", "Bearer token (default $TAKEOFF_TOKEN)",
	)

	for _, c := range apiCmd.Commands() {
		if c.Name() == "jobs" {
			c.AddCommand(endpoints.DriveCommand(client))
		}
	}

	rootCmd.AddCommand(apiCmd)
}
