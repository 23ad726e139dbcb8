package testutil

import (
	"testing"

	"github.com/sreramk/kostore-go/internal/api"
	"github.com/sreramk/kostore-go/internal/config"
	"github.com/sreramk/kostore-go/internal/core"
	"github.com/sreramk/kostore-go/internal/websocket"
)

// SetupTestApp assembles an App around an in-memory database with a running
// websocket hub and test-friendly defaults.
func SetupTestApp(t *testing.T) *core.App {
	t.Helper()

	cfg := &config.Config{}
	cfg.Port = 0
	cfg.Cache.TTLWeeks = 4
	cfg.Download.TimeoutSeconds = 5
	cfg.Download.MaxRetries = 3

	database := SetupTestDB(t)
	hub := websocket.NewHub()
	go hub.Run()

	return core.NewFromComponents(cfg, database, hub, "test")
}

// SetupTestServer returns an API server wired to a fresh test app.
func SetupTestServer(t *testing.T) (*api.Server, *core.App) {
	t.Helper()
	app := SetupTestApp(t)
	return api.NewServer(app), app
}
