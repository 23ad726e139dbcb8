// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sreramk/kostore-go/internal/core"
	"github.com/sreramk/kostore-go/internal/device"
	"github.com/sreramk/kostore-go/internal/github"
	"github.com/sreramk/kostore-go/internal/installer"
	"github.com/sreramk/kostore-go/internal/models"
	"github.com/sreramk/kostore-go/internal/store"
	"github.com/sreramk/kostore-go/internal/updates"
)

// RepoClient is the repository-facing surface the handlers need. The
// concrete implementation is the GitHub client; tests substitute a fake.
type RepoClient interface {
	ListPackages(ctx context.Context, kind models.PackageKind) ([]models.PackageMetadata, error)
	GetReleaseAsset(ctx context.Context, packageID string) (*models.PackageMetadata, error)
}

// Server holds the dependencies for our API.
type Server struct {
	app     *core.App
	store   *store.Store
	client  RepoClient
	locator *device.Locator
	worker  *installer.Worker
	updates *updates.Service
}

// NewServer creates a new Server instance with the real repository client.
func NewServer(app *core.App) *Server {
	st := store.New(app.DB())
	client := github.NewClient(st, app.Config())
	return &Server{
		app:     app,
		store:   st,
		client:  client,
		locator: device.NewLocator(app.Config()),
		worker:  installer.NewWorker(st, app.WsHub(), app.Config()),
		updates: updates.NewService(st, client),
	}
}

// Store returns the store instance.
func (s *Server) Store() *store.Store {
	return s.store
}

// Worker returns the install worker, so startup code can run staging cleanup.
func (s *Server) Worker() *installer.Worker {
	return s.worker
}

// Locator returns the device locator.
func (s *Server) Locator() *device.Locator {
	return s.locator
}

// SetClient swaps the repository client. Used by tests.
func (s *Server) SetClient(client RepoClient) {
	s.client = client
	s.updates = updates.NewService(s.store, client)
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)    // Logs requests to the console
	r.Use(middleware.Recoverer) // Recovers from panics
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/version", s.handleGetVersion)

	r.Route("/api", func(r chi.Router) {
		r.Get("/packages", s.handleListPackages)

		r.Get("/devices", s.handleListDevices)
		r.Post("/devices/validate", s.handleValidateDevice)

		r.Get("/installed", s.handleListInstalled)
		r.Get("/installs", s.handleActiveInstalls)
		r.Post("/installs", s.handleSubmitInstall)
		r.Post("/installs/cancel", s.handleCancelInstall)
		r.Post("/uninstall", s.handleUninstall)

		r.Get("/updates", s.handleListUpdates)

		r.Get("/cache", s.handleCacheInfo)
		r.Delete("/cache", s.handleClearCache)

		r.Get("/jobs", s.handleJobStatus)
		r.Post("/jobs/{jobID}/run", s.handleRunJob)
	})

	// Live progress stream for installs and device events.
	r.Get("/ws/progress", func(w http.ResponseWriter, req *http.Request) {
		s.app.WsHub().ServeWs(w, req)
	})

	return r
}
