package core

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/sreramk/kostore-go/internal/config"
	"github.com/sreramk/kostore-go/internal/db"
	"github.com/sreramk/kostore-go/internal/jobs"
	"github.com/sreramk/kostore-go/internal/websocket"
)

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	cfg        *config.Config
	database   *sql.DB
	hub        *websocket.Hub
	jobManager *jobs.JobManager
	version    string
}

// New sets up and returns a new App instance. It handles loading the
// configuration, initializing the database connection, and running migrations.
func New(version string) (*App, error) {
	// Load configuration from config.yml
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize the database connection
	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Run database migrations
	if err := db.RunMigrations(database); err != nil {
		// We can't proceed without a valid database schema.
		// Close the DB connection before failing.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	hub := websocket.NewHub()
	go hub.Run()

	app := &App{
		cfg:      cfg,
		database: database,
		hub:      hub,
		version:  version,
	}
	app.jobManager = jobs.NewManager(app)

	log.Println("Core application setup complete.")
	return app, nil
}

// NewFromComponents assembles an App from pre-built parts. Used by tests.
func NewFromComponents(cfg *config.Config, database *sql.DB, hub *websocket.Hub, version string) *App {
	app := &App{
		cfg:      cfg,
		database: database,
		hub:      hub,
		version:  version,
	}
	app.jobManager = jobs.NewManager(app)
	return app
}

func (a *App) Config() *config.Config       { return a.cfg }
func (a *App) DB() *sql.DB                  { return a.database }
func (a *App) WsHub() *websocket.Hub        { return a.hub }
func (a *App) JobManager() *jobs.JobManager { return a.jobManager }
func (a *App) Version() string              { return a.version }

// Close gracefully closes the application's resources, like the DB connection.
func (a *App) Close() {
	if a.database != nil {
		a.database.Close()
	}
}
