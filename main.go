package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sreramk/kostore-go/internal/api"
	"github.com/sreramk/kostore-go/internal/core"
	"github.com/sreramk/kostore-go/internal/device"
	"github.com/sreramk/kostore-go/internal/github"
	"github.com/sreramk/kostore-go/internal/jobs"
	"github.com/sreramk/kostore-go/internal/updates"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize the core application components
	app, err := core.New(version)
	if err != nil {
		log.Fatalf("Fatal error during application setup: %v", err)
	}
	defer app.Close()

	// Register the named maintenance jobs before anything can trigger them.
	app.JobManager().Register("catalog-refresh", "Refresh package catalog", github.RefreshCatalog)
	app.JobManager().Register("update-check", "Check for updates", updates.RunUpdateCheck)

	// Setup the API server
	server := api.NewServer(app)

	// Crash hygiene: clear leftover staging dirs on every device already
	// connected, then prime clients with the detected device list.
	devices := server.Locator().Detect()
	for _, dev := range devices {
		server.Worker().CleanStaging(dev)
	}
	log.Printf("Detected %d KOReader device(s) at startup", len(devices))

	// Watch the mount roots so plugging a device in shows up without a
	// manual refresh.
	watcher := device.NewWatcherService(server.Locator(), app.WsHub())
	if err := watcher.Start(); err != nil {
		log.Printf("Warning: device watcher could not start: %v", err)
	} else {
		defer watcher.Stop()
	}

	// Start the scheduled update checks.
	jobs.StartScheduler(app)

	addr := fmt.Sprintf(":%d", app.Config().Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		log.Printf("Starting web server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %v", err)
		}
	}()

	// Wait for an interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Create a context with a timeout to allow existing connections to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
