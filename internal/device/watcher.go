// This file implements a mount-point watcher. It uses OS-level file system
// events on the media mount roots to notice devices being plugged in or
// removed, and pushes a fresh detection result to connected UI clients.

package device

import (
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sreramk/kostore-go/internal/models"
	"github.com/sreramk/kostore-go/internal/websocket"
)

// WatcherService watches the platform mount roots and re-runs device
// detection when something changes under them.
type WatcherService struct {
	locator       *Locator
	hub           *websocket.Hub
	watcher       *fsnotify.Watcher
	mu            sync.Mutex
	debounceTimer *time.Timer
	debounceDelay time.Duration
	stopChan      chan struct{}

	// mountRoots is swappable so tests can watch a temp dir.
	mountRoots func() []string
}

// NewWatcherService creates a mount watcher. Detection results are broadcast
// through the hub as deviceEvent messages.
func NewWatcherService(locator *Locator, hub *websocket.Hub) *WatcherService {
	return &WatcherService{
		locator:       locator,
		hub:           hub,
		debounceDelay: 2 * time.Second, // Mounts settle in bursts; wait them out
		stopChan:      make(chan struct{}),
		mountRoots:    platformMountRoots,
	}
}

// SetMountRoots replaces the mount root enumeration. Tests use this to
// watch a temp directory.
func (w *WatcherService) SetMountRoots(fn func() []string) {
	w.mountRoots = fn
}

// SetDebounce shortens the settle window. Only useful in tests.
func (w *WatcherService) SetDebounce(d time.Duration) {
	w.debounceDelay = d
}

type deviceEvent struct {
	Type    string              `json:"type"`
	Devices []models.DevicePath `json:"devices"`
}

// Start begins watching. Missing mount roots are skipped silently; on a
// machine with none at all the watcher is a no-op rather than an error.
func (w *WatcherService) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	watched := 0
	for _, root := range w.mountRoots() {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		if err := watcher.Add(root); err != nil {
			log.Printf("device: cannot watch %s: %v", root, err)
			continue
		}
		watched++
	}
	log.Printf("Device watcher started on %d mount root(s)", watched)

	go w.processEvents()
	return nil
}

// Stop stops the watcher service.
func (w *WatcherService) Stop() error {
	close(w.stopChan)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *WatcherService) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Device watcher error: %v", err)

		case <-w.stopChan:
			return
		}
	}
}

func (w *WatcherService) handleEvent(event fsnotify.Event) {
	// Chmod fires when folders are merely browsed; it never means a mount.
	if event.Op == fsnotify.Chmod {
		return
	}

	relevant := event.Op&fsnotify.Create == fsnotify.Create ||
		event.Op&fsnotify.Remove == fsnotify.Remove ||
		event.Op&fsnotify.Rename == fsnotify.Rename

	if !relevant {
		return
	}

	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.rescan)
	w.mu.Unlock()
}

// rescan runs detection and broadcasts the result.
func (w *WatcherService) rescan() {
	devices := w.locator.Detect()
	log.Printf("Device watcher rescan found %d device(s)", len(devices))
	w.hub.BroadcastJSON(deviceEvent{Type: "devices", Devices: devices})
}

// platformMountRoots lists the directories under which removable media
// appears on each OS.
func platformMountRoots() []string {
	switch runtime.GOOS {
	case "windows":
		// Drive letters have no common parent to watch; rely on polling
		// through explicit refresh instead.
		return nil
	case "darwin":
		return []string{"/Volumes"}
	default:
		roots := []string{"/media", "/mnt"}
		entries, err := os.ReadDir("/run/media")
		if err == nil {
			for _, e := range entries {
				if e.IsDir() {
					roots = append(roots, "/run/media/"+e.Name())
				}
			}
		}
		return roots
	}
}
