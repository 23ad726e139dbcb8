// This file implements KOReader device detection. A KOReader root is
// recognized by its marker files (koreader.sh, or settings.reader.lua on
// devices without the launcher script). Detection is recomputed on every
// call; removable media comes and goes, so results are never cached.

package device

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sreramk/kostore-go/internal/config"
	"github.com/sreramk/kostore-go/internal/models"
)

// markerFiles identify a directory as a KOReader installation root.
var markerFiles = []string{"koreader.sh", "settings.reader.lua"}

// windowsSearchDirs are the locations on a removable drive where the
// koreader folder is commonly placed. The empty entry is the drive root.
var windowsSearchDirs = []string{".adds", "extensions", "documents", ".kobo", "applications", ""}

// Locator finds and validates KOReader installations on the local machine.
type Locator struct {
	cfg *config.Config

	// candidates is swappable so tests can point detection at a temp dir.
	candidates func() []string
}

func NewLocator(cfg *config.Config) *Locator {
	l := &Locator{cfg: cfg}
	l.candidates = l.platformCandidates
	return l
}

// SetCandidates replaces the candidate enumeration. Tests use this to scan a
// temp directory instead of real mount points.
func (l *Locator) SetCandidates(fn func() []string) {
	l.candidates = fn
}

// Detect scans all platform candidate locations and returns every valid
// KOReader installation found. It never fails; when nothing is connected the
// result is simply empty. A configured manual path is validated first and,
// when valid, listed first.
func (l *Locator) Detect() []models.DevicePath {
	devices := make([]models.DevicePath, 0)
	seen := make(map[string]bool)

	roots := l.candidates()
	if manual := l.cfg.Device.ManualPath; manual != "" {
		roots = append([]string{manual}, roots...)
	}

	for _, root := range roots {
		if !hasMarker(root) {
			continue
		}
		dp, err := l.Validate(root)
		if err != nil {
			log.Printf("device: skipping %s: %v", root, err)
			continue
		}
		if seen[dp.RootPath] {
			continue
		}
		seen[dp.RootPath] = true
		devices = append(devices, dp)
	}
	return devices
}

// Validate checks a single root and returns a usable DevicePath or an
// *InvalidDeviceError. The plugins and patches directories are created when
// missing, since fresh installations ship without them.
func (l *Locator) Validate(root string) (models.DevicePath, error) {
	info, err := os.Stat(root)
	if err != nil {
		return models.DevicePath{}, &InvalidDeviceError{Path: root, Reason: ReasonNotFound, Cause: err}
	}
	if !info.IsDir() {
		return models.DevicePath{}, &InvalidDeviceError{Path: root, Reason: ReasonWrongLayout,
			Cause: fmt.Errorf("not a directory")}
	}
	if !hasMarker(root) {
		return models.DevicePath{}, &InvalidDeviceError{Path: root, Reason: ReasonWrongLayout,
			Cause: fmt.Errorf("no KOReader marker file")}
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}

	pluginsDir := filepath.Join(abs, "plugins")
	patchesDir := filepath.Join(abs, "patches")
	for _, dir := range []string{pluginsDir, patchesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return models.DevicePath{}, &InvalidDeviceError{Path: root, Reason: ReasonNotWritable, Cause: err}
		}
		if err := probeWritable(dir); err != nil {
			return models.DevicePath{}, &InvalidDeviceError{Path: root, Reason: ReasonNotWritable, Cause: err}
		}
	}

	return models.DevicePath{
		RootPath:   abs,
		PluginsDir: pluginsDir,
		PatchesDir: patchesDir,
		IsValid:    true,
	}, nil
}

// Info gathers display detail for a validated device. The firmware version
// comes from the git-rev file KOReader ships at its root.
func (l *Locator) Info(dp models.DevicePath) models.DeviceInfo {
	info := models.DeviceInfo{Path: dp, FirmwareVersion: "unknown"}
	data, err := os.ReadFile(filepath.Join(dp.RootPath, "git-rev"))
	if err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			info.FirmwareVersion = v
		}
	}
	return info
}

// platformCandidates enumerates the places a koreader folder lives on the
// current OS, including mounted removable media.
func (l *Locator) platformCandidates() []string {
	home, _ := os.UserHomeDir()

	switch runtime.GOOS {
	case "windows":
		var roots []string
		for letter := 'E'; letter <= 'Z'; letter++ {
			drive := string(letter) + `:\`
			if _, err := os.Stat(drive); err != nil {
				continue
			}
			for _, sub := range windowsSearchDirs {
				roots = append(roots, filepath.Join(drive, sub, "koreader"))
			}
		}
		return append(roots,
			filepath.Join(home, "koreader"),
			`C:\koreader`,
			`C:\Program Files\koreader`,
			`C:\Program Files (x86)\koreader`,
		)

	case "darwin":
		roots := globAll("/Volumes/*/koreader", "/Volumes/*/.adds/koreader")
		return append(roots,
			"/Volumes/koreader",
			"/Volumes/KOReader",
			filepath.Join(home, "koreader"),
			"/Applications/koreader",
		)

	default: // linux and the BSDs mount removable media the same way
		roots := globAll(
			"/media/*/koreader",
			"/media/*/*/koreader",
			"/run/media/*/*/koreader",
			"/mnt/*/koreader",
		)
		return append(roots,
			filepath.Join(home, "koreader"),
			"/opt/koreader",
		)
	}
}

func globAll(patterns ...string) []string {
	var matches []string
	for _, pattern := range patterns {
		found, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		matches = append(matches, found...)
	}
	return matches
}

func hasMarker(root string) bool {
	for _, marker := range markerFiles {
		if _, err := os.Stat(filepath.Join(root, marker)); err == nil {
			return true
		}
	}
	return false
}

// probeWritable verifies a directory accepts writes by creating and removing
// a probe file. Stat-based permission bits lie on FAT-formatted e-reader
// storage, so an actual write is the only reliable check.
func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".kostore-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
