// This file implements the install worker. Each submitted job runs in its
// own goroutine through a fixed pipeline: download to a staging area on the
// device, verify, extract, then one rename into the final location so the
// visible tree is never half-written.

package installer

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mholt/archives"

	"github.com/sreramk/kostore-go/internal/config"
	"github.com/sreramk/kostore-go/internal/models"
	"github.com/sreramk/kostore-go/internal/store"
	"github.com/sreramk/kostore-go/internal/util"
	"github.com/sreramk/kostore-go/internal/websocket"
)

// stagingDirName is the scratch directory created inside the device's
// install dir. Everything under it is disposable.
const stagingDirName = ".kostore-tmp"

const downloadChunkSize = 64 * 1024

// transientError marks a download failure worth retrying: connection
// trouble or a server-side status. Anything else fails the job immediately.
type transientError struct {
	cause error
}

func (e *transientError) Error() string { return e.cause.Error() }
func (e *transientError) Unwrap() error { return e.cause }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Worker runs install and uninstall operations against a device. Jobs for
// different packages run concurrently; a second submit for the same package
// while one is live is rejected.
type Worker struct {
	st         *store.Store
	hub        *websocket.Hub
	cfg        *config.Config
	client     *http.Client
	removeTree func(string) error

	mu sync.Mutex
	// active holds one slot per package id with a live operation. Install
	// jobs store their handle; uninstalls hold the slot with a nil entry.
	active map[string]*Job
	seq    uint64
}

// NewWorker creates an install worker. The HTTP client carries no global
// timeout: asset downloads are long-lived, so stalls are caught per transfer
// by an idle watchdog in downloadOnce instead.
func NewWorker(st *store.Store, hub *websocket.Hub, cfg *config.Config) *Worker {
	return &Worker{
		st:         st,
		hub:        hub,
		cfg:        cfg,
		client:     &http.Client{},
		removeTree: os.RemoveAll,
		active:     make(map[string]*Job),
	}
}

// SetRemoveTree overrides the filesystem removal used by Uninstall. Test hook.
func (w *Worker) SetRemoveTree(fn func(string) error) {
	w.removeTree = fn
}

// Submit starts an install job for pkg onto dev and returns its handle. At
// most one live job per package id; a conflicting submit returns
// *JobConflictError and leaves the running job alone.
func (w *Worker) Submit(ctx context.Context, pkg models.PackageMetadata, dev models.DevicePath) (*Job, error) {
	if pkg.ID == "" || pkg.DownloadURL == "" {
		return nil, fmt.Errorf("package %q has no downloadable asset", pkg.ID)
	}
	if !dev.IsValid {
		return nil, fmt.Errorf("device at %s has not been validated", dev.RootPath)
	}

	w.mu.Lock()
	if _, running := w.active[pkg.ID]; running {
		w.mu.Unlock()
		return nil, &JobConflictError{PackageID: pkg.ID}
	}

	jobCtx, cancel := context.WithCancel(ctx)
	id := fmt.Sprintf("install-%d", atomic.AddUint64(&w.seq, 1))
	job := newJob(id, pkg, dev.DirFor(pkg.Kind), cancel)
	w.active[pkg.ID] = job
	w.mu.Unlock()

	go w.run(jobCtx, job, pkg, dev)
	return job, nil
}

// ActiveJob returns the live job for a package id, if any.
func (w *Worker) ActiveJob(packageID string) (*Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	job, ok := w.active[packageID]
	if !ok || job == nil {
		return nil, false
	}
	return job, true
}

// ActiveJobs returns a snapshot of every live job's state.
func (w *Worker) ActiveJobs() []models.InstallJob {
	w.mu.Lock()
	defer w.mu.Unlock()
	jobs := make([]models.InstallJob, 0, len(w.active))
	for _, job := range w.active {
		if job == nil {
			continue
		}
		jobs = append(jobs, job.Status())
	}
	return jobs
}

// Uninstall removes a package's installed tree and its record. Uninstalling
// something that is not installed is a no-op; files already gone are fine
// too. The record is only deleted after the tree is. The package id is held
// for the duration, so an install submitted mid-removal is rejected with
// *JobConflictError instead of racing the delete.
func (w *Worker) Uninstall(packageID string) error {
	w.mu.Lock()
	if _, live := w.active[packageID]; live {
		w.mu.Unlock()
		return &JobConflictError{PackageID: packageID}
	}
	w.active[packageID] = nil
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.active, packageID)
		w.mu.Unlock()
	}()

	rec, err := w.st.GetInstalledRecord(packageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	if rec.InstallPath != "" {
		if err := w.removeTree(rec.InstallPath); err != nil {
			return fmt.Errorf("failed to remove %s: %w", rec.InstallPath, err)
		}
	}
	return w.st.DeleteInstalledRecord(packageID)
}

// CleanStaging removes leftover scratch directories on a device. Run at
// startup so a crash mid-install never leaves partial downloads behind.
func (w *Worker) CleanStaging(dev models.DevicePath) {
	for _, dir := range []string{dev.PluginsDir, dev.PatchesDir} {
		if dir == "" {
			continue
		}
		tmp := filepath.Join(dir, stagingDirName)
		if err := os.RemoveAll(tmp); err != nil {
			log.Printf("installer: failed to clean staging dir %s: %v", tmp, err)
		}
	}
}

// emit advances the job and publishes the transition to the job channel and
// the websocket hub. progress < 0 keeps the current byte count.
func (w *Worker) emit(job *Job, status models.JobStatus, message string, progress int64) {
	update := job.update(status, message, progress)
	job.publish(update)
	w.hub.BroadcastJSON(update)
}

func (w *Worker) run(ctx context.Context, job *Job, pkg models.PackageMetadata, dev models.DevicePath) {
	tmpDir := filepath.Join(dev.DirFor(pkg.Kind), stagingDirName, util.SanitizeName(pkg.ID))

	// finish cleans up before releasing Wait, so a caller observing the
	// terminal state never sees staging leftovers or a lingering slot.
	finish := func(err error) {
		os.RemoveAll(tmpDir)
		// Drop the shared scratch root too once it is empty.
		os.Remove(filepath.Dir(tmpDir))
		w.mu.Lock()
		delete(w.active, pkg.ID)
		w.mu.Unlock()
		job.finish(err)
	}
	fail := func(err error) {
		log.Printf("installer: job %s for %s failed: %v", job.ID, pkg.ID, err)
		w.emit(job, models.StatusFailed, err.Error(), -1)
		finish(err)
	}
	canceled := func() {
		err := &CancellationError{PackageID: pkg.ID}
		w.emit(job, models.StatusCanceled, err.Error(), -1)
		finish(err)
	}

	w.emit(job, models.StatusQueued, "Queued", 0)

	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		fail(fmt.Errorf("failed to create staging dir: %w", err))
		return
	}

	assetPath := filepath.Join(tmpDir, "asset.download")
	w.emit(job, models.StatusDownloading, "Downloading "+pkg.Name, 0)
	if err := w.download(ctx, job, pkg, assetPath); err != nil {
		if ctx.Err() != nil {
			canceled()
			return
		}
		fail(err)
		return
	}

	w.emit(job, models.StatusVerifying, "Verifying download", -1)
	if err := verify(pkg, assetPath); err != nil {
		fail(err)
		return
	}

	w.emit(job, models.StatusExtracting, "Extracting", -1)
	extractDir := filepath.Join(tmpDir, "extracted")
	if err := extract(ctx, assetPath, assetFileName(pkg), extractDir); err != nil {
		if ctx.Err() != nil {
			canceled()
			return
		}
		fail(err)
		return
	}

	finalPath, err := place(extractDir, pkg, dev)
	if err != nil {
		fail(err)
		return
	}

	rec := &models.InstalledRecord{
		PackageID:        pkg.ID,
		Name:             pkg.Name,
		InstalledVersion: pkg.LatestVersion,
		InstallPath:      finalPath,
		Kind:             pkg.Kind,
	}
	if err := w.st.UpsertInstalledRecord(rec); err != nil {
		fail(fmt.Errorf("installed but failed to record: %w", err))
		return
	}

	w.emit(job, models.StatusCompleted, fmt.Sprintf("Installed %s %s", pkg.Name, pkg.LatestVersion), -1)
	finish(nil)
}

// download fetches the asset with bounded exponential backoff. Only
// transient errors are retried; cancellation and client-side statuses end
// the job at once.
func (w *Worker) download(ctx context.Context, job *Job, pkg models.PackageMetadata, dest string) error {
	attempts := w.cfg.Download.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			log.Printf("installer: download of %s failed (%v), retrying in %s", pkg.ID, lastErr, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = w.downloadOnce(ctx, job, pkg, dest)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// downloadOnce streams one transfer attempt. An idle watchdog derived from
// the configured download timeout aborts the request when no bytes arrive
// for that long; expiry surfaces as transient so the backoff loop retries,
// and a stalled connection can never pin the job in Downloading.
func (w *Worker) downloadOnce(ctx context.Context, job *Job, pkg models.PackageMetadata, dest string) error {
	idle := time.Duration(w.cfg.Download.TimeoutSeconds) * time.Second
	if idle <= 0 {
		idle = 30 * time.Second
	}
	reqCtx, abort := context.WithCancel(ctx)
	defer abort()
	watchdog := time.AfterFunc(idle, abort)
	defer watchdog.Stop()

	// stalled maps a transfer error: caller cancellation wins, a watchdog
	// abort is transient, anything else passes through untouched.
	stalled := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if reqCtx.Err() != nil {
			return &transientError{cause: fmt.Errorf("no data received for %s: %w", idle, err)}
		}
		return err
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pkg.DownloadURL, nil)
	if err != nil {
		return err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transientError{cause: err}
	}
	defer resp.Body.Close()
	watchdog.Reset(idle)

	if resp.StatusCode >= 500 {
		return &transientError{cause: fmt.Errorf("server returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	// Stream in chunks so progress ticks out and cancellation is honored
	// between chunks, with the partial file removed.
	var written int64
	buf := make([]byte, downloadChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			out.Close()
			os.Remove(dest)
			return err
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(idle)
			if _, err := out.Write(buf[:n]); err != nil {
				out.Close()
				os.Remove(dest)
				return err
			}
			written += int64(n)
			w.emit(job, models.StatusDownloading, "Downloading "+pkg.Name, written)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			os.Remove(dest)
			return stalled(&transientError{cause: readErr})
		}
	}
	return out.Close()
}

// verify checks the downloaded asset against the release metadata: exact
// size always, sha256 when the API supplied a digest.
func verify(pkg models.PackageMetadata, assetPath string) error {
	info, err := os.Stat(assetPath)
	if err != nil {
		return err
	}
	if pkg.AssetSize > 0 && info.Size() != pkg.AssetSize {
		return &IntegrityError{
			PackageID: pkg.ID,
			Field:     "size",
			Expected:  strconv.FormatInt(pkg.AssetSize, 10),
			Actual:    strconv.FormatInt(info.Size(), 10),
		}
	}

	if digest, ok := strings.CutPrefix(pkg.Checksum, "sha256:"); ok {
		f, err := os.Open(assetPath)
		if err != nil {
			return err
		}
		defer f.Close()

		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		actual := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(actual, digest) {
			return &IntegrityError{
				PackageID: pkg.ID,
				Field:     "checksum",
				Expected:  digest,
				Actual:    actual,
			}
		}
	}
	return nil
}

// extract expands the asset into destDir. Archives go through format
// detection; a payload that is no archive at all (a bare .lua patch, say) is
// copied in as a single file. Entry paths are contained to destDir.
func extract(ctx context.Context, assetPath, assetName, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}

	f, err := os.Open(assetPath)
	if err != nil {
		return err
	}
	defer f.Close()

	format, input, err := archives.Identify(ctx, assetName, f)
	if err != nil {
		if errors.Is(err, archives.NoMatch) {
			return copyPlainFile(assetPath, filepath.Join(destDir, util.SanitizeName(assetName)))
		}
		return err
	}

	extractor, ok := format.(archives.Extractor)
	if !ok {
		return copyPlainFile(assetPath, filepath.Join(destDir, util.SanitizeName(assetName)))
	}

	return extractor.Extract(ctx, input, func(ctx context.Context, fi archives.FileInfo) error {
		// Symlinks on FAT-formatted device storage are meaningless; skip them.
		if fi.LinkTarget != "" {
			return nil
		}

		target, err := util.SecureJoin(destDir, fi.NameInArchive)
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !fi.Mode().IsRegular() {
			return nil
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		rc, err := fi.Open()
		if err != nil {
			return err
		}
		defer rc.Close()

		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, rc); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}

func copyPlainFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// place moves the extracted tree into its final location with one rename.
// A single wrapping directory (the usual release zip layout) is collapsed
// first. Plugins land in plugins/<id>.koplugin; a single-file patch keeps
// its own filename so KOReader picks it up directly from patches/.
func place(extractDir string, pkg models.PackageMetadata, dev models.DevicePath) (string, error) {
	source := extractDir
	entries, err := os.ReadDir(source)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		source = filepath.Join(source, entries[0].Name())
		if entries, err = os.ReadDir(source); err != nil {
			return "", err
		}
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("asset for %s contained no files", pkg.ID)
	}

	var finalPath string
	if pkg.Kind == models.KindPatch && len(entries) == 1 && !entries[0].IsDir() {
		finalPath = filepath.Join(dev.PatchesDir, util.SanitizeName(entries[0].Name()))
		source = filepath.Join(source, entries[0].Name())
	} else {
		name := util.SanitizeName(pkg.ID)
		if pkg.Kind == models.KindPlugin {
			name += ".koplugin"
		}
		finalPath = filepath.Join(dev.DirFor(pkg.Kind), name)
	}

	// Move any previous version aside into staging rather than deleting it,
	// then one rename makes the new tree visible whole. If that rename
	// fails the previous version is put back, so a botched reinstall never
	// costs the working install.
	backup := filepath.Join(filepath.Dir(extractDir), "previous")
	hadPrevious := false
	if _, err := os.Lstat(finalPath); err == nil {
		if err := os.Rename(finalPath, backup); err != nil {
			return "", err
		}
		hadPrevious = true
	}
	if err := os.Rename(source, finalPath); err != nil {
		if hadPrevious {
			os.Rename(backup, finalPath)
		}
		return "", err
	}
	return finalPath, nil
}

// assetFileName recovers the asset's filename from its download URL so
// format detection can use the extension.
func assetFileName(pkg models.PackageMetadata) string {
	u, err := url.Parse(pkg.DownloadURL)
	if err != nil {
		return util.SanitizeName(pkg.Name)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return util.SanitizeName(pkg.Name)
	}
	return name
}
