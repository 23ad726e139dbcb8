package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sreramk/kostore-go/internal/device"
	"github.com/sreramk/kostore-go/internal/github"
	"github.com/sreramk/kostore-go/internal/installer"
	"github.com/sreramk/kostore-go/internal/models"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"version": s.app.Version()})
}

// packageListResponse wraps a listing with its cache provenance, so the UI
// can flag results that come from an expired cache entry.
type packageListResponse struct {
	Packages  []models.PackageMetadata `json:"packages"`
	Stale     bool                     `json:"stale"`
	FetchedAt *time.Time               `json:"fetched_at,omitempty"`
}

func parseKind(raw string) (models.PackageKind, bool) {
	switch raw {
	case "", string(models.KindPlugin):
		return models.KindPlugin, true
	case string(models.KindPatch):
		return models.KindPatch, true
	}
	return "", false
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(r.URL.Query().Get("kind"))
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Unknown package kind")
		return
	}

	packages, err := s.client.ListPackages(r.Context(), kind)
	resp := packageListResponse{Packages: packages}
	if err != nil {
		var warning *github.StaleDataWarning
		if !errors.As(err, &warning) {
			RespondWithError(w, http.StatusBadGateway, err.Error())
			return
		}
		resp.Stale = true
		resp.FetchedAt = &warning.FetchedAt
	}
	if resp.Packages == nil {
		resp.Packages = []models.PackageMetadata{}
	}
	RespondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.locator.Detect()
	infos := make([]models.DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		infos = append(infos, s.locator.Info(dev))
	}
	RespondWithJSON(w, http.StatusOK, infos)
}

func (s *Server) handleValidateDevice(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Path == "" {
		RespondWithError(w, http.StatusBadRequest, "A device path is required")
		return
	}

	dev, err := s.locator.Validate(payload.Path)
	if err != nil {
		var devErr *device.InvalidDeviceError
		if errors.As(err, &devErr) {
			RespondWithJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":  devErr.Error(),
				"reason": string(devErr.Reason),
			})
			return
		}
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, dev)
}

func (s *Server) handleListInstalled(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.GetAllInstalledRecords()
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to list installed packages")
		return
	}
	if records == nil {
		records = []*models.InstalledRecord{}
	}
	RespondWithJSON(w, http.StatusOK, records)
}

func (s *Server) handleActiveInstalls(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.worker.ActiveJobs())
}

func (s *Server) handleSubmitInstall(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PackageID  string `json:"package_id"`
		Kind       string `json:"kind"`
		DeviceRoot string `json:"device_root"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.PackageID == "" || payload.DeviceRoot == "" {
		RespondWithError(w, http.StatusBadRequest, "package_id and device_root are required")
		return
	}
	kind, ok := parseKind(payload.Kind)
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Unknown package kind")
		return
	}

	dev, err := s.locator.Validate(payload.DeviceRoot)
	if err != nil {
		var devErr *device.InvalidDeviceError
		if errors.As(err, &devErr) {
			RespondWithJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":  devErr.Error(),
				"reason": string(devErr.Reason),
			})
			return
		}
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pkg, err := s.client.GetReleaseAsset(r.Context(), payload.PackageID)
	if err != nil {
		// A stale release record is still installable.
		var warning *github.StaleDataWarning
		if !errors.As(err, &warning) {
			RespondWithError(w, http.StatusBadGateway, err.Error())
			return
		}
	}
	pkg.Kind = kind

	// The job outlives this request, so it gets its own context.
	job, err := s.worker.Submit(context.Background(), *pkg, dev)
	if err != nil {
		var conflict *installer.JobConflictError
		if errors.As(err, &conflict) {
			RespondWithError(w, http.StatusConflict, conflict.Error())
			return
		}
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	RespondWithJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     job.ID,
		"package_id": job.PackageID,
		"status":     string(models.StatusQueued),
	})
}

func (s *Server) handleCancelInstall(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PackageID string `json:"package_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.PackageID == "" {
		RespondWithError(w, http.StatusBadRequest, "package_id is required")
		return
	}

	job, ok := s.worker.ActiveJob(payload.PackageID)
	if !ok {
		RespondWithError(w, http.StatusNotFound, "No running install for this package")
		return
	}
	job.Cancel()
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"status": "canceling"})
}

func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PackageID string `json:"package_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.PackageID == "" {
		RespondWithError(w, http.StatusBadRequest, "package_id is required")
		return
	}

	if err := s.worker.Uninstall(payload.PackageID); err != nil {
		var conflict *installer.JobConflictError
		if errors.As(err, &conflict) {
			RespondWithError(w, http.StatusConflict, conflict.Error())
			return
		}
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "uninstalled"})
}

func (s *Server) handleListUpdates(w http.ResponseWriter, r *http.Request) {
	result, err := s.updates.CheckAll(r.Context())
	if err != nil {
		RespondWithError(w, http.StatusBadGateway, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, result)
}

func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListCacheEntries()
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to list cache entries")
		return
	}
	RespondWithJSON(w, http.StatusOK, entries)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearCache(); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to clear cache")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.JobManager().GetStatus())
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.app.JobManager().RunJob(jobID, s.app); err != nil {
		RespondWithError(w, http.StatusConflict, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}
