package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sreramk/kostore-go/internal/github"
	"github.com/sreramk/kostore-go/internal/jobs"
	"github.com/sreramk/kostore-go/internal/models"
	"github.com/sreramk/kostore-go/internal/testutil"
)

// fakeRepoClient serves canned listings and release records.
type fakeRepoClient struct {
	packages map[models.PackageKind][]models.PackageMetadata
	assets   map[string]models.PackageMetadata
	err      error
}

func (f *fakeRepoClient) ListPackages(_ context.Context, kind models.PackageKind) ([]models.PackageMetadata, error) {
	return f.packages[kind], f.err
}

func (f *fakeRepoClient) GetReleaseAsset(_ context.Context, packageID string) (*models.PackageMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	pkg, ok := f.assets[packageID]
	if !ok {
		return nil, &github.FetchError{Cause: fmt.Errorf("unknown package %s", packageID)}
	}
	return &pkg, nil
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthAndVersion(t *testing.T) {
	server, _ := testutil.SetupTestServer(t)
	router := server.Router()

	rr := doRequest(t, router, http.MethodGet, "/api/health", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("health returned %d", rr.Code)
	}

	rr = doRequest(t, router, http.MethodGet, "/api/version", nil)
	var version map[string]string
	json.Unmarshal(rr.Body.Bytes(), &version)
	if version["version"] != "test" {
		t.Errorf("Expected version test, got %q", version["version"])
	}
}

func TestHandleListPackages(t *testing.T) {
	listing := []models.PackageMetadata{
		{ID: "alice/calibre-sync", Name: "calibre-sync", LatestVersion: "2.3.0", Kind: models.KindPlugin},
	}

	t.Run("Fresh Listing", func(t *testing.T) {
		server, _ := testutil.SetupTestServer(t)
		server.SetClient(&fakeRepoClient{packages: map[models.PackageKind][]models.PackageMetadata{
			models.KindPlugin: listing,
		}})
		rr := doRequest(t, server.Router(), http.MethodGet, "/api/packages?kind=plugin", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}

		var resp struct {
			Packages []models.PackageMetadata `json:"packages"`
			Stale    bool                     `json:"stale"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if len(resp.Packages) != 1 || resp.Stale {
			t.Errorf("Unexpected response %+v", resp)
		}
	})

	t.Run("Stale Listing Is Flagged", func(t *testing.T) {
		fetchedAt := time.Now().Add(-6 * 7 * 24 * time.Hour)
		server, _ := testutil.SetupTestServer(t)
		server.SetClient(&fakeRepoClient{
			packages: map[models.PackageKind][]models.PackageMetadata{models.KindPlugin: listing},
			err:      &github.StaleDataWarning{FetchedAt: fetchedAt, Cause: errors.New("offline")},
		})
		rr := doRequest(t, server.Router(), http.MethodGet, "/api/packages", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("Stale data should still be 200, got %d", rr.Code)
		}

		var resp struct {
			Packages []models.PackageMetadata `json:"packages"`
			Stale    bool                     `json:"stale"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if !resp.Stale || len(resp.Packages) != 1 {
			t.Errorf("Expected stale flagged listing, got %+v", resp)
		}
	})

	t.Run("Fetch Failure Is Bad Gateway", func(t *testing.T) {
		server, _ := testutil.SetupTestServer(t)
		server.SetClient(&fakeRepoClient{err: &github.FetchError{Cause: errors.New("offline")}})
		rr := doRequest(t, server.Router(), http.MethodGet, "/api/packages", nil)
		if rr.Code != http.StatusBadGateway {
			t.Errorf("Expected 502, got %d", rr.Code)
		}
	})

	t.Run("Unknown Kind Is Rejected", func(t *testing.T) {
		server, _ := testutil.SetupTestServer(t)
		rr := doRequest(t, server.Router(), http.MethodGet, "/api/packages?kind=theme", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rr.Code)
		}
	})
}

func TestHandleValidateDevice(t *testing.T) {
	server, _ := testutil.SetupTestServer(t)
	router := server.Router()

	t.Run("Valid Device", func(t *testing.T) {
		root := testutil.CreateTestDevice(t)
		rr := doRequest(t, router, http.MethodPost, "/api/devices/validate", map[string]string{"path": root})
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var dev models.DevicePath
		json.Unmarshal(rr.Body.Bytes(), &dev)
		if !dev.IsValid {
			t.Error("Expected a valid device path")
		}
	})

	t.Run("Wrong Layout", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodPost, "/api/devices/validate", map[string]string{"path": t.TempDir()})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("Expected 422, got %d", rr.Code)
		}
		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["reason"] != "wrong_layout" {
			t.Errorf("Expected wrong_layout reason, got %q", resp["reason"])
		}
	})

	t.Run("Missing Path", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodPost, "/api/devices/validate", map[string]string{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rr.Code)
		}
	})
}

func TestInstallEndpoints(t *testing.T) {
	archive := testutil.CreateTestArchive(t, map[string]string{"sync.koplugin/main.lua": "return {}"})
	assetServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer assetServer.Close()

	pkg := models.PackageMetadata{
		ID:            "alice/calibre-sync",
		Name:          "calibre-sync",
		LatestVersion: "2.3.0",
		DownloadURL:   assetServer.URL + "/sync.zip",
		Kind:          models.KindPlugin,
	}

	server, _ := testutil.SetupTestServer(t)
	server.SetClient(&fakeRepoClient{assets: map[string]models.PackageMetadata{pkg.ID: pkg}})
	router := server.Router()
	deviceRoot := testutil.CreateTestDevice(t)

	t.Run("Submit Install", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodPost, "/api/installs", map[string]string{
			"package_id":  pkg.ID,
			"kind":        "plugin",
			"device_root": deviceRoot,
		})
		if rr.Code != http.StatusAccepted {
			t.Fatalf("Expected 202, got %d: %s", rr.Code, rr.Body.String())
		}

		job, ok := server.Worker().ActiveJob(pkg.ID)
		if ok {
			if err := job.Wait(); err != nil {
				t.Fatalf("Install failed: %v", err)
			}
		}
		rec, err := server.Store().GetInstalledRecord(pkg.ID)
		if err != nil {
			t.Fatalf("Expected an installed record: %v", err)
		}
		if rec.InstalledVersion != "2.3.0" {
			t.Errorf("Unexpected version %q", rec.InstalledVersion)
		}
	})

	t.Run("Installed Listing", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodGet, "/api/installed", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}
		var records []models.InstalledRecord
		json.Unmarshal(rr.Body.Bytes(), &records)
		if len(records) != 1 || records[0].PackageID != pkg.ID {
			t.Errorf("Unexpected records %+v", records)
		}
	})

	t.Run("Unknown Package Is Bad Gateway", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodPost, "/api/installs", map[string]string{
			"package_id":  "nobody/missing",
			"device_root": deviceRoot,
		})
		if rr.Code != http.StatusBadGateway {
			t.Errorf("Expected 502, got %d", rr.Code)
		}
	})

	t.Run("Invalid Device Is Unprocessable", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodPost, "/api/installs", map[string]string{
			"package_id":  pkg.ID,
			"device_root": t.TempDir(),
		})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422, got %d", rr.Code)
		}
	})

	t.Run("Cancel Without Job Is Not Found", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodPost, "/api/installs/cancel", map[string]string{
			"package_id": pkg.ID,
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", rr.Code)
		}
	})

	t.Run("Uninstall", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodPost, "/api/uninstall", map[string]string{
			"package_id": pkg.ID,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}
		if _, err := server.Store().GetInstalledRecord(pkg.ID); err == nil {
			t.Error("Expected record to be gone")
		}

		// Idempotent: uninstalling again still succeeds.
		rr = doRequest(t, router, http.MethodPost, "/api/uninstall", map[string]string{
			"package_id": pkg.ID,
		})
		if rr.Code != http.StatusOK {
			t.Errorf("Second uninstall should be 200, got %d", rr.Code)
		}
	})
}

func TestHandleListUpdates(t *testing.T) {
	server, _ := testutil.SetupTestServer(t)
	err := server.Store().UpsertInstalledRecord(&models.InstalledRecord{
		PackageID:        "alice/calibre-sync",
		Name:             "calibre-sync",
		InstalledVersion: "2.2.0",
		InstallPath:      "/dev/plugins/calibre-sync.koplugin",
		Kind:             models.KindPlugin,
	})
	if err != nil {
		t.Fatal(err)
	}

	server.SetClient(&fakeRepoClient{packages: map[models.PackageKind][]models.PackageMetadata{
		models.KindPlugin: {{ID: "alice/calibre-sync", LatestVersion: "2.3.0"}},
	}})

	rr := doRequest(t, server.Router(), http.MethodGet, "/api/updates", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var result []models.UpdateInfo
	json.Unmarshal(rr.Body.Bytes(), &result)
	if len(result) != 1 || result[0].AvailableVersion != "2.3.0" {
		t.Errorf("Unexpected updates %+v", result)
	}
}

func TestCacheEndpoints(t *testing.T) {
	server, _ := testutil.SetupTestServer(t)
	router := server.Router()

	if err := server.Store().PutCacheEntry("packages:plugin", []byte(`[]`)); err != nil {
		t.Fatal(err)
	}

	t.Run("List Entries", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodGet, "/api/cache", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}
		var entries []map[string]interface{}
		json.Unmarshal(rr.Body.Bytes(), &entries)
		if len(entries) != 1 {
			t.Errorf("Expected 1 cache entry, got %d", len(entries))
		}
	})

	t.Run("Clear", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodDelete, "/api/cache", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}
		entries, err := server.Store().ListCacheEntries()
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Errorf("Expected cache to be empty, got %d entries", len(entries))
		}
	})
}

func TestJobEndpoints(t *testing.T) {
	server, app := testutil.SetupTestServer(t)
	ran := make(chan struct{})
	app.JobManager().Register("update-check", "Check for updates", func(ctx jobs.JobContext) {
		close(ran)
	})

	rr := doRequest(t, server.Router(), http.MethodGet, "/api/jobs", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var statuses []jobs.JobStatus
	json.Unmarshal(rr.Body.Bytes(), &statuses)
	if len(statuses) != 1 || statuses[0].ID != "update-check" {
		t.Errorf("Unexpected job statuses %+v", statuses)
	}

	rr = doRequest(t, server.Router(), http.MethodPost, "/api/jobs/update-check/run", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("Job was never run")
	}

	rr = doRequest(t, server.Router(), http.MethodPost, "/api/jobs/no-such-job/run", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected 409 for unknown job, got %d", rr.Code)
	}
}
