package updates_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sreramk/kostore-go/internal/github"
	"github.com/sreramk/kostore-go/internal/models"
	"github.com/sreramk/kostore-go/internal/store"
	"github.com/sreramk/kostore-go/internal/testutil"
	"github.com/sreramk/kostore-go/internal/updates"
)

// fakeLister serves canned listings per kind, optionally with an error.
type fakeLister struct {
	listings map[models.PackageKind][]models.PackageMetadata
	err      error
}

func (f *fakeLister) ListPackages(_ context.Context, kind models.PackageKind) ([]models.PackageMetadata, error) {
	return f.listings[kind], f.err
}

func installRecord(t *testing.T, st *store.Store, id, name, version string, kind models.PackageKind) {
	t.Helper()
	err := st.UpsertInstalledRecord(&models.InstalledRecord{
		PackageID:        id,
		Name:             name,
		InstalledVersion: version,
		InstallPath:      "/dev/" + name,
		Kind:             kind,
	})
	if err != nil {
		t.Fatalf("Failed to seed record: %v", err)
	}
}

func TestCheckAll(t *testing.T) {
	t.Run("Reports Newer Releases Only", func(t *testing.T) {
		st := store.New(testutil.SetupTestDB(t))
		installRecord(t, st, "alice/calibre-sync", "calibre-sync", "2.2.0", models.KindPlugin)
		installRecord(t, st, "bob/current", "current", "1.0.0", models.KindPlugin)

		lister := &fakeLister{listings: map[models.PackageKind][]models.PackageMetadata{
			models.KindPlugin: {
				{ID: "alice/calibre-sync", LatestVersion: "2.3.0", DownloadURL: "https://example.com/v2.3.0.zip"},
				{ID: "bob/current", LatestVersion: "1.0.0"},
			},
		}}

		result, err := updates.NewService(st, lister).CheckAll(context.Background())
		if err != nil {
			t.Fatalf("CheckAll failed: %v", err)
		}
		if len(result) != 1 {
			t.Fatalf("Expected 1 update, got %d", len(result))
		}
		u := result[0]
		if u.PackageID != "alice/calibre-sync" || u.AvailableVersion != "2.3.0" {
			t.Errorf("Unexpected update %+v", u)
		}
		if u.InstalledVersion != "2.2.0" {
			t.Errorf("Expected installed version carried through, got %q", u.InstalledVersion)
		}
	})

	t.Run("Malformed Installed Version Counts As Outdated", func(t *testing.T) {
		st := store.New(testutil.SetupTestDB(t))
		installRecord(t, st, "carol/mystery", "mystery", "Unknown", models.KindPlugin)

		lister := &fakeLister{listings: map[models.PackageKind][]models.PackageMetadata{
			models.KindPlugin: {{ID: "carol/mystery", LatestVersion: "0.1.0"}},
		}}

		result, err := updates.NewService(st, lister).CheckAll(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(result) != 1 {
			t.Fatalf("Expected the unparseable install to be outdated, got %d updates", len(result))
		}
	})

	t.Run("Delisted Packages Are Skipped", func(t *testing.T) {
		st := store.New(testutil.SetupTestDB(t))
		installRecord(t, st, "dave/gone", "gone", "1.0.0", models.KindPatch)

		lister := &fakeLister{listings: map[models.PackageKind][]models.PackageMetadata{}}

		result, err := updates.NewService(st, lister).CheckAll(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(result) != 0 {
			t.Errorf("Expected no updates for a delisted package, got %+v", result)
		}
	})

	t.Run("Nothing Installed Skips The Network", func(t *testing.T) {
		st := store.New(testutil.SetupTestDB(t))
		lister := &fakeLister{err: &github.FetchError{Cause: errors.New("offline")}}

		result, err := updates.NewService(st, lister).CheckAll(context.Background())
		if err != nil {
			t.Fatalf("Expected no error with nothing installed, got %v", err)
		}
		if len(result) != 0 {
			t.Errorf("Expected empty result, got %+v", result)
		}
	})

	t.Run("Stale Listing Is Still Used", func(t *testing.T) {
		st := store.New(testutil.SetupTestDB(t))
		installRecord(t, st, "alice/calibre-sync", "calibre-sync", "2.2.0", models.KindPlugin)

		lister := &fakeLister{
			listings: map[models.PackageKind][]models.PackageMetadata{
				models.KindPlugin: {{ID: "alice/calibre-sync", LatestVersion: "2.3.0"}},
			},
			err: &github.StaleDataWarning{FetchedAt: time.Now().Add(-6 * 7 * 24 * time.Hour), Cause: errors.New("offline")},
		}

		result, err := updates.NewService(st, lister).CheckAll(context.Background())
		if err != nil {
			t.Fatalf("Stale data must not fail the check, got %v", err)
		}
		if len(result) != 1 {
			t.Errorf("Expected stale listing to drive the check, got %d updates", len(result))
		}
	})

	t.Run("Fetch Failure Is An Error", func(t *testing.T) {
		st := store.New(testutil.SetupTestDB(t))
		installRecord(t, st, "alice/calibre-sync", "calibre-sync", "2.2.0", models.KindPlugin)

		lister := &fakeLister{err: &github.FetchError{Cause: errors.New("offline")}}

		if _, err := updates.NewService(st, lister).CheckAll(context.Background()); err == nil {
			t.Fatal("Expected CheckAll to fail when the listing is unavailable")
		}
	})
}
