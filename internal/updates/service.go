// Update checking: joins the installed records with the remote listings and
// reports every package whose latest release is newer than what is on the
// device.

package updates

import (
	"context"
	"errors"
	"log"

	"github.com/sreramk/kostore-go/internal/github"
	"github.com/sreramk/kostore-go/internal/models"
	"github.com/sreramk/kostore-go/internal/store"
	"github.com/sreramk/kostore-go/internal/version"
)

// Lister is the slice of the repository client the update check needs.
type Lister interface {
	ListPackages(ctx context.Context, kind models.PackageKind) ([]models.PackageMetadata, error)
}

// Service holds the dependencies for the update checker.
type Service struct {
	st     *store.Store
	client Lister
}

func NewService(st *store.Store, client Lister) *Service {
	return &Service{st: st, client: client}
}

// CheckAll returns an UpdateInfo for every installed package with a newer
// release available. An installed version the comparator cannot parse counts
// as outdated, so packages recorded with an unknown version still surface.
// Stale listings are used as-is; only a total fetch failure is an error.
func (s *Service) CheckAll(ctx context.Context) ([]models.UpdateInfo, error) {
	installed, err := s.st.GetAllInstalledRecords()
	if err != nil {
		return nil, err
	}
	if len(installed) == 0 {
		return []models.UpdateInfo{}, nil
	}

	// Only fetch the listings for kinds actually installed.
	kinds := make(map[models.PackageKind]bool)
	for _, rec := range installed {
		kinds[rec.Kind] = true
	}

	remote := make(map[string]models.PackageMetadata)
	for kind := range kinds {
		packages, err := s.client.ListPackages(ctx, kind)
		if err != nil {
			var warning *github.StaleDataWarning
			if !errors.As(err, &warning) {
				return nil, err
			}
			log.Printf("updates: %v", warning)
		}
		for _, pkg := range packages {
			remote[pkg.ID] = pkg
		}
	}

	updates := make([]models.UpdateInfo, 0)
	for _, rec := range installed {
		pkg, known := remote[rec.PackageID]
		if !known {
			// Delisted upstream; nothing to offer.
			continue
		}
		if version.IsNewer(pkg.LatestVersion, rec.InstalledVersion) {
			updates = append(updates, models.UpdateInfo{
				PackageID:        rec.PackageID,
				Name:             rec.Name,
				InstalledVersion: rec.InstalledVersion,
				AvailableVersion: pkg.LatestVersion,
				DownloadURL:      pkg.DownloadURL,
			})
		}
	}
	return updates, nil
}
