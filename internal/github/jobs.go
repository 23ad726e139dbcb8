package github

import (
	"context"
	"log"

	"github.com/sreramk/kostore-go/internal/jobs"
	"github.com/sreramk/kostore-go/internal/models"
	"github.com/sreramk/kostore-go/internal/store"
)

// RefreshCatalog is the JobManager task that forces both package listings
// through the network, repopulating the cache regardless of TTL. A failed
// refresh leaves the existing cache entry alone, so the stale fallback
// survives being offline.
func RefreshCatalog(ctx jobs.JobContext) {
	st := store.New(ctx.DB())
	client := NewClient(st, ctx.Config())

	for _, kind := range []models.PackageKind{models.KindPlugin, models.KindPatch} {
		packages, err := client.RefreshListing(context.Background(), kind)
		if err != nil {
			log.Printf("catalog-refresh: %s listing failed: %v", kind, err)
			continue
		}
		log.Printf("catalog-refresh: %d %s package(s) listed", len(packages), kind)
	}
}
