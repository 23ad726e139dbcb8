// Client for the GitHub REST API. Package discovery runs through topic
// search, release resolution through the releases endpoint. Every read goes
// through the persisted metadata cache first; the network is only consulted
// when the cached entry is missing or past its TTL.

package github

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sreramk/kostore-go/internal/config"
	"github.com/sreramk/kostore-go/internal/models"
	"github.com/sreramk/kostore-go/internal/store"
)

const perPage = 100

// maxSearchPages bounds pagination so a runaway topic can't stall a refresh.
const maxSearchPages = 10

var errNotFound = errors.New("not found")

// topicFor maps a package kind to the GitHub topic used for discovery.
func topicFor(kind models.PackageKind) string {
	if kind == models.KindPatch {
		return "koreader-user-patch"
	}
	return "koreader-plugin"
}

// Client fetches package listings and release assets, consulting the
// metadata cache before every network call.
type Client struct {
	st      *store.Store
	client  *http.Client
	baseURL string
	token   string
	ttl     time.Duration
}

// NewClient creates a repository client. The token may be empty; calls then
// run unauthenticated against GitHub's lower rate limit, which makes cache
// hits more valuable but is not an error.
func NewClient(st *store.Store, cfg *config.Config) *Client {
	timeout := time.Duration(cfg.Download.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ttl := time.Duration(cfg.Cache.TTLWeeks) * 7 * 24 * time.Hour
	if ttl <= 0 {
		ttl = 4 * 7 * 24 * time.Hour
	}
	return &Client{
		st:      st,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(cfg.GitHub.APIURL, "/"),
		token:   cfg.GitHub.Token,
		ttl:     ttl,
	}
}

// ListPackages returns the available packages of the given kind, flattened
// across all result pages and deduplicated by id (last write wins). Within
// the TTL the cached listing is returned with no network call. On a network
// failure with an expired entry still present, the stale listing is returned
// together with a *StaleDataWarning.
func (c *Client) ListPackages(ctx context.Context, kind models.PackageKind) ([]models.PackageMetadata, error) {
	key := "packages:" + string(kind)

	var cached []models.PackageMetadata
	entry := c.readCache(key, &cached)
	if entry != nil && c.fresh(entry) {
		return cached, nil
	}

	packages, err := c.fetchListing(ctx, kind)
	if err != nil {
		if entry != nil {
			// Serve the expired entry rather than failing outright.
			return cached, &StaleDataWarning{FetchedAt: entry.FetchedAt, Cause: err}
		}
		return nil, &FetchError{Cause: err}
	}

	c.writeCache(key, packages)
	return packages, nil
}

// RefreshListing forces the listing for a kind through the network, ignoring
// any still-fresh cache entry. The stored entry is only replaced on success,
// so a failed refresh leaves the stale fallback for ListPackages intact.
func (c *Client) RefreshListing(ctx context.Context, kind models.PackageKind) ([]models.PackageMetadata, error) {
	packages, err := c.fetchListing(ctx, kind)
	if err != nil {
		return nil, &FetchError{Cause: err}
	}
	c.writeCache("packages:"+string(kind), packages)
	return packages, nil
}

// GetReleaseAsset re-resolves the latest release for a single package.
func (c *Client) GetReleaseAsset(ctx context.Context, packageID string) (*models.PackageMetadata, error) {
	key := "asset:" + packageID

	var cached models.PackageMetadata
	entry := c.readCache(key, &cached)
	if entry != nil && c.fresh(entry) {
		return &cached, nil
	}

	pkg, err := c.fetchAsset(ctx, packageID)
	if err != nil {
		if entry != nil {
			return &cached, &StaleDataWarning{FetchedAt: entry.FetchedAt, Cause: err}
		}
		return nil, &FetchError{Cause: err}
	}

	c.writeCache(key, pkg)
	return pkg, nil
}

// fetchListing walks the paginated topic search and resolves the latest
// release of every hit. Repositories without a published release are
// skipped; they have nothing installable yet.
func (c *Client) fetchListing(ctx context.Context, kind models.PackageKind) ([]models.PackageMetadata, error) {
	repos, err := c.searchRepositories(ctx, topicFor(kind))
	if err != nil {
		return nil, err
	}

	var packages []models.PackageMetadata
	index := make(map[string]int)
	for _, repo := range repos {
		if repo.FullName == "" {
			continue
		}
		rel, err := c.latestRelease(ctx, repo.FullName)
		if err != nil {
			if errors.Is(err, errNotFound) {
				continue
			}
			return nil, err
		}
		pkg, err := buildMetadata(repo, rel, kind)
		if err != nil {
			log.Printf("github: skipping %s: %v", repo.FullName, err)
			continue
		}
		// Dedupe by id: last write wins, original position kept.
		if i, ok := index[pkg.ID]; ok {
			packages[i] = *pkg
			continue
		}
		index[pkg.ID] = len(packages)
		packages = append(packages, *pkg)
	}
	return packages, nil
}

func (c *Client) fetchAsset(ctx context.Context, packageID string) (*models.PackageMetadata, error) {
	rel, err := c.latestRelease(ctx, packageID)
	if err != nil {
		return nil, err
	}
	repo := repoItem{FullName: packageID, Name: shortName(packageID)}
	kind := models.KindPlugin
	if rec, err := c.st.GetInstalledRecord(packageID); err == nil {
		kind = rec.Kind
	}
	return buildMetadata(repo, rel, kind)
}

// searchRepositories follows the paginated topic listing transparently,
// using the Link header to find the next page.
func (c *Client) searchRepositories(ctx context.Context, topic string) ([]repoItem, error) {
	next := fmt.Sprintf("%s/search/repositories?q=%s&per_page=%d",
		c.baseURL, url.QueryEscape("topic:"+topic), perPage)

	var repos []repoItem
	for page := 0; next != "" && page < maxSearchPages; page++ {
		resp, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}

		var result searchResponse
		err = json.NewDecoder(resp.Body).Decode(&result)
		link := resp.Header.Get("Link")
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode search response: %w", err)
		}

		repos = append(repos, result.Items...)
		next = nextPageURL(link)
	}
	return repos, nil
}

func (c *Client) latestRelease(ctx context.Context, fullName string) (*release, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/repos/%s/releases/latest", c.baseURL, fullName))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("failed to decode release: %w", err)
	}
	return &rel, nil
}

// get issues one API request. Metadata calls are never retried here; the
// caller re-requests explicitly, leaning on the cache in the meantime.
func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", rawURL, errNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GitHub API returned status %d for %s", resp.StatusCode, rawURL)
	}
	return resp, nil
}

// buildMetadata validates a repository/release pair into a PackageMetadata.
// Records missing the fields needed to install are rejected, never
// zero-filled.
func buildMetadata(repo repoItem, rel *release, kind models.PackageKind) (*models.PackageMetadata, error) {
	if repo.FullName == "" {
		return nil, fmt.Errorf("repository has no full name")
	}
	if rel.TagName == "" {
		return nil, fmt.Errorf("release has no tag name")
	}

	asset := pickAsset(rel.Assets)
	if asset == nil {
		return nil, fmt.Errorf("release %s has no downloadable asset", rel.TagName)
	}

	name := repo.Name
	if name == "" {
		name = shortName(repo.FullName)
	}

	return &models.PackageMetadata{
		ID:            repo.FullName,
		Name:          name,
		Description:   repo.Description,
		LatestVersion: strings.TrimPrefix(rel.TagName, "v"),
		DownloadURL:   asset.BrowserDownloadURL,
		AssetSize:     asset.Size,
		Checksum:      asset.Digest,
		PublishedAt:   rel.PublishedAt,
		Kind:          kind,
	}, nil
}

// pickAsset chooses the installable asset: the first archive, falling back
// to the first asset with a download URL.
func pickAsset(assets []releaseAsset) *releaseAsset {
	for i := range assets {
		name := strings.ToLower(assets[i].Name)
		if assets[i].BrowserDownloadURL == "" {
			continue
		}
		if strings.HasSuffix(name, ".zip") || strings.HasSuffix(name, ".tar.gz") ||
			strings.HasSuffix(name, ".tgz") || strings.HasSuffix(name, ".7z") {
			return &assets[i]
		}
	}
	for i := range assets {
		if assets[i].BrowserDownloadURL != "" {
			return &assets[i]
		}
	}
	return nil
}

func shortName(fullName string) string {
	if i := strings.LastIndex(fullName, "/"); i >= 0 {
		return fullName[i+1:]
	}
	return fullName
}

// readCache loads and decodes the entry for key into v. A corrupt payload is
// self-healing: it is logged, dropped, and treated as a miss. Returns nil on
// any miss.
func (c *Client) readCache(key string, v interface{}) *store.CacheEntry {
	entry, err := c.st.GetCacheEntry(key)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("github: cache read for %q failed: %v", key, err)
		}
		return nil
	}
	if err := json.Unmarshal(entry.Payload, v); err != nil {
		log.Printf("github: corrupt cache entry %q, discarding: %v", key, err)
		c.st.DeleteCacheEntry(key)
		return nil
	}
	return entry
}

func (c *Client) fresh(entry *store.CacheEntry) bool {
	return time.Since(entry.FetchedAt) < c.ttl
}

func (c *Client) writeCache(key string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("github: failed to encode cache entry %q: %v", key, err)
		return
	}
	if err := c.st.PutCacheEntry(key, payload); err != nil {
		log.Printf("github: failed to persist cache entry %q: %v", key, err)
	}
}

// nextPageURL extracts the rel="next" target from a Link header, if any.
func nextPageURL(header string) string {
	for _, part := range strings.Split(header, ",") {
		section := strings.Split(part, ";")
		if len(section) < 2 {
			continue
		}
		urlPart := strings.Trim(strings.TrimSpace(section[0]), "<>")
		for _, param := range section[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return urlPart
			}
		}
	}
	return ""
}
