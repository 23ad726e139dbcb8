package github

import "time"

// Wire types for the GitHub REST API. Payloads are validated into
// models.PackageMetadata at the boundary; these structs never leave the
// package.

type searchResponse struct {
	TotalCount int        `json:"total_count"`
	Items      []repoItem `json:"items"`
}

type repoItem struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	FullName    string   `json:"full_name"`
	Description string   `json:"description"`
	Topics      []string `json:"topics"`
	HTMLURL     string   `json:"html_url"`
}

type release struct {
	TagName     string         `json:"tag_name"`
	Name        string         `json:"name"`
	Body        string         `json:"body"`
	Prerelease  bool           `json:"prerelease"`
	PublishedAt time.Time      `json:"published_at"`
	Assets      []releaseAsset `json:"assets"`
}

type releaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
	// Digest is "sha256:<hex>" on newer API versions; optional.
	Digest string `json:"digest"`
}
