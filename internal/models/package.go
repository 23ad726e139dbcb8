package models

import "time"

// PackageKind distinguishes installable plugins from user patches.
type PackageKind string

const (
	KindPlugin PackageKind = "plugin"
	KindPatch  PackageKind = "patch"
)

// PackageMetadata identifies one installable unit as published by the remote
// repository. A record is immutable once fetched; a new fetch replaces it.
type PackageMetadata struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description"` // raw markdown
	LatestVersion string      `json:"latest_version"`
	DownloadURL   string      `json:"download_url"`
	AssetSize     int64       `json:"asset_size"`
	Checksum      string      `json:"checksum,omitempty"` // "sha256:<hex>" when the API provides it
	PublishedAt   time.Time   `json:"published_at"`
	Kind          PackageKind `json:"kind"`
}

// InstalledRecord is the persisted fact that a package version is present on
// the device. Written only by the install worker after a successful install.
type InstalledRecord struct {
	PackageID        string      `json:"package_id"`
	Name             string      `json:"name"`
	InstalledVersion string      `json:"installed_version"`
	InstallPath      string      `json:"install_path"`
	Kind             PackageKind `json:"kind"`
	InstalledAt      time.Time   `json:"installed_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// UpdateInfo describes an installed package for which a newer release exists.
type UpdateInfo struct {
	PackageID        string `json:"package_id"`
	Name             string `json:"name"`
	InstalledVersion string `json:"installed_version"`
	AvailableVersion string `json:"available_version"`
	DownloadURL      string `json:"download_url"`
}
