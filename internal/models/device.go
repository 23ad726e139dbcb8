package models

// DevicePath is a validated filesystem location for a KOReader installation.
// It is recomputed on every detection pass and never cached across sessions,
// since removable media may change between runs.
type DevicePath struct {
	RootPath   string `json:"root_path"`
	PluginsDir string `json:"plugins_dir"`
	PatchesDir string `json:"patches_dir"`
	IsValid    bool   `json:"is_valid"`
}

// DirFor returns the install directory for the given package kind.
func (d DevicePath) DirFor(kind PackageKind) string {
	if kind == KindPatch {
		return d.PatchesDir
	}
	return d.PluginsDir
}

// DeviceInfo carries extra detail about a detected device for display.
type DeviceInfo struct {
	Path            DevicePath `json:"path"`
	FirmwareVersion string     `json:"firmware_version"`
}
