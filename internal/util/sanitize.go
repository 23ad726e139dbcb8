package util

import (
	"regexp"
	"strings"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	invalidChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	dashRuns     = regexp.MustCompile(`-+`)
)

// Reserved names on Windows (CON, PRN, AUX, NUL, COM1-9, LPT1-9)
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeName removes characters that cannot be used in folder or file
// names. Device storage is commonly FAT32, so the Windows rules apply even
// when the host is not Windows. Use this for individual name components,
// not full paths.
func SanitizeName(name string) string {
	if name == "" {
		return ""
	}

	safeName := controlChars.ReplaceAllString(name, "")
	safeName = invalidChars.ReplaceAllString(safeName, "-")

	// Remove leading/trailing spaces and dots (Windows doesn't allow these)
	safeName = strings.Trim(safeName, " .")

	// Collapse consecutive dashes and trim them
	safeName = dashRuns.ReplaceAllString(safeName, "-")
	safeName = strings.Trim(safeName, "-")

	if reservedNames[strings.ToUpper(safeName)] {
		safeName = safeName + "_"
	}

	if safeName == "" {
		safeName = "untitled"
	}
	return safeName
}
