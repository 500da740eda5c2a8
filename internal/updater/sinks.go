package updater

import (
	"encoding/json"
	"fmt"
	"os"

	"datarunloop/internal/filesystem"
)

// ParseReleaseManifest is the HTTP lane's cb_core_updater_list sink: it
// decodes a fully-received response body as a single release manifest.
func ParseReleaseManifest(body []byte) (*Release, error) {
	var rel Release
	if err := json.Unmarshal(body, &rel); err != nil {
		return nil, fmt.Errorf("updater: parse release manifest: %w", err)
	}
	return &rel, nil
}

// SaveDownload is the HTTP lane's cb_core_updater_download sink: it
// pre-allocates destPath's space, writes the fully-received body, and files
// the result into a categorized subfolder via the shared organizer.
func SaveDownload(body []byte, destPath string, allocator *filesystem.Allocator, organizer *filesystem.SmartOrganizer) (finalPath string, err error) {
	if allocator != nil {
		if err := allocator.AllocateFile(destPath, int64(len(body))); err != nil {
			return "", fmt.Errorf("updater: allocate: %w", err)
		}
	}

	if err := os.WriteFile(destPath, body, 0644); err != nil {
		return "", fmt.Errorf("updater: write: %w", err)
	}

	if organizer == nil {
		return destPath, nil
	}
	final, err := organizer.OrganizeFile(destPath)
	if err != nil {
		return destPath, fmt.Errorf("updater: organize: %w", err)
	}
	return final, nil
}
