package updater

import "strings"

// Release represents a GitHub release.
type Release struct {
	TagName string `json:"tag_name"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
}

// IsNewerRelease reports whether rel's tag differs from currentVersion, once
// each side's optional "v" prefix is stripped. The release itself is fetched
// by posting its manifest URL through the HTTP lane with the
// cb_core_updater_list tag (see ParseReleaseManifest); this is the pure
// comparison the sink applies to what comes back, so no code path opens its
// own connection outside the lane.
func IsNewerRelease(currentVersion string, rel Release) bool {
	if rel.TagName == "" {
		return false
	}
	current := strings.TrimPrefix(currentVersion, "v")
	remote := strings.TrimPrefix(rel.TagName, "v")
	return current != remote
}
