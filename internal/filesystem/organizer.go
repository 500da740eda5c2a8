// Package filesystem provides disk-facing helpers used by the HTTP lane's
// download sinks: pre-allocating destination space and categorizing
// completed downloads into type-based subfolders.
package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SmartOrganizer categorizes and relocates a completed download by file
// extension. It is driven by the HTTP lane's cb_core_updater_download sink
// after a transfer finishes — never on the tick path.
type SmartOrganizer struct {
	enableSmartSorting bool
}

// NewSmartOrganizer returns an organizer with sorting enabled.
func NewSmartOrganizer() *SmartOrganizer {
	return &SmartOrganizer{enableSmartSorting: true}
}

// GetCategory returns the category for a given filename based on extension.
func GetCategory(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".svg":
		return "Images"
	case ".mp4", ".mkv", ".mov", ".avi", ".webm", ".wmv":
		return "Videos"
	case ".mp3", ".wav", ".flac", ".aac", ".ogg", ".m4a":
		return "Music"
	case ".zip", ".rar", ".7z", ".tar", ".gz", ".iso":
		return "Archives"
	case ".pdf", ".docx", ".xlsx", ".pptx", ".txt", ".md":
		return "Documents"
	case ".exe", ".msi", ".dmg", ".pkg", ".deb":
		return "Software"
	default:
		return "Others"
	}
}

// OrganizeFile moves the file at savePath into a categorized subfolder of
// its parent directory, renaming on collision, and returns the final path.
func (o *SmartOrganizer) OrganizeFile(savePath string) (string, error) {
	if !o.enableSmartSorting {
		return savePath, nil
	}

	filename := filepath.Base(savePath)
	category := GetCategory(filename)
	baseDir := filepath.Dir(savePath)

	targetDir := filepath.Join(baseDir, category)
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return savePath, fmt.Errorf("filesystem: create category dir: %w", err)
	}

	targetPath := o.findAvailablePath(filepath.Join(targetDir, filename))
	if err := os.Rename(savePath, targetPath); err != nil {
		return savePath, fmt.Errorf("filesystem: move file: %w", err)
	}
	return targetPath, nil
}

func (o *SmartOrganizer) findAvailablePath(basePath string) string {
	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		return basePath
	}
	ext := filepath.Ext(basePath)
	dir := filepath.Dir(basePath)
	filename := filepath.Base(basePath)
	nameOnly := strings.TrimSuffix(filename, ext)

	for i := 1; i < 1000; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", nameOnly, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d%s", nameOnly, 9999, ext))
}
