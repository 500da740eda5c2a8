// Package dbindex is the concrete offline database indexer named as an
// external collaborator in the spec's overlay/DB-driver component: an
// embedded SQLite store that indexes entries one row per Step call, with an
// optional antivirus scan before an entry is marked indexed.
package dbindex

import (
	"context"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"datarunloop/internal/security"
)

// IndexEntry is one row of the offline index.
type IndexEntry struct {
	ID         string `gorm:"primaryKey"`
	Path       string
	Indexed    bool   `gorm:"index"`
	ScanResult string
	CreatedAt  time.Time
}

// TableName names the entries table explicitly, matching the teacher's
// storage model convention.
func (IndexEntry) TableName() string {
	return "index_entries"
}

// Indexer owns the embedded store and steps pending entries one at a time.
type Indexer struct {
	db      *gorm.DB
	scanner security.Scanner
	log     *slog.Logger
}

// Open opens (creating if absent) the SQLite-backed index at path.
func Open(path string, scanner security.Scanner, log *slog.Logger) (*Indexer, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&IndexEntry{}); err != nil {
		return nil, err
	}
	return &Indexer{db: db, scanner: scanner, log: log}, nil
}

// Enqueue registers a path for indexing under id. It is a no-op if an entry
// with that id is already queued or indexed; the path is not checked.
func (ix *Indexer) Enqueue(id, path string) error {
	entry := IndexEntry{ID: id, Path: path, Indexed: false, CreatedAt: time.Now()}
	return ix.db.FirstOrCreate(&entry, IndexEntry{ID: id}).Error
}

// IsIterating reports whether any entry is still pending indexing.
func (ix *Indexer) IsIterating() bool {
	var count int64
	ix.db.Model(&IndexEntry{}).Where("indexed = ?", false).Count(&count)
	return count > 0
}

// Step indexes exactly one pending entry: runs the scanner (if configured)
// and marks the entry indexed regardless of scan outcome (the scan result is
// recorded, not gated on — a dirty file is still indexed, just flagged).
func (ix *Indexer) Step() error {
	var entry IndexEntry
	if err := ix.db.Where("indexed = ?", false).Order("created_at").First(&entry).Error; err != nil {
		return err
	}

	scanResult := "skipped"
	if ix.scanner != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := ix.scanner.ScanFile(ctx, entry.Path); err != nil {
			scanResult = err.Error()
			ix.log.Warn("dbindex: scan flagged entry", "path", entry.Path, "result", scanResult)
		} else {
			scanResult = "clean"
		}
	}

	entry.Indexed = true
	entry.ScanResult = scanResult
	return ix.db.Save(&entry).Error
}

// Free releases the underlying DB handle. Safe to call once the driver
// observes IsIterating() == false.
func (ix *Indexer) Free() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver is the thin per-tick dispatcher the runloop shell calls: step while
// iterating, free and clear once drained.
type Driver struct {
	indexer *Indexer
}

// NewDriver wraps an Indexer for the runloop shell's per-tick dispatch.
func NewDriver(indexer *Indexer) *Driver {
	return &Driver{indexer: indexer}
}

// Tick runs one dispatch step: free-and-clear when idle, otherwise step once.
func (d *Driver) Tick() {
	if d.indexer == nil {
		return
	}
	if !d.indexer.IsIterating() {
		d.indexer.Free()
		d.indexer = nil
		return
	}
	if err := d.indexer.Step(); err != nil {
		d.indexer.log.Warn("dbindex: step failed", "error", err)
	}
}
