// Package archive opens .apkg deck archives: a zip container holding
// an Anki collection database and numbered media blobs described by a
// JSON manifest.
package archive

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Kind categorizes archive failures.
type Kind int

const (
	NotAZip Kind = iota + 1
	MissingDatabase
	CorruptMedia
	IOFailure
)

func (k Kind) String() string {
	switch k {
	case NotAZip:
		return "not a zip archive"
	case MissingDatabase:
		return "missing collection database"
	case CorruptMedia:
		return "corrupt media entry"
	case IOFailure:
		return "i/o failure"
	}
	return "unknown archive error"
}

// ArchiveError wraps a failure while opening a deck archive.
type ArchiveError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("archive %s: %s: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("archive %s: %s", e.Path, e.Kind)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// Collection database filenames, newest format first.
var collectionNames = []string{"collection.anki21", "collection.anki2"}

// Extract is the result of unpacking one archive. The database is
// written to a scratch directory the caller must release via Close.
type Extract struct {
	// DBPath is the extracted collection database.
	DBPath string
	// Media maps logical media filenames to decoded bytes.
	Media map[string][]byte
	// SkippedMedia counts media entries that were missing or corrupt.
	// Partial media loss is non-fatal; note/card loss is.
	SkippedMedia int

	scratch string
}

// Close removes the scratch directory.
func (x *Extract) Close() error {
	return os.RemoveAll(x.scratch)
}

// Open unpacks the archive at path. Media problems are skipped and
// counted; only structural problems (not a zip, no collection
// database, scratch i/o) are fatal.
func Open(path string) (*Extract, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &ArchiveError{Kind: NotAZip, Path: path, Err: err}
	}
	defer zr.Close()

	scratch, err := os.MkdirTemp("", "cardbrick-extract-")
	if err != nil {
		return nil, &ArchiveError{Kind: IOFailure, Path: path, Err: err}
	}
	x := &Extract{scratch: scratch, Media: map[string][]byte{}}

	dbEntry := findCollection(&zr.Reader)
	if dbEntry == nil {
		x.Close()
		return nil, &ArchiveError{Kind: MissingDatabase, Path: path}
	}
	x.DBPath = filepath.Join(scratch, "collection.sqlite")
	if err := extractFile(dbEntry, x.DBPath); err != nil {
		x.Close()
		return nil, &ArchiveError{Kind: IOFailure, Path: path, Err: err}
	}

	x.readMedia(&zr.Reader, path)
	return x, nil
}

func findCollection(zr *zip.Reader) *zip.File {
	for _, name := range collectionNames {
		for _, f := range zr.File {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

func extractFile(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return nil
}

// readMedia decodes the media manifest (a JSON object mapping archive
// entry name to logical filename) and loads each blob. Every failure
// is a skip, never a fatal error.
func (x *Extract) readMedia(zr *zip.Reader, path string) {
	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}

	manifest, ok := entries["media"]
	if !ok {
		return
	}
	raw, err := readAll(manifest)
	if err != nil {
		slog.Warn("media manifest unreadable, skipping all media", "archive", path, "error", err)
		x.SkippedMedia = countNumericEntries(zr)
		return
	}
	var names map[string]string
	if err := json.Unmarshal(raw, &names); err != nil {
		skip := &ArchiveError{Kind: CorruptMedia, Path: path, Err: err}
		slog.Warn("media manifest corrupt, skipping all media", "error", skip)
		x.SkippedMedia = countNumericEntries(zr)
		return
	}

	for entry, name := range names {
		f, ok := entries[entry]
		if !ok {
			x.SkippedMedia++
			continue
		}
		data, err := readAll(f)
		if err != nil {
			skip := &ArchiveError{Kind: CorruptMedia, Path: path, Err: err}
			slog.Warn("skipping media entry", "entry", entry, "name", name, "error", skip)
			x.SkippedMedia++
			continue
		}
		x.Media[name] = data
	}
}

func readAll(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func countNumericEntries(zr *zip.Reader) int {
	n := 0
	for _, f := range zr.File {
		if isNumeric(f.Name) {
			n++
		}
	}
	return n
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
