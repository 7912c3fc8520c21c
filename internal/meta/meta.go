// Package meta implements the on-disk sidecar protocol: one JSON document
// per mirrored file, recording the validators and size needed to resume or
// revalidate a transfer without re-reading the payload.
package meta

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

// FileMeta is the sidecar record kept next to a mirrored payload, suffixed
// ".meta". All fields are optional so that a partially-known state (no
// validators yet, or a validator but no recorded size) round-trips exactly.
type FileMeta struct {
	ETag         *string `json:"etag,omitempty"`
	LastModified *string `json:"last_modified,omitempty"`
	FetchedAt    *string `json:"fetched_at,omitempty"`
	TotalSize    *uint64 `json:"total_size,omitempty"`
}

// Load reads the sidecar at path. A missing file is not an error: it
// returns the zero FileMeta, the state of a file never successfully
// fetched. A malformed document is fatal to the caller's startup path but
// non-fatal during a run, per the caller's own retry policy; Load itself
// always reports the parse error and lets the caller decide.
func Load(path string) (FileMeta, error) {
	var m FileMeta

	f, err := os.Open(path) // #nosec G304 -- path is the caller's own storage_dir join
	switch {
	case os.IsNotExist(err):
		return m, nil
	case err != nil:
		return m, errors.Wrap(err, "meta.Load: open")
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return FileMeta{}, errors.Wrap(err, "meta.Load: decode "+path)
	}
	return m, nil
}

// Save serialises m to path, replacing any existing sidecar. The write
// goes through a temp file and rename so a reader never observes a
// partially written sidecar, and the containing directory is fsynced so
// the rename survives a crash.
func Save(path string, m FileMeta) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".meta-*")
	if err != nil {
		return errors.Wrap(err, "meta.Save: create temp")
	}
	tmpName := tmp.Name()

	if err := json.NewEncoder(tmp).Encode(&m); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "meta.Save: encode")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "meta.Save: sync")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "meta.Save: close")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "meta.Save: rename")
	}
	return DirSync(dir)
}

// Remove deletes the sidecar at path, if present. Absence is not an error.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "meta.Remove")
	}
	return nil
}

// EnsureParentDir creates every missing ancestor directory of path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(err, "meta.EnsureParentDir: "+dir)
	}
	return nil
}

// Now stamps FetchedAt with the current instant in RFC3339, the format
// used throughout FileMeta's timestamp fields.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
