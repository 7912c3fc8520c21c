package meta

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// DirSync calls fsync(2) on the directory to persist changes made within
// it, such as a create or rename. Call it after any operation that adds,
// removes, or replaces a directory entry whose durability matters.
func DirSync(d string) error {
	f, err := os.OpenFile(filepath.Clean(d), os.O_RDONLY, 0o755) // #nosec G304 -- directory path owned by the caller
	if err != nil {
		return errors.Wrap(err, "DirSync")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "DirSync")
	}
	return f.Close()
}
