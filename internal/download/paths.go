package download

import (
	"os"
	"path/filepath"

	"github.com/relayfetch/relayfetch/internal/meta"
)

// paths centralises the three on-disk names derived from dir/filename:
// the payload, its ".tmp" staging file, and its ".meta" sidecar.
type paths struct {
	dir     string
	payload string
	tmp     string
	sidecar string
}

func newPaths(dir, filename string) paths {
	p := filepath.Join(dir, filename)
	return paths{
		dir:     dir,
		payload: p,
		tmp:     p + ".tmp",
		sidecar: p + ".meta",
	}
}

// payloadMatchesSize reports whether the payload exists and its size
// matches the sidecar's recorded total_size, the precondition for
// attempting the freshness probe instead of a full body transfer.
func (p paths) payloadMatchesSize(m meta.FileMeta) (bool, error) {
	if m.TotalSize == nil {
		return false, nil
	}
	st, err := os.Stat(p.payload)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return uint64(st.Size()) == *m.TotalSize, nil
}

// tmpSize returns the current size of the in-progress staging file, or 0
// if it does not exist.
func (p paths) tmpSize() uint64 {
	st, err := os.Stat(p.tmp)
	if err != nil {
		return 0
	}
	return uint64(st.Size())
}

func (p paths) removeTmp() {
	os.Remove(p.tmp)
}
