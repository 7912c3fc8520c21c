package relay

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
)

// filesDocument is the on-disk shape of files.toml: a single table
// mapping logical filename to source URL.
type filesDocument struct {
	Files map[string]string `toml:"files"`
}

// LoadFileMap decodes path into a filename->source-URL map, rejecting
// unrecognised top-level keys.
func LoadFileMap(path string) (map[string]string, error) {
	var doc filesDocument
	md, err := toml.DecodeFile(path, &doc)
	if err != nil {
		return nil, errors.Wrap(err, "relay: decode "+path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Newf("relay: unrecognised keys in %s", path)
	}
	if doc.Files == nil {
		doc.Files = map[string]string{}
	}
	return doc.Files, nil
}

// SaveFileMap serialises files to path as TOML, through a temp file and
// rename, mirroring RuntimeConfig.Save.
func SaveFileMap(path string, files map[string]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".files-*")
	if err != nil {
		return errors.Wrap(err, "relay: create temp files doc")
	}
	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(filesDocument{Files: files}); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "relay: encode files doc")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// cloneFileMap returns a shallow copy safe to mutate independently of the
// original.
func cloneFileMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
