package relay

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"
)

// Center owns the three live documents behind a single-writer,
// many-reader discipline apiece: RuntimeConfig, the file map, and the
// sync status. Every export is either an owned clone or assembled under
// a read lock so callers never observe a half-updated document, per §3
// invariant 4 and the "clone -> mutate -> validate -> persist -> publish"
// pattern in §9.
type Center struct {
	configPath string
	filesPath  string

	configMu sync.RWMutex
	config   *RuntimeConfig

	filesMu sync.RWMutex
	files   map[string]string

	statusMu sync.RWMutex
	status   *SyncStatus
}

// NewCenter reads both configuration documents from disk. A parse
// failure here is fatal: the daemon refuses to start with a corrupt
// configuration, per §7.
func NewCenter(configPath, filesPath string) (*Center, error) {
	cfg, err := LoadRuntimeConfig(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "relay: fatal startup config error")
	}
	files, err := LoadFileMap(filesPath)
	if err != nil {
		return nil, errors.Wrap(err, "relay: fatal startup files error")
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o750); err != nil {
		return nil, errors.Wrap(err, "relay: cannot create storage_dir")
	}

	return &Center{
		configPath: configPath,
		filesPath:  filesPath,
		config:     cfg,
		files:      files,
		status:     newSyncStatus(),
	}, nil
}

// ConfigSnapshot returns an owned copy of the current RuntimeConfig.
func (c *Center) ConfigSnapshot() *RuntimeConfig {
	c.configMu.RLock()
	defer c.configMu.RUnlock()
	return c.config.Clone()
}

// FilesSnapshot returns an owned copy of the current file map.
func (c *Center) FilesSnapshot() map[string]string {
	c.filesMu.RLock()
	defer c.filesMu.RUnlock()
	return cloneFileMap(c.files)
}

// StatusSnapshot returns an owned copy of the current sync status.
func (c *Center) StatusSnapshot() *SyncStatus {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status.clone()
}

// ReloadConfigs re-reads both documents from disk and replaces the
// in-memory copies atomically. It fails without touching either document
// if either parse fails, satisfying "no partial swap on parse error".
func (c *Center) ReloadConfigs() error {
	cfg, err := LoadRuntimeConfig(c.configPath)
	if err != nil {
		return errors.Wrap(err, "relay: reload config")
	}
	files, err := LoadFileMap(c.filesPath)
	if err != nil {
		return errors.Wrap(err, "relay: reload files")
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o750); err != nil {
		return errors.Wrap(err, "relay: cannot create storage_dir")
	}

	c.configMu.Lock()
	c.config = cfg
	c.configMu.Unlock()

	c.filesMu.Lock()
	c.files = files
	c.filesMu.Unlock()

	return nil
}

// UpdateConfig applies mutate to a clone of the current RuntimeConfig,
// validates the post-image, persists it to disk, then publishes it.
// Validation failure or a persist failure leaves the live config
// untouched.
func (c *Center) UpdateConfig(mutate func(*RuntimeConfig)) (*RuntimeConfig, error) {
	c.configMu.Lock()
	defer c.configMu.Unlock()

	clone := c.config.Clone()
	mutate(clone)

	if err := clone.Check(); err != nil {
		return nil, err
	}
	if err := clone.deriveBindPort(); err != nil {
		return nil, err
	}
	if err := clone.Save(c.configPath); err != nil {
		return nil, errors.Wrap(err, "relay: persist config")
	}

	c.config = clone
	return clone.Clone(), nil
}

// FilesMutation describes one update_files invocation's semantics: either
// wholesale replacement, or a remove-then-add merge. Both protocols
// reject entries with an empty filename or path.
type FilesMutation struct {
	ReplaceAll bool
	NewFiles   map[string]string
	AddFiles   map[string]string
	RemoveFiles []string
}

// UpdateFiles applies m to a clone of the current file map, persists,
// then publishes.
func (c *Center) UpdateFiles(m FilesMutation) (map[string]string, error) {
	c.filesMu.Lock()
	defer c.filesMu.Unlock()

	clone := cloneFileMap(c.files)

	if m.ReplaceAll {
		clone = map[string]string{}
		for name, url := range m.NewFiles {
			if name == "" || url == "" {
				return nil, errors.New("relay: file entries must have a non-empty name and path")
			}
			clone[name] = url
		}
	} else {
		for _, name := range m.RemoveFiles {
			delete(clone, name)
		}
		for name, url := range m.AddFiles {
			if name == "" || url == "" {
				return nil, errors.New("relay: file entries must have a non-empty name and path")
			}
			clone[name] = url
		}
	}

	if err := SaveFileMap(c.filesPath, clone); err != nil {
		return nil, errors.Wrap(err, "relay: persist files")
	}

	c.files = clone
	return cloneFileMap(clone), nil
}

// WithStatus runs mutate against the live SyncStatus under its write
// lock. Every §4.3 status transition (sync_started, file_started, ...)
// is expressed as a call through this single choke point so invariant 1
// holds regardless of which goroutine is publishing.
func (c *Center) WithStatus(mutate func(*SyncStatus)) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	mutate(c.status)
}
