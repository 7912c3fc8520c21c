package relay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/relayfetch/relayfetch/internal/meta"
)

// Management is the protocol-agnostic operation set a transport adapter
// (HTTP or gRPC) wires onto its own request/response shapes. Every
// method here returns either a value or a *CoreError; no panics, no
// transport-specific types.
type Management struct {
	center    *Center
	scheduler *Scheduler
}

// NewManagement binds a Management Core to a Center and the Scheduler
// that serialises sync passes.
func NewManagement(center *Center, scheduler *Scheduler) *Management {
	return &Management{center: center, scheduler: scheduler}
}

// Ping is a static liveness check for deployment health probes.
func (m *Management) Ping() string {
	return "pong"
}

// ReloadConfig delegates straight to the Center.
func (m *Management) ReloadConfig() error {
	if err := m.center.ReloadConfigs(); err != nil {
		return internal("reload_config: %s", err)
	}
	return nil
}

// TriggerSync runs a sync pass and returns once it completes.
func (m *Management) TriggerSync(ctx context.Context) error {
	if err := m.scheduler.TriggerSync(ctx); err != nil {
		return internal("trigger_sync: %s", err)
	}
	return nil
}

// CleanUnusedFiles scans storage_dir one level deep and removes every
// regular file whose name is neither a key of the current file map nor
// the ".meta" sidecar of such a key; sidecars of mapped files are kept.
// Entries that fail to remove are logged and skipped, not fatal to the
// operation.
func (m *Management) CleanUnusedFiles() ([]string, error) {
	cfg := m.center.ConfigSnapshot()
	files := m.center.FilesSnapshot()

	valid := make(map[string]bool, len(files)*2)
	for name := range files {
		valid[name] = true
		valid[name+".meta"] = true
	}

	entries, err := os.ReadDir(cfg.StorageDir)
	if err != nil {
		return nil, internal("clean_unused_files: read storage_dir: %s", err)
	}

	var removed []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if valid[name] {
			continue
		}
		if err := os.Remove(filepath.Join(cfg.StorageDir, name)); err != nil {
			slog.Warn("clean_unused_files: remove failed", "file", name, "error", err)
			continue
		}
		removed = append(removed, name)
	}
	sort.Strings(removed)
	return removed, nil
}

// GetConfig returns the current RuntimeConfig as a wire-safe snapshot.
func (m *Management) GetConfig() ConfigSnapshot {
	return newConfigSnapshot(m.center.ConfigSnapshot())
}

// UpdateConfig validates input per §3's bounds and applies it as a
// partial update. Proxy uses the explicit ProxyAction tri-state: no
// change, clear, or set.
func (m *Management) UpdateConfig(input UpdateConfigInput) (ConfigSnapshot, error) {
	updated, err := m.center.UpdateConfig(func(c *RuntimeConfig) {
		if input.IntervalSecs != nil {
			c.IntervalSecs = *input.IntervalSecs
		}
		if input.StorageDir != nil {
			c.StorageDir = *input.StorageDir
		}
		if input.Bind != nil {
			c.Bind = *input.Bind
		}
		if input.HTTPAdmin != nil {
			c.HTTPAdmin = *input.HTTPAdmin
		}
		if input.GRPCAdmin != nil {
			c.GRPCAdmin = *input.GRPCAdmin
		}
		if input.URL != nil {
			c.URL = *input.URL
		}
		switch input.ProxyAction {
		case ProxyClear:
			c.Proxy = nil
		case ProxySet:
			v := input.ProxyValue
			c.Proxy = &v
		}
		if input.DownloadConcurrency != nil {
			c.DownloadConcurrency = *input.DownloadConcurrency
		}
		if input.DownloadRetry != nil {
			c.DownloadRetry = *input.DownloadRetry
		}
		if input.RetryBaseDelayMs != nil {
			c.RetryBaseDelayMs = *input.RetryBaseDelayMs
		}
	})
	if err != nil {
		return ConfigSnapshot{}, invalidArgument("update_config: %s", err)
	}
	return newConfigSnapshot(updated), nil
}

// ListFiles walks storage_dir recursively, skipping ".meta" sidecars,
// and returns one entry per payload file sorted by filename for a stable
// observation (§5).
func (m *Management) ListFiles() ([]FileInfoDto, error) {
	cfg := m.center.ConfigSnapshot()

	var out []FileInfoDto
	err := filepath.Walk(cfg.StorageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.TrimPrefix(filepath.Ext(path), ".") == "meta" {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}

		rel, err := filepath.Rel(cfg.StorageDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		out = append(out, FileInfoDto{
			Filename:     rel,
			URL:          fmt.Sprintf("http://%s:%d/%s", cfg.URL, cfg.BindPort, rel),
			LastModified: lastModifiedFor(path, info),
		})
		return nil
	})
	if err != nil {
		return nil, internal("list_files: %s", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// lastModifiedFor prefers the sidecar's recorded last_modified validator
// (parsed as RFC2822 or RFC3339, reformatted to RFC3339 for the DTO),
// falling back to filesystem mtime, falling back to "unknown".
func lastModifiedFor(payloadPath string, info os.FileInfo) string {
	sidecarPath := payloadPath + ".meta"
	if m, err := meta.Load(sidecarPath); err == nil && m.LastModified != nil {
		if t, ok := parseValidatorTime(*m.LastModified); ok {
			return t.Format(time.RFC3339)
		}
	}
	if !info.ModTime().IsZero() {
		return info.ModTime().UTC().Format(time.RFC3339)
	}
	return "unknown"
}

func parseValidatorTime(v string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// UpdateFiles applies input as either a full replace or a remove-then-add
// merge, matching Center.UpdateFiles' semantics.
func (m *Management) UpdateFiles(input UpdateFilesInput) (map[string]string, error) {
	mutation := FilesMutation{
		ReplaceAll:  input.ReplaceAll,
		RemoveFiles: input.RemoveFiles,
	}
	if input.ReplaceAll {
		mutation.NewFiles = itemsToMap(input.NewFiles)
	} else {
		mutation.AddFiles = itemsToMap(input.AddFiles)
	}

	updated, err := m.center.UpdateFiles(mutation)
	if err != nil {
		return nil, invalidArgument("update_files: %s", err)
	}
	return updated, nil
}

func itemsToMap(items []FileItemInput) map[string]string {
	out := make(map[string]string, len(items))
	for _, it := range items {
		out[it.Filename] = it.URL
	}
	return out
}

// Status returns the live SyncStatus augmented with stored_files, the
// halved regular-file count under storage_dir (§4.6, known to drift per
// the open question in §9 -- it assumes exactly one sidecar per payload
// and does not discount stray ".meta"/".tmp" entries).
func (m *Management) Status() (StatusSnapshot, error) {
	cfg := m.center.ConfigSnapshot()
	status := m.center.StatusSnapshot()

	count, err := countRegularFiles(cfg.StorageDir)
	if err != nil {
		return StatusSnapshot{}, internal("status: %s", err)
	}

	return newStatusSnapshot(status, count/2), nil
}

func countRegularFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n, nil
}
