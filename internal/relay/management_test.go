package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/relayfetch/relayfetch/internal/meta"
)

func newTestManagement(t *testing.T) *Management {
	t.Helper()
	center := newTestCenter(t)
	sched := NewScheduler(center)
	return NewManagement(center, sched)
}

func TestManagementPing(t *testing.T) {
	t.Parallel()
	m := newTestManagement(t)
	if got := m.Ping(); got != "pong" {
		t.Errorf("Ping() = %q, want pong", got)
	}
}

func TestManagementUpdateConfigProxyTriState(t *testing.T) {
	t.Parallel()
	m := newTestManagement(t)

	set := "http://proxy:3128"
	got, err := m.UpdateConfig(UpdateConfigInput{ProxyAction: ProxySet, ProxyValue: set})
	if err != nil {
		t.Fatalf("set proxy: %v", err)
	}
	if got.Proxy == nil || *got.Proxy != set {
		t.Fatalf("Proxy = %v, want %q", got.Proxy, set)
	}

	// absent = no change
	got, err = m.UpdateConfig(UpdateConfigInput{})
	if err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	if got.Proxy == nil || *got.Proxy != set {
		t.Fatalf("Proxy changed on a no-op update: %v", got.Proxy)
	}

	// present-and-empty = clear
	got, err = m.UpdateConfig(UpdateConfigInput{ProxyAction: ProxyClear})
	if err != nil {
		t.Fatalf("clear proxy: %v", err)
	}
	if got.Proxy != nil {
		t.Fatalf("Proxy = %v, want nil after clear", got.Proxy)
	}
}

// S6: invalid bound surfaces as InvalidArgument.
func TestManagementUpdateConfigInvalidArgument(t *testing.T) {
	t.Parallel()
	m := newTestManagement(t)

	zero := uint(0)
	_, err := m.UpdateConfig(UpdateConfigInput{DownloadConcurrency: &zero})
	if err == nil {
		t.Fatal("expected error")
	}
	coreErr, ok := err.(*CoreError)
	if !ok {
		t.Fatalf("error is not *CoreError: %T", err)
	}
	if coreErr.Kind != KindInvalidArgument {
		t.Fatalf("Kind = %v, want InvalidArgument", coreErr.Kind)
	}
}

func TestManagementListFilesSkipsSidecarsAndSortsByName(t *testing.T) {
	t.Parallel()
	m := newTestManagement(t)

	storageDir := m.center.ConfigSnapshot().StorageDir
	mustWriteFile(t, filepath.Join(storageDir, "z.bin"), "zzz")
	mustWriteFile(t, filepath.Join(storageDir, "a.bin"), "aaa")
	if err := meta.Save(filepath.Join(storageDir, "a.bin.meta"), meta.FileMeta{}); err != nil {
		t.Fatalf("seed meta: %v", err)
	}

	files, err := m.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}

	var names []string
	for _, f := range files {
		names = append(names, f.Filename)
	}
	if len(names) != 2 || names[0] != "a.bin" || names[1] != "z.bin" {
		t.Fatalf("ListFiles names = %v, want [a.bin z.bin]", names)
	}
}

// P5: clean_unused_files removes exactly the stray entries and is idempotent.
func TestManagementCleanUnusedFiles(t *testing.T) {
	t.Parallel()
	m := newTestManagement(t)

	storageDir := m.center.ConfigSnapshot().StorageDir
	mustWriteFile(t, filepath.Join(storageDir, "a.bin"), "known") // in files.toml fixture
	if err := meta.Save(filepath.Join(storageDir, "a.bin.meta"), meta.FileMeta{}); err != nil {
		t.Fatalf("seed meta: %v", err)
	}
	mustWriteFile(t, filepath.Join(storageDir, "stray.bin"), "unused")

	removed, err := m.CleanUnusedFiles()
	if err != nil {
		t.Fatalf("CleanUnusedFiles: %v", err)
	}
	if len(removed) != 1 || removed[0] != "stray.bin" {
		t.Fatalf("removed = %v, want [stray.bin]", removed)
	}
	if _, err := os.Stat(filepath.Join(storageDir, "a.bin.meta")); err != nil {
		t.Fatalf("a.bin.meta should survive clean_unused_files: %v", err)
	}

	again, err := m.CleanUnusedFiles()
	if err != nil {
		t.Fatalf("second CleanUnusedFiles: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second pass removed = %v, want none (idempotent)", again)
	}
}

func TestManagementStatusStoredFilesHalving(t *testing.T) {
	t.Parallel()
	m := newTestManagement(t)

	storageDir := m.center.ConfigSnapshot().StorageDir
	mustWriteFile(t, filepath.Join(storageDir, "a.bin"), "data")
	if err := meta.Save(filepath.Join(storageDir, "a.bin.meta"), meta.FileMeta{}); err != nil {
		t.Fatalf("seed meta: %v", err)
	}

	status, err := m.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.StoredFiles != 1 {
		t.Fatalf("StoredFiles = %d, want 1 (2 regular files / 2)", status.StoredFiles)
	}
}

// S1/S5-adjacent: trigger_sync runs an actual pass end to end against a
// local server and the status reflects success.
func TestManagementTriggerSyncEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	m := newTestManagement(t)
	if _, err := m.UpdateFiles(UpdateFilesInput{
		ReplaceAll: true,
		NewFiles:   []FileItemInput{{Filename: "a.bin", URL: srv.URL}},
	}); err != nil {
		t.Fatalf("UpdateFiles: %v", err)
	}

	if err := m.TriggerSync(context.Background()); err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}

	status, err := m.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.LastResult != "success" {
		t.Fatalf("LastResult = %q, want success", status.LastResult)
	}

	storageDir := m.center.ConfigSnapshot().StorageDir
	body, err := os.ReadFile(filepath.Join(storageDir, "a.bin"))
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if string(body) != "payload" {
		t.Fatalf("payload = %q, want payload", body)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
