package meta

import (
	"os"
	"path/filepath"
	"testing"
)

func strptr(s string) *string { return &s }
func u64ptr(n uint64) *uint64 { return &n }

func TestLoadMissingReturnsZeroValue(t *testing.T) {
	t.Parallel()

	m, err := Load(filepath.Join(t.TempDir(), "absent.meta"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.ETag != nil || m.LastModified != nil || m.FetchedAt != nil || m.TotalSize != nil {
		t.Fatalf("expected zero-value FileMeta, got %+v", m)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		m    FileMeta
	}{
		{"empty", FileMeta{}},
		{"etag only", FileMeta{ETag: strptr(`"abc123"`)}},
		{"full", FileMeta{
			ETag:         strptr(`"v1"`),
			LastModified: strptr("Wed, 21 Oct 2015 07:28:00 GMT"),
			FetchedAt:    strptr(Now()),
			TotalSize:    u64ptr(5),
		}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "a.bin.meta")
			if err := Save(path, tc.m); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !metaEqual(got, tc.m) {
				t.Fatalf("round-trip mismatch: got %+v, want %+v", got, tc.m)
			}
		})
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.bin.meta")
	if err := Save(path, FileMeta{ETag: strptr("v1")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Save(path, FileMeta{ETag: strptr("v2")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ETag == nil || *got.ETag != "v2" {
		t.Fatalf("expected overwritten etag v2, got %+v", got)
	}
}

func TestLoadMalformedFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin.meta")
	if err := Save(path, FileMeta{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Corrupt the sidecar after the fact.
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error loading malformed sidecar")
	}
}

func TestEnsureParentDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "deeper", "a.bin.meta")
	if err := EnsureParentDir(path); err != nil {
		t.Fatalf("EnsureParentDir: %v", err)
	}
	if err := Save(path, FileMeta{}); err != nil {
		t.Fatalf("Save after EnsureParentDir: %v", err)
	}
}

func metaEqual(a, b FileMeta) bool {
	if strPtrEqual(a.ETag, b.ETag) && strPtrEqual(a.LastModified, b.LastModified) &&
		strPtrEqual(a.FetchedAt, b.FetchedAt) {
		if (a.TotalSize == nil) != (b.TotalSize == nil) {
			return false
		}
		if a.TotalSize != nil && *a.TotalSize != *b.TotalSize {
			return false
		}
		return true
	}
	return false
}

func strPtrEqual(a, b *string) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return *a == *b
}
