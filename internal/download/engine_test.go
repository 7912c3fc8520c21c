package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relayfetch/relayfetch/internal/meta"
)

func collectingSink() (ProgressSink, *[]Event) {
	var events []Event
	sink := ProgressSink{
		Started:  func(e Event) { events = append(events, e) },
		Progress: func(e Event) { events = append(events, e) },
		Finished: func(e Event) { events = append(events, e) },
		Error:    func(e Event) { events = append(events, e) },
	}
	return sink, &events
}

// S1: fresh download, no validators.
func TestDownloadFreshNoValidators(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	sink, events := collectingSink()
	err := Download(context.Background(), srv.Client(), dir, "a.bin", srv.URL, 3, time.Millisecond, sink)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	body, err := os.ReadFile(filepath.Join(dir, "a.bin"))
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("payload = %q, want hello", body)
	}

	m, err := meta.Load(filepath.Join(dir, "a.bin.meta"))
	if err != nil {
		t.Fatalf("Load meta: %v", err)
	}
	if m.TotalSize == nil || *m.TotalSize != 5 {
		t.Fatalf("total_size = %v, want 5", m.TotalSize)
	}

	if (*events)[len(*events)-1].Err != nil {
		t.Fatalf("unexpected terminal error event: %+v", (*events)[len(*events)-1])
	}
}

// S2: not modified.
func TestDownloadNotModifiedSkipsBody(t *testing.T) {
	t.Parallel()

	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	sink, _ := collectingSink()

	if err := Download(context.Background(), srv.Client(), dir, "a.bin", srv.URL, 3, time.Millisecond, sink); err != nil {
		t.Fatalf("first Download: %v", err)
	}
	before, err := os.Stat(filepath.Join(dir, "a.bin"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	if err := Download(context.Background(), srv.Client(), dir, "a.bin", srv.URL, 3, time.Millisecond, sink); err != nil {
		t.Fatalf("second Download: %v", err)
	}
	after, err := os.Stat(filepath.Join(dir, "a.bin"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if before.ModTime() != after.ModTime() {
		t.Fatalf("payload was rewritten on a 304 response")
	}

	m, err := meta.Load(filepath.Join(dir, "a.bin.meta"))
	if err != nil {
		t.Fatalf("Load meta: %v", err)
	}
	if m.FetchedAt == nil {
		t.Fatal("expected fetched_at to be stamped after a 304")
	}
}

// S3: resume after partial.
func TestDownloadResumesFromPartial(t *testing.T) {
	t.Parallel()

	const full = "hello world this is the full payload!!!"
	const partial = 10

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		if rng == "" {
			w.Write([]byte(full))
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Range", "bytes "+strconv.Itoa(partial)+"-"+strconv.Itoa(len(full)-1)+"/"+strconv.Itoa(len(full)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(full[partial:]))
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.bin.tmp"), []byte(full[:partial]), 0o644); err != nil {
		t.Fatalf("seed tmp: %v", err)
	}
	total := uint64(len(full))
	etag := `"v1"`
	if err := meta.Save(filepath.Join(dir, "a.bin.meta"), metaFor(&etag, &total)); err != nil {
		t.Fatalf("seed meta: %v", err)
	}

	sink, _ := collectingSink()
	if err := Download(context.Background(), srv.Client(), dir, "a.bin", srv.URL, 3, time.Millisecond, sink); err != nil {
		t.Fatalf("Download: %v", err)
	}

	body, err := os.ReadFile(filepath.Join(dir, "a.bin"))
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if string(body) != full {
		t.Fatalf("payload = %q, want %q", body, full)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.bin.tmp")); !os.IsNotExist(err) {
		t.Fatal("expected tmp file to be gone after rename")
	}
}

// S4: ETag mismatch mid-resume forces a cold refetch on the next attempt.
func TestDownloadETagMismatchResetsThenRetries(t *testing.T) {
	t.Parallel()

	const full = "brand new content after the mismatch"
	var calls int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		if r.Header.Get("Range") != "" && n == 1 {
			w.Header().Set("ETag", `"v2"`)
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte("stale tail"))
			return
		}
		w.Header().Set("ETag", `"v2"`)
		w.Write([]byte(full))
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.bin.tmp"), []byte("prior bytes"), 0o644); err != nil {
		t.Fatalf("seed tmp: %v", err)
	}
	etag := `"v1"`
	total := uint64(len(full))
	if err := meta.Save(filepath.Join(dir, "a.bin.meta"), metaFor(&etag, &total)); err != nil {
		t.Fatalf("seed meta: %v", err)
	}

	sink, _ := collectingSink()
	if err := Download(context.Background(), srv.Client(), dir, "a.bin", srv.URL, 3, time.Millisecond, sink); err != nil {
		t.Fatalf("Download: %v", err)
	}

	body, err := os.ReadFile(filepath.Join(dir, "a.bin"))
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if string(body) != full {
		t.Fatalf("payload = %q, want %q", body, full)
	}
}

func TestDownloadExhaustsRetriesOnPersistentError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dir := t.TempDir()
	sink, events := collectingSink()
	err := Download(context.Background(), srv.Client(), dir, "a.bin", srv.URL, 2, time.Millisecond, sink)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	last := (*events)[len(*events)-1]
	if last.Err == nil {
		t.Fatal("expected terminal error event")
	}
}

// probeFreshness failing (a broken response on the conditional GET against
// an already-complete payload) must still retry with backoff and fire
// exactly one terminal event, never a Finished alongside it.
func TestDownloadProbeFailureRetriesThenErrors(t *testing.T) {
	t.Parallel()

	const full = "already complete payload"
	var calls int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.Error(w, "probe broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.bin"), []byte(full), 0o644); err != nil {
		t.Fatalf("seed payload: %v", err)
	}
	total := uint64(len(full))
	if err := meta.Save(filepath.Join(dir, "a.bin.meta"), metaFor(nil, &total)); err != nil {
		t.Fatalf("seed meta: %v", err)
	}

	sink, events := collectingSink()
	err := Download(context.Background(), srv.Client(), dir, "a.bin", srv.URL, 3, time.Millisecond, sink)
	if err == nil {
		t.Fatal("expected error when the freshness probe never succeeds")
	}
	if atomic.LoadInt64(&calls) != 3 {
		t.Fatalf("probe calls = %d, want 3 (one per retry attempt)", calls)
	}

	var finished, errored int
	for _, e := range *events {
		if e.Err == nil {
			finished++
		} else {
			errored++
		}
	}
	if finished != 0 {
		t.Fatalf("Finished fired %d times, want 0", finished)
	}
	if errored != 1 {
		t.Fatalf("Error fired %d times, want exactly 1", errored)
	}
}

func metaFor(etag *string, total *uint64) meta.FileMeta {
	return meta.FileMeta{ETag: etag, TotalSize: total}
}
