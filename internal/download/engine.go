// Package download implements the per-file transfer state machine: a
// conditional freshness probe followed by a retrying, resumable body
// transfer, writing through a temp file and an atomic rename so the
// payload is never observed half-written.
package download

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/relayfetch/relayfetch/internal/meta"
)

// Event is one lifecycle notification emitted synchronously from the
// transfer goroutine. Exactly one of the Finished or Error terminal
// variants fires per call to Download; Started precedes any Progress, and
// Progress precedes the terminal event.
type Event struct {
	Filename string
	// Total is the expected final size, when known. Present on Started.
	Total *uint64
	// Downloaded is the cumulative byte count so far on Progress, and the
	// final byte count of the payload on Finished.
	Downloaded uint64
	// Err is set on the terminal error event.
	Err error
}

// ProgressSink receives lifecycle events for one file. Implementations
// must not block: the transfer goroutine calls these inline between
// network reads.
type ProgressSink struct {
	Started  func(Event)
	Progress func(Event)
	Finished func(Event)
	Error    func(Event)
	// Retrying fires before each attempt after the first, once the
	// backoff delay has elapsed.
	Retrying func(Event)
}

func (s ProgressSink) started(filename string, total *uint64) {
	if s.Started != nil {
		s.Started(Event{Filename: filename, Total: total})
	}
}

func (s ProgressSink) progress(filename string, downloaded uint64) {
	if s.Progress != nil {
		s.Progress(Event{Filename: filename, Downloaded: downloaded})
	}
}

func (s ProgressSink) finished(filename string, downloaded uint64) {
	if s.Finished != nil {
		s.Finished(Event{Filename: filename, Downloaded: downloaded})
	}
}

func (s ProgressSink) errored(filename string, err error) {
	if s.Error != nil {
		s.Error(Event{Filename: filename, Err: err})
	}
}

func (s ProgressSink) retrying(filename string) {
	if s.Retrying != nil {
		s.Retrying(Event{Filename: filename})
	}
}

// attemptError distinguishes an error that should be retried (per the
// caller's backoff loop) from one that should not; every error returned
// from an attempt is retried by the caller except when retries are
// exhausted, so the distinction here is purely diagnostic today.
type attemptError struct {
	err error
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

// Download runs the complete per-file state machine for one mirrored
// entry: optional freshness probe, then a retrying body transfer, writing
// dir/filename via dir/filename+".tmp" and dir/filename+".meta".
func Download(ctx context.Context, client *http.Client, dir, filename, url string,
	maxRetry int, baseDelay time.Duration, sink ProgressSink) error {

	paths := newPaths(dir, filename)
	if err := meta.EnsureParentDir(paths.payload); err != nil {
		sink.errored(filename, err)
		return err
	}

	m, err := meta.Load(paths.sidecar)
	if err != nil {
		// A malformed sidecar forces a cold fetch rather than aborting the
		// whole pass: runtime parse errors are not fatal (fatal only applies
		// at daemon startup, which this engine does not perform).
		m = meta.FileMeta{}
	}

	complete, err := paths.payloadMatchesSize(m)
	needsProbe := err == nil && complete

	// Probe and transfer attempts share one retry budget: a failed
	// freshness probe (network error, broken response) is retried exactly
	// like a failed transfer, and either way exhausting maxRetry fires
	// sink.errored so callers always see a terminal event (§4.4).
	var lastErr error
	for attempt := 0; attempt < maxRetry; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				sink.errored(filename, ctx.Err())
				return ctx.Err()
			case <-time.After(baseDelay * time.Duration(1<<uint(attempt-1))):
			}
			sink.retrying(filename)
		}

		if needsProbe {
			done, err := probeFreshness(ctx, client, paths, url, m)
			if err != nil {
				lastErr = err
				if reloaded, rerr := meta.Load(paths.sidecar); rerr == nil {
					m = reloaded
				}
				continue
			}
			if done {
				total := uint64(0)
				if m.TotalSize != nil {
					total = *m.TotalSize
				}
				sink.finished(filename, total)
				return nil
			}
			// The remote differs; fall through to a full transfer attempt
			// in this same iteration, and skip the probe on any retry.
			needsProbe = false
		}

		err := transferOnce(ctx, client, paths, filename, url, m, sink)
		if err == nil {
			return nil
		}
		lastErr = err

		// Reload meta since a failed attempt may have deleted or left the
		// sidecar untouched; the next attempt must see the current state.
		if reloaded, rerr := meta.Load(paths.sidecar); rerr == nil {
			m = reloaded
		}
	}

	if lastErr == nil {
		lastErr = errors.New("download: no attempt made, max retry is not positive")
	}
	sink.errored(filename, lastErr)
	return lastErr
}

// probeFreshness issues a conditional GET against an already-complete
// local file. It returns done=true when the server confirms no change
// (304) and stamps fetched_at; done=false means the caller must continue
// to the body-transfer phase because the remote differs.
func probeFreshness(ctx context.Context, client *http.Client, paths paths, url string, m meta.FileMeta) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, errors.Wrap(err, "download: build probe request")
	}
	setValidatorHeaders(req, m)

	resp, err := client.Do(req)
	if err != nil {
		return false, &attemptError{errors.Wrap(err, "download: probe request")}
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotModified:
		m.FetchedAt = strPtr(meta.Now())
		if err := meta.Save(paths.sidecar, m); err != nil {
			return false, err
		}
		return true, nil
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		return false, nil
	default:
		return false, &attemptError{errors.Newf("download: probe status %d", resp.StatusCode)}
	}
}

// transferOnce performs one attempt of the Phase B body transfer.
func transferOnce(ctx context.Context, client *http.Client, paths paths, filename, url string,
	m meta.FileMeta, sink ProgressSink) error {

	downloaded := paths.tmpSize()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "download: build request")
	}
	setValidatorHeaders(req, m)

	resumable := downloaded > 0 && (m.TotalSize == nil || downloaded < *m.TotalSize)
	if resumable {
		req.Header.Set("Range", "bytes="+strconv.FormatUint(downloaded, 10)+"-")
	}

	resp, err := client.Do(req)
	if err != nil {
		return &attemptError{errors.Wrap(err, "download: request")}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		paths.removeTmp()
		meta.Remove(paths.sidecar)
		return &attemptError{errors.New("download: range not satisfiable, reset")}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return &attemptError{errors.Newf("download: status %d", resp.StatusCode)}
	}

	newETag := headerOrNil(resp.Header, "ETag")
	if resp.StatusCode == http.StatusPartialContent && m.ETag != nil && newETag != nil && *m.ETag != *newETag {
		paths.removeTmp()
		return &attemptError{errors.New("download: etag mismatch on resume")}
	}

	contentLength := parseContentLength(resp.Header.Get("Content-Length"))
	var total *uint64
	if resp.StatusCode == http.StatusPartialContent {
		if contentLength != nil {
			t := *contentLength + downloaded
			total = &t
		}
	} else {
		total = contentLength
	}
	sink.started(filename, total)

	flags := os.O_CREATE | os.O_WRONLY
	prior := uint64(0)
	if resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
		prior = downloaded
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(paths.tmp, flags, 0o644) // #nosec G304 -- path is derived from the caller's storage_dir
	if err != nil {
		return &attemptError{errors.Wrap(err, "download: open tmp")}
	}

	written, werr := streamWithProgress(f, resp.Body, prior, filename, sink)
	syncErr := f.Sync()
	closeErr := f.Close()
	if werr != nil {
		return &attemptError{errors.Wrap(werr, "download: write body")}
	}
	if syncErr != nil {
		return &attemptError{errors.Wrap(syncErr, "download: sync tmp")}
	}
	if closeErr != nil {
		return &attemptError{errors.Wrap(closeErr, "download: close tmp")}
	}

	if err := os.Rename(paths.tmp, paths.payload); err != nil {
		return &attemptError{errors.Wrap(err, "download: rename")}
	}
	if err := meta.DirSync(paths.dir); err != nil {
		return err
	}

	finalTotal := written
	newMeta := meta.FileMeta{
		ETag:         newETag,
		LastModified: headerOrNil(resp.Header, "Last-Modified"),
		FetchedAt:    strPtr(meta.Now()),
		TotalSize:    &finalTotal,
	}
	if err := meta.Save(paths.sidecar, newMeta); err != nil {
		return err
	}

	sink.finished(filename, finalTotal)
	return nil
}

// streamWithProgress copies src into dst, emitting a Progress event after
// every chunk, and returns the cumulative byte count written to dst
// (which already held priorWritten bytes before this call, in the resume
// case).
func streamWithProgress(dst *os.File, src io.Reader, priorWritten uint64, filename string, sink ProgressSink) (uint64, error) {
	buf := make([]byte, 64*1024)
	total := priorWritten
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += uint64(n)
			sink.progress(filename, total)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

func setValidatorHeaders(req *http.Request, m meta.FileMeta) {
	if m.ETag != nil {
		req.Header.Set("If-None-Match", *m.ETag)
	}
	if m.LastModified != nil {
		req.Header.Set("If-Modified-Since", *m.LastModified)
	}
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 512))
	body.Close()
}

func headerOrNil(h http.Header, key string) *string {
	v := h.Get(key)
	if v == "" {
		return nil
	}
	return &v
}

func parseContentLength(v string) *uint64 {
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func strPtr(s string) *string { return &s }
