package relay

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/relayfetch/relayfetch/internal/download"
	"github.com/relayfetch/relayfetch/internal/metrics"
)

// SyncOnce runs one complete sync pass: snapshot the file map, dispatch a
// bounded-concurrency download per entry, and aggregate outcomes into the
// live SyncStatus. It never returns an error for a single file's
// failure; a download failure is recorded against that file and the pass
// continues, per §7 ("no download error aborts the enclosing sync pass").
func (c *Center) SyncOnce(ctx context.Context) error {
	cfg := c.ConfigSnapshot()
	files := c.FilesSnapshot()

	client, err := newHTTPClient(cfg)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	metrics.SyncInflight.Set(1)
	c.WithStatus(func(s *SyncStatus) { s.syncStarted(len(names)) })

	sem := semaphore.NewWeighted(int64(cfg.DownloadConcurrency))
	group, gctx := errgroup.WithContext(ctx)

	for _, name := range names {
		name, source := name, files[name]

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		group.Go(func() error {
			defer sem.Release(1)
			c.downloadOne(gctx, client, cfg, name, source)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		metrics.SyncInflight.Set(0)
		return err
	}

	c.WithStatus(func(s *SyncStatus) { s.syncFinished() })
	metrics.SyncInflight.Set(0)

	result := c.StatusSnapshot().LastResult
	metrics.SyncPassesTotal.WithLabelValues(result.String()).Inc()
	return nil
}

// downloadOne runs the Download Engine for one entry, translating engine
// events into SyncStatus mutations and Prometheus counters. storage_dir
// and the retry knobs come from the cfg snapshot taken once at the start
// of this pass, so a mid-pass update_config only ever affects the next
// pass, consistent with §4.5.
func (c *Center) downloadOne(ctx context.Context, client *http.Client, cfg *RuntimeConfig, filename, sourceURL string) {
	sink := download.ProgressSink{
		Started: func(e download.Event) {
			c.WithStatus(func(s *SyncStatus) { s.fileStarted(filename, e.Total) })
		},
		Progress: func(e download.Event) {
			c.WithStatus(func(s *SyncStatus) { s.fileProgress(filename, e.Downloaded) })
		},
		Finished: func(e download.Event) {
			c.WithStatus(func(s *SyncStatus) { s.fileFinished(filename) })
			metrics.DownloadsTotal.WithLabelValues("finished").Inc()
			metrics.BytesTotal.Add(float64(e.Downloaded))
		},
		Error: func(e download.Event) {
			c.WithStatus(func(s *SyncStatus) { s.fileError(filename, e.Err.Error()) })
			metrics.DownloadsTotal.WithLabelValues("error").Inc()
		},
		Retrying: func(e download.Event) {
			metrics.RetriesTotal.Inc()
		},
	}

	baseDelay := time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
	download.Download(ctx, client, cfg.StorageDir, filename, sourceURL, int(cfg.DownloadRetry), baseDelay, sink)
}

// newHTTPClient builds the client used for one sync pass: a 30-second
// overall per-request timeout (§5) and, when configured, a proxy parsed
// from cfg.Proxy.
func newHTTPClient(cfg *RuntimeConfig) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 10
	tr.IdleConnTimeout = 90 * time.Second

	if cfg.Proxy != nil {
		proxyURL, err := url.Parse(*cfg.Proxy)
		if err != nil {
			return nil, errors.Wrap(err, "relay: invalid proxy URL")
		}
		if proxyURL.Scheme == "socks5" {
			dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
			if err != nil {
				return nil, errors.Wrap(err, "relay: invalid socks5 proxy")
			}
			tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		} else {
			tr.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &http.Client{
		Transport: tr,
		Timeout:   30 * time.Second,
	}, nil
}
