/*
Package relayfetch is a daemon that mirrors a configured set of remote
files into a local directory on a schedule, and serves them back over
plain HTTP.

relayfetch provides:
  - Conditional, resumable downloads (ETag/Last-Modified/Range)
  - A single-writer configuration center with atomic TOML persistence
  - Bounded-concurrency sync passes supervised by an errgroup
  - An admin HTTP transport for on-demand control and Prometheus metrics

The main packages are:

	github.com/relayfetch/relayfetch/internal/meta       - sidecar metadata codec
	github.com/relayfetch/relayfetch/internal/download   - per-file transfer engine
	github.com/relayfetch/relayfetch/internal/relay      - configuration, sync, scheduling, management
	github.com/relayfetch/relayfetch/internal/adminhttp  - admin HTTP transport
	github.com/relayfetch/relayfetch/internal/fileserver - static file transport
	github.com/relayfetch/relayfetch/internal/metrics    - Prometheus counters
	github.com/relayfetch/relayfetch/cmd/relayfetchd     - daemon entrypoint
	github.com/relayfetch/relayfetch/cmd/relayfetchctl   - admin CLI client
*/
package relayfetch
