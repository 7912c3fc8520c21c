// Package fileserver is the thin static file transport that publishes
// storage_dir over plain HTTP, the out-of-scope collaborator spec.md §1
// names but does not itself specify.
package fileserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
)

// Serve binds addr and serves dir over HTTP until ctx is cancelled or the
// listener fails.
func Serve(ctx context.Context, addr, dir string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("file server listening", "addr", addr, "dir", dir)

	srv := &http.Server{Handler: http.FileServer(http.Dir(dir))}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
