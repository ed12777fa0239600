package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// HTTPServer describes a server that listens on a TCP address and serves HTTP requests.
type HTTPServer struct {
	addr string
	opts HTTPServerOpts
}

// HTTPServerOpts formalizes HTTP server configuration options.
type HTTPServerOpts struct {
	// ReadTimeout is the maximum amount of time the server will wait to read a full request
	// from a client, after which the server will consider the read to have failed.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum amount of time the server is allowed to take to write a
	// response to a client.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum amount of time in-flight requests are given to complete
	// once the server is asked to stop.
	ShutdownTimeout time.Duration
	// ErrorCallback, if set, is invoked when the server fails outside of a graceful shutdown.
	ErrorCallback func(err error)
}

// NewHTTPServer creates an HTTP server listening on the specified address.
func NewHTTPServer(addr string, opts HTTPServerOpts) *HTTPServer {
	// Sane option defaults
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}

	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}

	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	return &HTTPServer{addr, opts}
}

// ListenAndServe binds the configured address and serves handler until ctx is cancelled, at which
// point the server is gracefully shut down. It returns an error if it fails to bind or if serving
// fails for any reason other than the shutdown.
func (s *HTTPServer) ListenAndServe(ctx context.Context, handler http.Handler) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: failed to listen on TCP socket: addr=%s err=%v", s.addr, err)
	}

	return s.Serve(ctx, ln, handler)
}

// Serve is ListenAndServe on an existing listener.
func (s *HTTPServer) Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Serve(ln)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		err = fmt.Errorf("server: error serving HTTP: err=%v", err)
		if s.opts.ErrorCallback != nil {
			s.opts.ErrorCallback(err)
		}

		return err

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: error shutting down: err=%v", err)
		}

		return nil
	}
}
