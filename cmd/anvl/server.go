package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

// serve runs srv until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, log zerolog.Logger) <-chan error {
	done := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("http server: %w", err)
			return
		}
		done <- nil
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http server shutdown")
		}
	}()
	return done
}

// watchServer cancels the process context as soon as the server fails, so
// the edge does not keep ticking without its health and metrics endpoints.
// The returned channel yields the server result once.
func watchServer(done <-chan error, cancel context.CancelFunc, log zerolog.Logger) <-chan error {
	out := make(chan error, 1)
	go func() {
		err := <-done
		if err != nil {
			log.Error().Err(err).Msg("http server failed, shutting down")
			cancel()
		}
		out <- err
	}()
	return out
}

func newServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
