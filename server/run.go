package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Run serves the WebSocket endpoint, and QUIC when configured, until ctx ends
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.conf.Path, s)
	httpSrv := &http.Server{
		Addr:              s.conf.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("listen", s.conf.Listen).Str("path", s.conf.Path).Msg("websocket gate started")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("websocket listener: %w", err)
		}
		return nil
	})
	if s.conf.QUIC.Listen != "" {
		g.Go(func() error {
			return s.ListenAndServeQUIC(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown.
		s.Close()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.logger.Info().Msg("gate simulator stopped")
	return err
}
