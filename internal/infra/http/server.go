package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"media-gen-orchestrator/internal/config"
)

type Server struct {
	cfg    config.HTTPConfig
	server *http.Server
	log    *zerolog.Logger
}

func NewServer(cfg config.HTTPConfig, handler http.Handler, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "HTTPServer").Logger()
	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: &l,
	}
}

// Run serves until ctx is canceled, then drains in-flight requests for at
// most the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(sctx)
}
