package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"media-gen-orchestrator/internal/domain/ports/usecase"
	"media-gen-orchestrator/internal/infra/api/apiv1"
)

// NewRouter assembles the public HTTP surface: the health probe, the
// Prometheus endpoint and the v1 generation API behind the middleware chain.
func NewRouter(uc usecase.GenerationUseCase, requestTimeout time.Duration, logger *zerolog.Logger) http.Handler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	httpLog := logger.With().Str("component", "HTTP").Logger()

	r := chi.NewRouter()
	r.Use(TraceID, RequestLog(&httpLog), Recover(&httpLog), Timeout(requestTimeout))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	apiv1.RegisterAPIV1(r, apiv1.NewServer(uc, logger))
	return r
}
