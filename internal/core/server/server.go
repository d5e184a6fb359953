// Package server wires the HTTP surface and runs it until the context is
// cancelled.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/zonal-stats/internal/core/config"
	"github.com/mohammed-shakir/zonal-stats/internal/core/health"
	"github.com/mohammed-shakir/zonal-stats/internal/core/middleware"
	"github.com/mohammed-shakir/zonal-stats/internal/core/router"
)

// Routes builds the chi router for the service.
func Routes(log *zerolog.Logger, h *router.Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(log))
	r.Use(middleware.Logging(log))
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())

	r.Get("/healthz", health.Liveness())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/aggregationareavalue", h.AreaValues)
		r.Get("/aggregationareavalue/{areaID}", h.AreaValue)

		r.Get("/aggregationlayer", h.Layers)
		r.Post("/aggregationlayer", h.UpsertLayer)
		r.Get("/aggregationlayer/{layerID}", h.Layer)
		r.Delete("/aggregationlayer/{layerID}", h.DeleteLayer)
		r.Post("/aggregationlayer/{layerID}/ingest", h.IngestAreas)
		r.Post("/aggregationlayer/{layerID}/valuecount", h.Precompute)

		r.Get("/aggregationarea", h.Areas)
		r.Get("/aggregationarea/{areaID}/geojson", h.AreaGeoJSON)

		r.Post("/layergroup", h.UpsertGroup)
		r.Get("/layergroup/{groupID}", h.Group)

		r.Post("/legend", h.UpsertLegend)
		r.Delete("/legend/{legendID}", h.DeleteLegend)

		r.Post("/rasterlayer/{rasterLayerID}/changed", h.RasterChanged)
		r.Post("/legend/{legendID}/changed", h.LegendChanged)
	})

	r.Get("/vtiles/{groupID}/{z}/{x}/{y}.{ext}", h.Tile)

	return r
}

// Run serves the router until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config, log *zerolog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("http listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
