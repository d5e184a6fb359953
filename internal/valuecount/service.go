// Package valuecount ties the aggregator, the geometry store, and the
// result cache into the statistics read path and the layer-wide precompute
// task.
package valuecount

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/zonal-stats/internal/aggregator"
	"github.com/mohammed-shakir/zonal-stats/internal/cache"
	"github.com/mohammed-shakir/zonal-stats/internal/cache/keys"
	"github.com/mohammed-shakir/zonal-stats/internal/core/apperr"
	"github.com/mohammed-shakir/zonal-stats/internal/core/model"
	"github.com/mohammed-shakir/zonal-stats/internal/geostore"
)

type Service struct {
	store *geostore.Store
	agg   *aggregator.Aggregator
	cache *cache.ResultCache
	log   zerolog.Logger
}

func NewService(store *geostore.Store, agg *aggregator.Aggregator, rc *cache.ResultCache, log zerolog.Logger) *Service {
	return &Service{store: store, agg: agg, cache: rc, log: log}
}

// ForArea returns the value counts for one aggregation area, served from
// the cache when the fingerprint matches a previous computation.
func (s *Service) ForArea(ctx context.Context, areaID string, q model.StatsQuery) (model.ValueCounts, error) {
	area, ok := s.store.Area(areaID)
	if !ok {
		return nil, apperr.New(apperr.NotFound, "unknown aggregation area %q", areaID)
	}

	fp := keys.Fingerprint{
		AreaID:   areaID,
		Layers:   q.Layers,
		Formula:  q.Formula,
		Zoom:     q.Zoom,
		Units:    q.Units,
		Grouping: q.Grouping,
	}
	v, _, err := s.cache.GetOrCompute(ctx, fp, func(ctx context.Context) (model.ValueCounts, error) {
		return s.agg.Compute(ctx, area.Geom, q)
	})
	return v, err
}

// AreaResult pairs an area id with its value counts.
type AreaResult struct {
	AreaID string            `json:"id"`
	Value  model.ValueCounts `json:"value"`
}

// ForAreas computes value counts for a list of areas. The first failing
// area aborts the whole list; partial results are never returned.
func (s *Service) ForAreas(ctx context.Context, areaIDs []string, q model.StatsQuery) ([]AreaResult, error) {
	out := make([]AreaResult, 0, len(areaIDs))
	for _, id := range areaIDs {
		v, err := s.ForArea(ctx, id, q)
		if err != nil {
			return nil, err
		}
		out = append(out, AreaResult{AreaID: id, Value: v})
	}
	return out, nil
}

// PrecomputeLayer computes value counts for every area of an aggregation
// layer against one raster layer, asynchronously. Progress lands in the
// layer's parse log; the returned run id identifies the log entries.
func (s *Service) PrecomputeLayer(layerID, rasterLayerID string, zoom int, acres bool) (string, error) {
	layer, ok := s.store.Layer(layerID)
	if !ok {
		return "", apperr.New(apperr.NotFound, "unknown aggregation layer %q", layerID)
	}

	runID := uuid.NewString()
	q := model.StatsQuery{
		Layers:   map[string]string{"a": rasterLayerID},
		Formula:  "a",
		Zoom:     zoom,
		Grouping: "auto",
	}
	if acres {
		q.Units = "acres"
	}

	go s.precompute(layer, runID, rasterLayerID, q)
	return runID, nil
}

func (s *Service) precompute(layer model.AggregationLayer, runID, rasterLayerID string, q model.StatsQuery) {
	ctx := context.Background()
	log := s.log.With().Str("run_id", runID).Str("layer", layer.ID).Logger()

	entries := []model.LogEntry{{
		At:  time.Now(),
		Msg: fmt.Sprintf("[%s] Started value count against raster layer %s", runID, rasterLayerID),
	}}

	failed := 0
	areas := s.store.Areas(nil, layer.ID)
	for _, area := range areas {
		if _, err := s.ForArea(ctx, area.ID, q); err != nil {
			failed++
			entries = append(entries, model.LogEntry{
				At:  time.Now(),
				Msg: fmt.Sprintf("[%s] Warning: value count failed for area %q: %v", runID, area.Name, err),
			})
		}
	}

	entries = append(entries, model.LogEntry{
		At:  time.Now(),
		Msg: fmt.Sprintf("[%s] Finished value count: %d areas, %d failed", runID, len(areas), failed),
	})
	if err := s.store.AppendLog(layer.ID, entries); err != nil {
		log.Error().Err(err).Msg("flush precompute log failed")
	}
	log.Info().Int("areas", len(areas)).Int("failed", failed).Msg("layer value count finished")
}
