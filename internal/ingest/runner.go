// Package ingest replaces an aggregation layer's area set from a polygon
// source, recording per-feature warnings in the layer's parse log.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/zonal-stats/internal/cache"
	"github.com/mohammed-shakir/zonal-stats/internal/core/apperr"
	"github.com/mohammed-shakir/zonal-stats/internal/core/model"
	"github.com/mohammed-shakir/zonal-stats/internal/core/observability"
	"github.com/mohammed-shakir/zonal-stats/internal/geostore"
	"github.com/mohammed-shakir/zonal-stats/internal/logger"
)

// Feature is one pre-parsed polygon record: shapefile parsing, reprojection
// and attribute extraction happen upstream.
type Feature struct {
	Name     string
	Geometry orb.Geometry
}

// Source yields the features of one ingestion batch.
type Source interface {
	Features(ctx context.Context) ([]Feature, error)
}

type Runner struct {
	store *geostore.Store
	cache *cache.ResultCache
	log   zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRunner(store *geostore.Store, rc *cache.ResultCache, log zerolog.Logger) *Runner {
	return &Runner{
		store: store,
		cache: rc,
		log:   log,
		locks: map[string]*sync.Mutex{},
	}
}

// Start launches an ingestion run in the background and returns its run id
// immediately. Runs for the same layer are serialized; the replace step is
// destructive.
func (r *Runner) Start(layerID string, src Source) (string, error) {
	if _, ok := r.store.Layer(layerID); !ok {
		return "", apperr.New(apperr.NotFound, "unknown aggregation layer %q", layerID)
	}
	runID := uuid.NewString()
	go func() {
		ctx := logger.WithLayer(context.Background(), layerID)
		if err := r.Run(ctx, layerID, runID, src); err != nil {
			logger.FromContext(ctx, &r.log).Error().Err(err).Str("run_id", runID).Msg("ingestion run failed")
		}
	}()
	return runID, nil
}

// Run executes one ingestion synchronously. Per-feature problems are
// recorded as warnings and skipped; a source-level failure aborts the run
// and leaves the previous area set untouched. The buffered log flushes once
// at completion.
func (r *Runner) Run(ctx context.Context, layerID, runID string, src Source) error {
	lock := r.layerLock(layerID)
	lock.Lock()
	defer lock.Unlock()

	entries := []model.LogEntry{{
		At:  time.Now(),
		Msg: fmt.Sprintf("[%s] Started parsing aggregation layer %s", runID, layerID),
	}}
	flush := func() {
		if err := r.store.AppendLog(layerID, entries); err != nil {
			r.log.Error().Err(err).Str("layer", layerID).Msg("flush parse log failed")
		}
	}

	feats, err := src.Features(ctx)
	if err != nil {
		entries = append(entries, model.LogEntry{
			At:  time.Now(),
			Msg: fmt.Sprintf("[%s] Error: could not read polygon source, aborted parsing: %v", runID, err),
		})
		flush()
		return apperr.Wrap(apperr.SourceUnavailable, err, "polygon source for layer %q", layerID)
	}

	inputs := make([]geostore.AreaInput, 0, len(feats))
	for i, f := range feats {
		mp, err := toMultiPolygon(f.Geometry)
		if err != nil {
			observability.IncIngestFeature("skipped")
			entries = append(entries, model.LogEntry{
				At:  time.Now(),
				Msg: fmt.Sprintf("[%s] Warning: skipped feature %d (%q): %v", runID, i, f.Name, err),
			})
			continue
		}
		observability.IncIngestFeature("ok")
		inputs = append(inputs, geostore.AreaInput{Name: f.Name, Geom: mp})
	}

	removed, err := r.store.ReplaceAreas(layerID, inputs)
	if err != nil {
		entries = append(entries, model.LogEntry{
			At:  time.Now(),
			Msg: fmt.Sprintf("[%s] Error: replacing areas failed, aborted parsing: %v", runID, err),
		})
		flush()
		return err
	}

	// cached results for the replaced areas are stale now
	if len(removed) > 0 {
		if _, err := r.cache.OnAreasDeleted(ctx, removed); err != nil {
			r.log.Warn().Err(err).Str("layer", layerID).Msg("cascade cache invalidation failed")
		}
	}

	entries = append(entries, model.LogEntry{
		At:  time.Now(),
		Msg: fmt.Sprintf("[%s] Finished parsing aggregation layer %s: %d areas, %d skipped", runID, layerID, len(inputs), len(feats)-len(inputs)),
	})
	flush()
	return nil
}

func (r *Runner) layerLock(layerID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[layerID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[layerID] = l
	}
	return l
}

// toMultiPolygon validates and normalizes an ingested geometry. Single
// polygons become multi-polygons; anything else is an invalid-geometry
// warning.
func toMultiPolygon(g orb.Geometry) (orb.MultiPolygon, error) {
	var mp orb.MultiPolygon
	switch t := g.(type) {
	case orb.Polygon:
		mp = orb.MultiPolygon{t}
	case orb.MultiPolygon:
		mp = t
	case nil:
		return nil, apperr.New(apperr.InvalidGeometry, "empty geometry")
	default:
		return nil, apperr.New(apperr.InvalidGeometry, "unsupported geometry type %s", g.GeoJSONType())
	}

	if len(mp) == 0 {
		return nil, apperr.New(apperr.InvalidGeometry, "empty multi-polygon")
	}
	for _, poly := range mp {
		if len(poly) == 0 || len(poly[0]) < 4 {
			return nil, apperr.New(apperr.InvalidGeometry, "degenerate ring")
		}
	}
	if planar.Area(mp) == 0 {
		return nil, apperr.New(apperr.InvalidGeometry, "zero-area geometry")
	}
	return mp, nil
}
