// Package cache stores computed value-count results keyed by request
// fingerprints and deletes them when upstream rasters or legends change.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/zonal-stats/internal/cache/keys"
	"github.com/mohammed-shakir/zonal-stats/internal/core/model"
	"github.com/mohammed-shakir/zonal-stats/internal/core/observability"
)

// Store is the backend subset the cache needs. *redisstore.Client satisfies
// it; tests may substitute their own.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Del(ctx context.Context, keys ...string) (int, error)
}

const (
	depRasterPrefix   = "dep:raster:"
	depGroupingPrefix = "dep:grouping:"
	depAreaPrefix     = "dep:area:"
)

type ResultCache struct {
	store     Store
	opTimeout time.Duration
	sf        singleflight.Group
	log       zerolog.Logger
}

func New(store Store, opTimeout time.Duration, log zerolog.Logger) *ResultCache {
	return &ResultCache{store: store, opTimeout: opTimeout, log: log}
}

// ComputeFunc produces the result on a cache miss.
type ComputeFunc func(ctx context.Context) (model.ValueCounts, error)

// GetOrCompute returns the cached result for fp, computing and storing it
// on a miss. Concurrent callers with the same fingerprint collapse into a
// single computation; late arrivals receive the in-flight result. The
// second return value reports whether the result was served from the cache
// or a shared in-flight computation rather than computed fresh.
func (c *ResultCache) GetOrCompute(ctx context.Context, fp keys.Fingerprint, compute ComputeFunc) (model.ValueCounts, bool, error) {
	key := fp.Key()

	if v, ok, err := c.lookup(ctx, key); err != nil {
		return nil, false, err
	} else if ok {
		observability.IncCacheHit()
		return v, true, nil
	}
	observability.IncCacheMiss()

	res, err, shared := c.sf.Do(key, func() (any, error) {
		// another flight may have stored the value between our lookup and
		// this one
		if v, ok, err := c.lookup(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}

		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.put(ctx, fp, key, v); err != nil {
			// a failed write must not fail the request
			c.log.Warn().Err(err).Str("key", key).Msg("result cache write failed")
		}
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.(model.ValueCounts), shared, nil
}

func (c *ResultCache) lookup(ctx context.Context, key string) (model.ValueCounts, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var v model.ValueCounts
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, fmt.Errorf("cache entry %q corrupt: %w", key, err)
	}
	return v, true, nil
}

// put stores the result and records its dependencies: the raster layers of
// the alias mapping, the grouping legend if any, and the area itself for
// cascade deletes.
func (c *ResultCache) put(ctx context.Context, fp keys.Fingerprint, key string, v model.ValueCounts) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := c.store.Set(ctx, key, body); err != nil {
		return err
	}
	for _, layerID := range fp.RasterLayers() {
		if err := c.store.SAdd(ctx, depRasterPrefix+layerID, key); err != nil {
			return err
		}
	}
	if legend := fp.GroupingLegend(); legend != "" {
		if err := c.store.SAdd(ctx, depGroupingPrefix+legend, key); err != nil {
			return err
		}
	}
	return c.store.SAdd(ctx, depAreaPrefix+fp.AreaID, key)
}

// OnRasterLayerChanged deletes every cached result depending on the raster
// layer. Called by the collaborator that owns raster lifecycle events.
func (c *ResultCache) OnRasterLayerChanged(ctx context.Context, rasterLayerID string) (int, error) {
	n, err := c.dropDependents(ctx, depRasterPrefix+rasterLayerID)
	observability.ObserveInvalidation("raster_layer", n)
	if err != nil {
		return n, err
	}
	c.log.Info().Str("raster_layer", rasterLayerID).Int("deleted", n).
		Msg("invalidated value counts after raster change")
	return n, nil
}

// OnGroupingChanged deletes every cached result grouped by the legend.
func (c *ResultCache) OnGroupingChanged(ctx context.Context, legendID string) (int, error) {
	n, err := c.dropDependents(ctx, depGroupingPrefix+legendID)
	observability.ObserveInvalidation("grouping", n)
	if err != nil {
		return n, err
	}
	c.log.Info().Str("legend", legendID).Int("deleted", n).
		Msg("invalidated value counts after legend change")
	return n, nil
}

// OnAreasDeleted cascades area deletion to cached results.
func (c *ResultCache) OnAreasDeleted(ctx context.Context, areaIDs []string) (int, error) {
	total := 0
	for _, id := range areaIDs {
		n, err := c.dropDependents(ctx, depAreaPrefix+id)
		total += n
		if err != nil {
			observability.ObserveInvalidation("area", total)
			return total, err
		}
	}
	observability.ObserveInvalidation("area", total)
	return total, nil
}

func (c *ResultCache) dropDependents(ctx context.Context, depKey string) (int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	members, err := c.store.SMembers(ctx, depKey)
	if err != nil {
		return 0, fmt.Errorf("cache invalidation: %w", err)
	}
	deleted := 0
	if len(members) > 0 {
		n, err := c.store.Del(ctx, members...)
		deleted = n
		if err != nil {
			return deleted, fmt.Errorf("cache invalidation: %w", err)
		}
	}
	if _, err := c.store.Del(ctx, depKey); err != nil {
		return deleted, fmt.Errorf("cache invalidation: %w", err)
	}
	return deleted, nil
}

func (c *ResultCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opTimeout)
}
