// Package layergroup picks the aggregation layer that serves a tile request
// at a given zoom level.
package layergroup

import (
	"sort"

	"github.com/mohammed-shakir/zonal-stats/internal/core/apperr"
	"github.com/mohammed-shakir/zonal-stats/internal/core/model"
	"github.com/mohammed-shakir/zonal-stats/internal/geostore"
)

type Resolver struct {
	store *geostore.Store
}

func New(store *geostore.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the layer whose zoom range covers z within the group.
// Ranges may overlap; resolution is deterministic: lowest range start
// first, layer id as tie breaker.
func (r *Resolver) Resolve(groupID string, z int) (model.AggregationLayer, error) {
	g, ok := r.store.Group(groupID)
	if !ok {
		return model.AggregationLayer{}, apperr.New(apperr.NotFound, "unknown layer group %q", groupID)
	}

	ranges := append([]model.ZoomRange(nil), g.Ranges...)
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].MinZoom != ranges[j].MinZoom {
			return ranges[i].MinZoom < ranges[j].MinZoom
		}
		return ranges[i].LayerID < ranges[j].LayerID
	})

	for _, zr := range ranges {
		if !zr.Covers(z) {
			continue
		}
		l, ok := r.store.Layer(zr.LayerID)
		if !ok {
			continue
		}
		return l, nil
	}
	return model.AggregationLayer{}, apperr.New(apperr.NotFound, "no layer in group %q covers zoom %d", groupID, z)
}
