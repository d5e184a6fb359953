// Package tiles renders aggregation area geometries clipped to tile bounds
// as GeoJSON or Mapbox vector tiles.
package tiles

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/zonal-stats/internal/core/apperr"
	"github.com/mohammed-shakir/zonal-stats/internal/core/model"
	"github.com/mohammed-shakir/zonal-stats/internal/geostore"
	"github.com/mohammed-shakir/zonal-stats/internal/layergroup"
	"github.com/mohammed-shakir/zonal-stats/internal/mercator"
)

const (
	FormatJSON = "json"
	FormatPBF  = "pbf"

	// MVTLayerName is the single named layer carrying area features in
	// encoded vector tiles.
	MVTLayerName = "areas"
)

type Encoder struct {
	store    *geostore.Store
	resolver *layergroup.Resolver
	extent   int
}

func NewEncoder(store *geostore.Store, resolver *layergroup.Resolver, extent int) *Encoder {
	if extent <= 0 {
		extent = 4096
	}
	return &Encoder{store: store, resolver: resolver, extent: extent}
}

// Render resolves the active layer for the group at zoom z, intersects its
// areas with the tile bounding box, and encodes the result. Returns the
// tile bytes and a content type.
func (e *Encoder) Render(groupID string, z, x, y int, format string) ([]byte, string, error) {
	if format != FormatJSON && format != FormatPBF {
		return nil, "", apperr.New(apperr.NotFound, "unknown tile format %q", format)
	}
	if z < 0 || x < 0 || y < 0 || x >= 1<<uint(z) || y >= 1<<uint(z) {
		return nil, "", apperr.New(apperr.NotFound, "tile %d/%d/%d out of range", z, x, y)
	}

	layer, err := e.resolver.Resolve(groupID, z)
	if err != nil {
		return nil, "", err
	}

	bound := mercator.TileBound(z, x, y)
	features := e.clipAreas(layer.ID, bound)

	switch format {
	case FormatJSON:
		body, err := encodeGeoJSON(features)
		if err != nil {
			return nil, "", err
		}
		return body, "application/json", nil
	default:
		body, err := e.encodeMVT(features, z, x, y)
		if err != nil {
			return nil, "", err
		}
		return body, "application/octet-stream", nil
	}
}

type clippedArea struct {
	area model.AggregationArea
	geom orb.Geometry
}

// clipAreas intersects every overlapping area of the layer with the tile
// bound, dropping areas whose intersection is empty.
func (e *Encoder) clipAreas(layerID string, bound orb.Bound) []clippedArea {
	var out []clippedArea
	for _, a := range e.store.AreasIntersecting(layerID, bound) {
		g := clip.Geometry(bound, a.Geom)
		if g == nil {
			continue
		}
		out = append(out, clippedArea{area: a, geom: g})
	}
	return out
}

// encodeGeoJSON keeps the working projection: consumers of the json format
// expect planar coordinates matching the statistics geometries.
func encodeGeoJSON(features []clippedArea) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		feat := geojson.NewFeature(f.geom)
		feat.Properties = geojson.Properties{
			"id":   f.area.ID,
			"name": f.area.Name,
		}
		fc.Append(feat)
	}
	body, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("marshal feature collection: %w", err)
	}
	return body, nil
}

func (e *Encoder) encodeMVT(features []clippedArea, z, x, y int) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		feat := geojson.NewFeature(mercator.GeometryToWGS84(f.geom))
		feat.Properties = geojson.Properties{
			"id":   f.area.ID,
			"name": f.area.Name,
		}
		fc.Append(feat)
	}

	layers := mvt.NewLayers(map[string]*geojson.FeatureCollection{MVTLayerName: fc})
	for _, l := range layers {
		l.Extent = uint32(e.extent)
	}
	layers.ProjectToTile(maptile.New(uint32(x), uint32(y), maptile.Zoom(z)))

	body, err := mvt.Marshal(layers)
	if err != nil {
		return nil, fmt.Errorf("marshal vector tile: %w", err)
	}
	return body, nil
}
