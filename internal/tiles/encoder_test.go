package tiles

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/zonal-stats/internal/core/apperr"
	"github.com/mohammed-shakir/zonal-stats/internal/core/model"
	"github.com/mohammed-shakir/zonal-stats/internal/geostore"
	"github.com/mohammed-shakir/zonal-stats/internal/layergroup"
	"github.com/mohammed-shakir/zonal-stats/internal/mercator"
)

func square(x, y, size float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}}
}

// one layer group with a single layer active for z0-14, holding one square
// in the northeast quadrant and one far away in the southwest.
func setup(t *testing.T) (*geostore.Store, *Encoder) {
	t.Helper()
	s := geostore.New()
	l := s.UpsertLayer(model.AggregationLayer{Name: "counties"})
	if _, err := s.ReplaceAreas(l.ID, []geostore.AreaInput{
		{Name: "northeast", Geom: square(1000, 1000, 100000)},
		{Name: "southwest", Geom: square(-2e7, -2e7, 1000)},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	s.UpsertGroup(model.AggregationLayerGroup{
		ID:     "admin",
		Name:   "admin",
		Ranges: []model.ZoomRange{{LayerID: l.ID, MinZoom: 0, MaxZoom: 14}},
	})
	return s, NewEncoder(s, layergroup.New(s), 4096)
}

func TestRender_GeoJSONClipsToTile(t *testing.T) {
	_, e := setup(t)

	// tile (1, 0) at z1 covers the northeast quadrant only
	body, contentType, err := e.Render("admin", 1, 1, 0, FormatJSON)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("content type = %q", contentType)
	}

	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("got %d features, want 1", len(fc.Features))
	}
	f := fc.Features[0]
	if f.Properties["name"] != "northeast" {
		t.Fatalf("feature name = %v", f.Properties["name"])
	}
	if f.Properties["id"] == nil || f.Properties["id"] == "" {
		t.Fatalf("feature id missing")
	}

	tile := mercator.TileBound(1, 1, 0)
	fb := f.Geometry.Bound()
	if fb.Min[0] < tile.Min[0] || fb.Max[0] > tile.Max[0] || fb.Min[1] < tile.Min[1] || fb.Max[1] > tile.Max[1] {
		t.Fatalf("feature not clipped to tile: %v vs %v", fb, tile)
	}
}

func TestRender_EmptyTile(t *testing.T) {
	_, e := setup(t)

	// a mid-ocean tile touching neither square
	body, _, err := e.Render("admin", 5, 20, 20, FormatJSON)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fc.Features) != 0 {
		t.Fatalf("got %d features, want 0", len(fc.Features))
	}
}

func TestRender_MVTRoundTrip(t *testing.T) {
	_, e := setup(t)

	body, contentType, err := e.Render("admin", 1, 1, 0, FormatPBF)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if contentType != "application/octet-stream" {
		t.Fatalf("content type = %q", contentType)
	}

	layers, err := mvt.Unmarshal(body)
	if err != nil {
		t.Fatalf("decode tile: %v", err)
	}
	if len(layers) != 1 || layers[0].Name != MVTLayerName {
		t.Fatalf("layers = %v", layers)
	}
	if len(layers[0].Features) != 1 {
		t.Fatalf("got %d features, want 1", len(layers[0].Features))
	}
	if layers[0].Features[0].Properties["name"] != "northeast" {
		t.Fatalf("feature name = %v", layers[0].Features[0].Properties["name"])
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	_, e := setup(t)
	_, _, err := e.Render("admin", 1, 1, 0, "png")
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestRender_ZoomOutsideGroupRanges(t *testing.T) {
	_, e := setup(t)
	_, _, err := e.Render("admin", 15, 0, 0, FormatJSON)
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestRender_TileCoordinatesOutOfRange(t *testing.T) {
	_, e := setup(t)
	cases := [][3]int{{1, 2, 0}, {1, 0, 2}, {1, -1, 0}, {-1, 0, 0}}
	for _, c := range cases {
		if _, _, err := e.Render("admin", c[0], c[1], c[2], FormatJSON); apperr.KindOf(err) != apperr.NotFound {
			t.Fatalf("tile %v: err = %v, want not found", c, err)
		}
	}
}

func TestRender_UnknownGroup(t *testing.T) {
	_, e := setup(t)
	_, _, err := e.Render("nope", 1, 0, 0, FormatJSON)
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("err = %v, want not found", err)
	}
}
