package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/zonal-stats/internal/cache"
	"github.com/mohammed-shakir/zonal-stats/internal/cache/keys"
	"github.com/mohammed-shakir/zonal-stats/internal/cache/redisstore"
	"github.com/mohammed-shakir/zonal-stats/internal/core/apperr"
	"github.com/mohammed-shakir/zonal-stats/internal/core/model"
	"github.com/mohammed-shakir/zonal-stats/internal/geostore"
)

type stubSource struct {
	feats []Feature
	err   error
}

func (s stubSource) Features(context.Context) ([]Feature, error) {
	return s.feats, s.err
}

func polygon(x, y, size float64) orb.Polygon {
	return orb.Polygon{{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

func newTestRunner(t *testing.T) (*Runner, *geostore.Store, *cache.ResultCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	store := geostore.New()
	rc := cache.New(client, time.Second, zerolog.Nop())
	return NewRunner(store, rc, zerolog.Nop()), store, rc
}

func TestRun_IngestsValidFeaturesAndLogsSkips(t *testing.T) {
	r, store, _ := newTestRunner(t)
	l := store.UpsertLayer(model.AggregationLayer{Name: "counties"})

	src := stubSource{feats: []Feature{
		{Name: "good-polygon", Geometry: polygon(0, 0, 10)},
		{Name: "good-multi", Geometry: orb.MultiPolygon{polygon(20, 0, 10)}},
		{Name: "a-point", Geometry: orb.Point{1, 1}},
		{Name: "zero-area", Geometry: orb.Polygon{{{0, 0}, {0, 0}, {0, 0}, {0, 0}}}},
		{Name: "nil-geom", Geometry: nil},
	}}
	if err := r.Run(context.Background(), l.ID, "run-1", src); err != nil {
		t.Fatalf("run: %v", err)
	}

	areas := store.Areas(nil, l.ID)
	if len(areas) != 2 {
		t.Fatalf("got %d areas, want 2", len(areas))
	}

	layer, _ := store.Layer(l.ID)
	warnings := 0
	finished := false
	for _, e := range layer.ParseLog {
		if strings.Contains(e.Msg, "Warning") {
			warnings++
		}
		if strings.Contains(e.Msg, "Finished parsing") && strings.Contains(e.Msg, "2 areas, 3 skipped") {
			finished = true
		}
	}
	if warnings != 3 {
		t.Fatalf("got %d warnings, want 3:\n%v", warnings, layer.ParseLog)
	}
	if !finished {
		t.Fatalf("missing finished entry:\n%v", layer.ParseLog)
	}
}

func TestRun_SourceFailureKeepsPreviousAreas(t *testing.T) {
	r, store, _ := newTestRunner(t)
	l := store.UpsertLayer(model.AggregationLayer{Name: "counties"})

	ok := stubSource{feats: []Feature{{Name: "keep", Geometry: polygon(0, 0, 10)}}}
	if err := r.Run(context.Background(), l.ID, "run-1", ok); err != nil {
		t.Fatalf("first run: %v", err)
	}

	bad := stubSource{err: errors.New("shapefile endpoint down")}
	err := r.Run(context.Background(), l.ID, "run-2", bad)
	if apperr.KindOf(err) != apperr.SourceUnavailable {
		t.Fatalf("err = %v, want source unavailable", err)
	}

	areas := store.Areas(nil, l.ID)
	if len(areas) != 1 || areas[0].Name != "keep" {
		t.Fatalf("previous areas lost: %v", areas)
	}

	layer, _ := store.Layer(l.ID)
	aborted := false
	for _, e := range layer.ParseLog {
		if strings.Contains(e.Msg, "[run-2]") && strings.Contains(e.Msg, "aborted parsing") {
			aborted = true
		}
	}
	if !aborted {
		t.Fatalf("missing abort entry:\n%v", layer.ParseLog)
	}
}

func TestRun_ReplacementDropsCachedResults(t *testing.T) {
	r, store, rc := newTestRunner(t)
	l := store.UpsertLayer(model.AggregationLayer{Name: "counties"})

	if err := r.Run(context.Background(), l.ID, "run-1", stubSource{
		feats: []Feature{{Name: "old", Geometry: polygon(0, 0, 10)}},
	}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	areaID := store.Areas(nil, l.ID)[0].ID

	fp := keys.Fingerprint{
		AreaID:  areaID,
		Layers:  map[string]string{"a": "rl-1"},
		Formula: "a",
		Zoom:    11,
	}
	if _, _, err := rc.GetOrCompute(context.Background(), fp, func(context.Context) (model.ValueCounts, error) {
		return model.ValueCounts{"1": "1"}, nil
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	if err := r.Run(context.Background(), l.ID, "run-2", stubSource{
		feats: []Feature{{Name: "new", Geometry: polygon(50, 50, 10)}},
	}); err != nil {
		t.Fatalf("second run: %v", err)
	}

	_, cached, err := rc.GetOrCompute(context.Background(), fp, func(context.Context) (model.ValueCounts, error) {
		return model.ValueCounts{}, nil
	})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if cached {
		t.Fatalf("cached result for replaced area survived")
	}
}

func TestStart_UnknownLayer(t *testing.T) {
	r, _, _ := newTestRunner(t)
	_, err := r.Start("nope", stubSource{})
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestGeoJSONSource_NameColumn(t *testing.T) {
	body := strings.NewReader(`{
		"type": "FeatureCollection",
		"features": [
			{"type":"Feature","properties":{"NAME":"Travis"},"geometry":
				{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,10],[0,10],[0,0]]]}},
			{"type":"Feature","properties":{},"geometry":
				{"type":"Polygon","coordinates":[[[20,0],[30,0],[30,10],[20,10],[20,0]]]}}
		]
	}`)

	feats, err := NewGeoJSONSource(body, "NAME").Features(context.Background())
	if err != nil {
		t.Fatalf("features: %v", err)
	}
	if len(feats) != 2 {
		t.Fatalf("got %d features, want 2", len(feats))
	}
	if feats[0].Name != "Travis" {
		t.Fatalf("first name = %q", feats[0].Name)
	}
	if feats[1].Name != "feature-1" {
		t.Fatalf("fallback name = %q", feats[1].Name)
	}
}

func TestGeoJSONSource_InvalidPayload(t *testing.T) {
	_, err := NewGeoJSONSource(strings.NewReader("not json"), "NAME").Features(context.Background())
	if apperr.KindOf(err) != apperr.InvalidGeometry {
		t.Fatalf("err = %v, want invalid geometry", err)
	}
}
