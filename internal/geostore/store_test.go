package geostore

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/zonal-stats/internal/core/apperr"
	"github.com/mohammed-shakir/zonal-stats/internal/core/model"
)

func square(x, y, size float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}}
}

// a polygon with a redundant midpoint that a simplifier removes
func jaggedSquare() orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{0, 0}, {50, 0.1}, {100, 0}, {100, 100}, {0, 100}, {0, 0},
	}}}
}

func TestUpsertLayer_AssignsID(t *testing.T) {
	s := New()
	l := s.UpsertLayer(model.AggregationLayer{Name: "counties"})
	if l.ID == "" {
		t.Fatalf("layer id not assigned")
	}
	got, ok := s.Layer(l.ID)
	if !ok || got.Name != "counties" {
		t.Fatalf("layer not stored: %v %v", got, ok)
	}
}

func TestUpsertLayer_PreservesParseLog(t *testing.T) {
	s := New()
	l := s.UpsertLayer(model.AggregationLayer{Name: "counties"})
	if err := s.AppendLog(l.ID, []model.LogEntry{{Msg: "run started"}}); err != nil {
		t.Fatalf("append log: %v", err)
	}

	l.Name = "renamed"
	l.ParseLog = nil
	updated := s.UpsertLayer(l)
	if len(updated.ParseLog) != 1 {
		t.Fatalf("parse log lost on update: %v", updated.ParseLog)
	}
}

func TestAppendLog_UnknownLayer(t *testing.T) {
	s := New()
	err := s.AppendLog("nope", []model.LogEntry{{Msg: "x"}})
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestReplaceAreas_ReplacesAndReturnsRemoved(t *testing.T) {
	s := New()
	l := s.UpsertLayer(model.AggregationLayer{Name: "counties"})

	removed, err := s.ReplaceAreas(l.ID, []AreaInput{
		{Name: "one", Geom: square(0, 0, 10)},
		{Name: "two", Geom: square(20, 0, 10)},
	})
	if err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("first replace removed %v", removed)
	}
	first := s.Areas(nil, l.ID)
	if len(first) != 2 {
		t.Fatalf("got %d areas, want 2", len(first))
	}

	removed, err = s.ReplaceAreas(l.ID, []AreaInput{{Name: "three", Geom: square(0, 0, 5)}})
	if err != nil {
		t.Fatalf("second replace: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("second replace removed %v, want both previous ids", removed)
	}
	for _, id := range removed {
		if _, ok := s.Area(id); ok {
			t.Fatalf("removed area %q still present", id)
		}
	}
	after := s.Areas(nil, l.ID)
	if len(after) != 1 || after[0].Name != "three" {
		t.Fatalf("areas after replace: %v", after)
	}
}

func TestReplaceAreas_DerivesSimplifiedGeometry(t *testing.T) {
	s := New()
	l := s.UpsertLayer(model.AggregationLayer{Name: "counties", SimplificationTolerance: 1})
	if _, err := s.ReplaceAreas(l.ID, []AreaInput{{Name: "a", Geom: jaggedSquare()}}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	a := s.Areas(nil, l.ID)[0]
	if len(a.Geom[0][0]) != 6 {
		t.Fatalf("full geometry changed: %v", a.Geom)
	}
	if len(a.GeomSimplified[0][0]) >= len(a.Geom[0][0]) {
		t.Fatalf("simplified geometry not reduced: %d points", len(a.GeomSimplified[0][0]))
	}
}

func TestReplaceAreas_ZeroToleranceKeepsGeometry(t *testing.T) {
	s := New()
	l := s.UpsertLayer(model.AggregationLayer{Name: "counties"})
	if _, err := s.ReplaceAreas(l.ID, []AreaInput{{Name: "a", Geom: jaggedSquare()}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	a := s.Areas(nil, l.ID)[0]
	if len(a.GeomSimplified[0][0]) != len(a.Geom[0][0]) {
		t.Fatalf("geometry simplified despite zero tolerance")
	}
}

func TestDeleteLayer_Cascades(t *testing.T) {
	s := New()
	l := s.UpsertLayer(model.AggregationLayer{Name: "counties"})
	if _, err := s.ReplaceAreas(l.ID, []AreaInput{{Name: "a", Geom: square(0, 0, 10)}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	areaID := s.Areas(nil, l.ID)[0].ID

	removed := s.DeleteLayer(l.ID)
	if len(removed) != 1 || removed[0] != areaID {
		t.Fatalf("removed = %v, want [%s]", removed, areaID)
	}
	if _, ok := s.Layer(l.ID); ok {
		t.Fatalf("layer still present")
	}
	if _, ok := s.Area(areaID); ok {
		t.Fatalf("area still present")
	}
}

func TestAreas_FilterByIDs(t *testing.T) {
	s := New()
	l := s.UpsertLayer(model.AggregationLayer{Name: "counties"})
	if _, err := s.ReplaceAreas(l.ID, []AreaInput{
		{Name: "one", Geom: square(0, 0, 10)},
		{Name: "two", Geom: square(20, 0, 10)},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	all := s.Areas(nil, l.ID)

	got := s.Areas([]string{all[1].ID, "missing"}, l.ID)
	if len(got) != 1 || got[0].Name != "two" {
		t.Fatalf("filtered areas = %v", got)
	}
}

func TestAreasIntersecting_BoundingBoxFilter(t *testing.T) {
	s := New()
	l := s.UpsertLayer(model.AggregationLayer{Name: "counties"})
	if _, err := s.ReplaceAreas(l.ID, []AreaInput{
		{Name: "inside", Geom: square(0, 0, 10)},
		{Name: "outside", Geom: square(1000, 1000, 10)},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	b := orb.Bound{Min: orb.Point{-5, -5}, Max: orb.Point{5, 5}}
	got := s.AreasIntersecting(l.ID, b)
	if len(got) != 1 || got[0].Name != "inside" {
		t.Fatalf("intersecting areas = %v", got)
	}
}

func TestGroup_RoundTripAndIsolation(t *testing.T) {
	s := New()
	g := s.UpsertGroup(model.AggregationLayerGroup{
		Name:   "admin",
		Ranges: []model.ZoomRange{{LayerID: "l1", MinZoom: 0, MaxZoom: 10}},
	})
	if g.ID == "" {
		t.Fatalf("group id not assigned")
	}

	got, ok := s.Group(g.ID)
	if !ok {
		t.Fatalf("group not stored")
	}
	got.Ranges[0].MaxZoom = 99

	again, _ := s.Group(g.ID)
	if again.Ranges[0].MaxZoom != 10 {
		t.Fatalf("stored ranges mutated through returned copy")
	}
}
