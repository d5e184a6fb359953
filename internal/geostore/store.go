// Package geostore holds aggregation layers, their area polygons, and layer
// groups in memory. All geometries are web-mercator planar.
package geostore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"

	"github.com/mohammed-shakir/zonal-stats/internal/core/apperr"
	"github.com/mohammed-shakir/zonal-stats/internal/core/model"
)

type Store struct {
	mu      sync.RWMutex
	layers  map[string]*model.AggregationLayer
	areas   map[string]*model.AggregationArea
	byLayer map[string][]string // layer id -> area ids, insertion order
	groups  map[string]*model.AggregationLayerGroup
}

func New() *Store {
	return &Store{
		layers:  map[string]*model.AggregationLayer{},
		areas:   map[string]*model.AggregationArea{},
		byLayer: map[string][]string{},
		groups:  map[string]*model.AggregationLayerGroup{},
	}
}

// AreaInput is one polygon handed over by the ingestion collaborator.
type AreaInput struct {
	Name string
	Geom orb.MultiPolygon
}

func (s *Store) UpsertLayer(l model.AggregationLayer) model.AggregationLayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.Modified = time.Now()
	if prev, ok := s.layers[l.ID]; ok && l.ParseLog == nil {
		l.ParseLog = prev.ParseLog
	}
	cp := l
	s.layers[l.ID] = &cp
	return cp
}

func (s *Store) Layer(id string) (model.AggregationLayer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layers[id]
	if !ok {
		return model.AggregationLayer{}, false
	}
	return *l, true
}

func (s *Store) Layers() []model.AggregationLayer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AggregationLayer, 0, len(s.layers))
	for _, l := range s.layers {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteLayer removes a layer and cascades to its areas, returning the
// deleted area ids so dependent cache entries can be dropped.
func (s *Store) DeleteLayer(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.byLayer[id]
	for _, aid := range removed {
		delete(s.areas, aid)
	}
	delete(s.byLayer, id)
	delete(s.layers, id)
	return removed
}

// AppendLog appends timestamped entries to the layer's parse log. The
// ingestion runner buffers entries and flushes them here once per run.
func (s *Store) AppendLog(layerID string, entries []model.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layers[layerID]
	if !ok {
		return apperr.New(apperr.NotFound, "unknown aggregation layer %q", layerID)
	}
	l.ParseLog = append(l.ParseLog, entries...)
	l.Modified = time.Now()
	return nil
}

// ReplaceAreas drops the layer's current area set and inserts the given
// polygons. Simplified geometries are derived here from each area's own
// full geometry, never copied. Returns the removed area ids.
func (s *Store) ReplaceAreas(layerID string, inputs []AreaInput) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layers[layerID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "unknown aggregation layer %q", layerID)
	}

	removed := s.byLayer[layerID]
	for _, aid := range removed {
		delete(s.areas, aid)
	}
	s.byLayer[layerID] = nil

	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		a := &model.AggregationArea{
			ID:             uuid.NewString(),
			LayerID:        layerID,
			Name:           in.Name,
			Geom:           in.Geom,
			GeomSimplified: deriveSimplified(in.Geom, l.SimplificationTolerance),
		}
		s.areas[a.ID] = a
		ids = append(ids, a.ID)
	}
	s.byLayer[layerID] = ids
	l.Modified = time.Now()
	return removed, nil
}

func (s *Store) Area(id string) (model.AggregationArea, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.areas[id]
	if !ok {
		return model.AggregationArea{}, false
	}
	return *a, true
}

// Areas returns areas filtered by id list and/or layer. Empty filters mean
// all areas, ordered by layer insertion order then id.
func (s *Store) Areas(ids []string, layerID string) []model.AggregationArea {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AggregationArea
	if len(ids) > 0 {
		for _, id := range ids {
			if a, ok := s.areas[id]; ok && (layerID == "" || a.LayerID == layerID) {
				out = append(out, *a)
			}
		}
		return out
	}

	layerIDs := make([]string, 0, len(s.byLayer))
	if layerID != "" {
		layerIDs = append(layerIDs, layerID)
	} else {
		for lid := range s.byLayer {
			layerIDs = append(layerIDs, lid)
		}
		sort.Strings(layerIDs)
	}
	for _, lid := range layerIDs {
		for _, aid := range s.byLayer[lid] {
			out = append(out, *s.areas[aid])
		}
	}
	return out
}

// AreasIntersecting returns the layer's areas whose full-geometry bounding
// box overlaps b, in insertion order. Precise clipping is the tile
// encoder's job.
func (s *Store) AreasIntersecting(layerID string, b orb.Bound) []model.AggregationArea {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AggregationArea
	for _, aid := range s.byLayer[layerID] {
		a := s.areas[aid]
		if len(a.Geom) == 0 {
			continue
		}
		if a.Geom.Bound().Intersects(b) {
			out = append(out, *a)
		}
	}
	return out
}

func (s *Store) UpsertGroup(g model.AggregationLayerGroup) model.AggregationLayerGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	cp := g
	cp.Ranges = append([]model.ZoomRange(nil), g.Ranges...)
	s.groups[g.ID] = &cp
	return cp
}

func (s *Store) Group(id string) (model.AggregationLayerGroup, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return model.AggregationLayerGroup{}, false
	}
	cp := *g
	cp.Ranges = append([]model.ZoomRange(nil), g.Ranges...)
	return cp, true
}

// deriveSimplified reduces the geometry at the layer's tolerance and
// normalizes the result to a multi-polygon.
func deriveSimplified(g orb.MultiPolygon, tolerance float64) orb.MultiPolygon {
	if tolerance <= 0 {
		return cloneMultiPolygon(g)
	}
	simplified := simplify.DouglasPeucker(tolerance).Simplify(cloneMultiPolygon(g))
	switch t := simplified.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{t}
	case orb.MultiPolygon:
		return t
	}
	return nil
}

func cloneMultiPolygon(g orb.MultiPolygon) orb.MultiPolygon {
	out := make(orb.MultiPolygon, len(g))
	for i, poly := range g {
		p := make(orb.Polygon, len(poly))
		for j, ring := range poly {
			r := make(orb.Ring, len(ring))
			copy(r, ring)
			p[j] = r
		}
		out[i] = p
	}
	return out
}
