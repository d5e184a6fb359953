package router

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/zonal-stats/internal/aggregator"
	"github.com/mohammed-shakir/zonal-stats/internal/cache"
	"github.com/mohammed-shakir/zonal-stats/internal/core/apperr"
	"github.com/mohammed-shakir/zonal-stats/internal/core/model"
	"github.com/mohammed-shakir/zonal-stats/internal/geostore"
	"github.com/mohammed-shakir/zonal-stats/internal/ingest"
	"github.com/mohammed-shakir/zonal-stats/internal/tiles"
	"github.com/mohammed-shakir/zonal-stats/internal/valuecount"
)

// Handlers bundles the HTTP endpoints with their collaborators.
type Handlers struct {
	Store       *geostore.Store
	Stats       *valuecount.Service
	Encoder     *tiles.Encoder
	Ingest      *ingest.Runner
	Cache       *cache.ResultCache
	Legends     *aggregator.LegendRegistry
	Log         *zerolog.Logger
	DefaultZoom int
}

// AreaValues lists value counts for the areas named by the ids parameter,
// or for all areas of the layer named by the layer parameter.
func (h *Handlers) AreaValues(w http.ResponseWriter, r *http.Request) {
	q, err := ParseStatsQuery(r, h.DefaultZoom)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	ids := ParseIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		layerID := strings.TrimSpace(r.URL.Query().Get("aggregationlayer"))
		if layerID == "" {
			writeError(w, h.Log, apperr.New(apperr.MissingParameter, "missing query parameter: ids or aggregationlayer"))
			return
		}
		if _, ok := h.Store.Layer(layerID); !ok {
			writeError(w, h.Log, apperr.New(apperr.NotFound, "unknown aggregation layer %q", layerID))
			return
		}
		for _, a := range h.Store.Areas(nil, layerID) {
			ids = append(ids, a.ID)
		}
	}

	results, err := h.Stats.ForAreas(r.Context(), ids, q)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// AreaValue returns the value counts of a single aggregation area.
func (h *Handlers) AreaValue(w http.ResponseWriter, r *http.Request) {
	q, err := ParseStatsQuery(r, h.DefaultZoom)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	areaID := chi.URLParam(r, "areaID")

	v, err := h.Stats.ForArea(r.Context(), areaID, q)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, valuecount.AreaResult{AreaID: areaID, Value: v})
}

func (h *Handlers) Layers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"results": h.Store.Layers()})
}

func (h *Handlers) Layer(w http.ResponseWriter, r *http.Request) {
	l, ok := h.Store.Layer(chi.URLParam(r, "layerID"))
	if !ok {
		writeError(w, h.Log, apperr.New(apperr.NotFound, "unknown aggregation layer %q", chi.URLParam(r, "layerID")))
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// UpsertLayer creates or updates an aggregation layer definition. Areas are
// ingested separately through Parse.
func (h *Handlers) UpsertLayer(w http.ResponseWriter, r *http.Request) {
	var l model.AggregationLayer
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		writeError(w, h.Log, apperr.Wrap(apperr.MissingParameter, err, "decode layer payload"))
		return
	}
	if strings.TrimSpace(l.Name) == "" {
		writeError(w, h.Log, apperr.New(apperr.MissingParameter, "missing field: name"))
		return
	}
	created := l.ID == ""
	l = h.Store.UpsertLayer(l)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, l)
}

// DeleteLayer removes a layer and its areas, dropping their cached results.
func (h *Handlers) DeleteLayer(w http.ResponseWriter, r *http.Request) {
	layerID := chi.URLParam(r, "layerID")
	if _, ok := h.Store.Layer(layerID); !ok {
		writeError(w, h.Log, apperr.New(apperr.NotFound, "unknown aggregation layer %q", layerID))
		return
	}
	removed := h.Store.DeleteLayer(layerID)
	if len(removed) > 0 {
		if _, err := h.Cache.OnAreasDeleted(r.Context(), removed); err != nil {
			h.Log.Warn().Err(err).Str("layer", layerID).Msg("cascade cache invalidation failed")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// IngestAreas starts an asynchronous ingestion run from a GeoJSON body and
// answers 202 with the run id.
func (h *Handlers) IngestAreas(w http.ResponseWriter, r *http.Request) {
	layerID := chi.URLParam(r, "layerID")
	layer, ok := h.Store.Layer(layerID)
	if !ok {
		writeError(w, h.Log, apperr.New(apperr.NotFound, "unknown aggregation layer %q", layerID))
		return
	}

	// the body must be drained before the handler returns
	src, err := ingest.Buffer(r.Context(), ingest.NewGeoJSONSource(r.Body, layer.NameColumn))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	runID, err := h.Ingest.Start(layerID, src)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// Precompute starts a layer-wide value count run and answers 202 with the
// run id.
func (h *Handlers) Precompute(w http.ResponseWriter, r *http.Request) {
	layerID := chi.URLParam(r, "layerID")
	rasterLayerID := strings.TrimSpace(r.URL.Query().Get("rasterlayer"))
	if rasterLayerID == "" {
		writeError(w, h.Log, apperr.New(apperr.MissingParameter, "missing query parameter: rasterlayer"))
		return
	}
	zoom := h.DefaultZoom
	if z := r.URL.Query().Get("zoom"); z != "" {
		n, err := strconv.Atoi(z)
		if err != nil || n < 0 || n > 22 {
			writeError(w, h.Log, apperr.New(apperr.MissingParameter, "invalid zoom %q", z))
			return
		}
		zoom = n
	}
	_, acres := r.URL.Query()["acres"]

	runID, err := h.Stats.PrecomputeLayer(layerID, rasterLayerID, zoom, acres)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// Areas lists the areas of one layer, optionally filtered by ids.
func (h *Handlers) Areas(w http.ResponseWriter, r *http.Request) {
	layerID := strings.TrimSpace(r.URL.Query().Get("aggregationlayer"))
	if layerID == "" {
		writeError(w, h.Log, apperr.New(apperr.MissingParameter, "missing query parameter: aggregationlayer"))
		return
	}
	if _, ok := h.Store.Layer(layerID); !ok {
		writeError(w, h.Log, apperr.New(apperr.NotFound, "unknown aggregation layer %q", layerID))
		return
	}
	ids := ParseIDs(r.URL.Query().Get("ids"))
	writeJSON(w, http.StatusOK, map[string]any{"results": h.Store.Areas(ids, layerID)})
}

// AreaGeoJSON returns one area as a GeoJSON feature, simplified unless
// ?simplified=false.
func (h *Handlers) AreaGeoJSON(w http.ResponseWriter, r *http.Request) {
	areaID := chi.URLParam(r, "areaID")
	a, ok := h.Store.Area(areaID)
	if !ok {
		writeError(w, h.Log, apperr.New(apperr.NotFound, "unknown aggregation area %q", areaID))
		return
	}

	geom := a.GeomSimplified
	if r.URL.Query().Get("simplified") == "false" {
		geom = a.Geom
	}
	feat := geojson.NewFeature(geom)
	feat.Properties = geojson.Properties{
		"id":       a.ID,
		"layer_id": a.LayerID,
		"name":     a.Name,
	}
	writeJSON(w, http.StatusOK, feat)
}

// UpsertGroup creates or replaces a layer group with its zoom ranges.
func (h *Handlers) UpsertGroup(w http.ResponseWriter, r *http.Request) {
	var g model.AggregationLayerGroup
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeError(w, h.Log, apperr.Wrap(apperr.MissingParameter, err, "decode layer group payload"))
		return
	}
	if strings.TrimSpace(g.Name) == "" {
		writeError(w, h.Log, apperr.New(apperr.MissingParameter, "missing field: name"))
		return
	}
	for _, zr := range g.Ranges {
		if _, ok := h.Store.Layer(zr.LayerID); !ok {
			writeError(w, h.Log, apperr.New(apperr.NotFound, "unknown aggregation layer %q", zr.LayerID))
			return
		}
		if zr.MinZoom > zr.MaxZoom {
			writeError(w, h.Log, apperr.New(apperr.MissingParameter, "zoom range for layer %q is inverted", zr.LayerID))
			return
		}
	}
	created := g.ID == ""
	g = h.Store.UpsertGroup(g)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, g)
}

func (h *Handlers) Group(w http.ResponseWriter, r *http.Request) {
	g, ok := h.Store.Group(chi.URLParam(r, "groupID"))
	if !ok {
		writeError(w, h.Log, apperr.New(apperr.NotFound, "unknown layer group %q", chi.URLParam(r, "groupID")))
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// UpsertLegend stores a grouping legend and drops results grouped by it.
func (h *Handlers) UpsertLegend(w http.ResponseWriter, r *http.Request) {
	var l aggregator.Legend
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		writeError(w, h.Log, apperr.Wrap(apperr.MissingParameter, err, "decode legend payload"))
		return
	}
	if strings.TrimSpace(l.ID) == "" {
		writeError(w, h.Log, apperr.New(apperr.MissingParameter, "missing field: id"))
		return
	}
	h.Legends.Upsert(l)
	if _, err := h.Cache.OnGroupingChanged(r.Context(), l.ID); err != nil {
		h.Log.Warn().Err(err).Str("legend", l.ID).Msg("legend cache invalidation failed")
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *Handlers) DeleteLegend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "legendID")
	h.Legends.Delete(id)
	if _, err := h.Cache.OnGroupingChanged(r.Context(), id); err != nil {
		h.Log.Warn().Err(err).Str("legend", id).Msg("legend cache invalidation failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

// RasterChanged drops every cached result that used the raster layer. It is
// the HTTP twin of the Kafka invalidation event.
func (h *Handlers) RasterChanged(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "rasterLayerID")
	n, err := h.Cache.OnRasterLayerChanged(r.Context(), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": n})
}

// LegendChanged drops every cached result grouped by the legend without
// touching its registry entry. Used when the legend is managed elsewhere.
func (h *Handlers) LegendChanged(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "legendID")
	n, err := h.Cache.OnGroupingChanged(r.Context(), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": n})
}

// Tile serves /vtiles/{groupID}/{z}/{x}/{y}.{ext} tiles.
func (h *Handlers) Tile(w http.ResponseWriter, r *http.Request) {
	z, errZ := strconv.Atoi(chi.URLParam(r, "z"))
	x, errX := strconv.Atoi(chi.URLParam(r, "x"))
	y, errY := strconv.Atoi(chi.URLParam(r, "y"))
	if errZ != nil || errX != nil || errY != nil {
		writeError(w, h.Log, apperr.New(apperr.NotFound, "invalid tile coordinates"))
		return
	}

	body, contentType, err := h.Encoder.Render(chi.URLParam(r, "groupID"), z, x, y, chi.URLParam(r, "ext"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
