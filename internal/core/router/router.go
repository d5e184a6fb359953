// Package router parses and validates HTTP requests and maps domain errors
// to responses.
package router

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/zonal-stats/internal/core/apperr"
	"github.com/mohammed-shakir/zonal-stats/internal/core/model"
)

// ParseStatsQuery validates the statistics query parameters. Missing
// formula or layers is a MissingParameter error; everything else gets a
// default.
func ParseStatsQuery(r *http.Request, defaultZoom int) (model.StatsQuery, error) {
	q := r.URL.Query()

	formula := strings.TrimSpace(q.Get("formula"))
	if formula == "" {
		return model.StatsQuery{}, apperr.New(apperr.MissingParameter, "missing query parameter: formula")
	}
	rawLayers := strings.TrimSpace(q.Get("layers"))
	if rawLayers == "" {
		return model.StatsQuery{}, apperr.New(apperr.MissingParameter, "missing query parameter: layers")
	}
	layers, err := parseLayers(rawLayers)
	if err != nil {
		return model.StatsQuery{}, err
	}

	zoom := defaultZoom
	if z := strings.TrimSpace(q.Get("zoom")); z != "" {
		n, err := strconv.Atoi(z)
		if err != nil || n < 0 || n > 22 {
			return model.StatsQuery{}, apperr.New(apperr.MissingParameter, "invalid zoom %q", z)
		}
		zoom = n
	}

	units := strings.ToLower(strings.TrimSpace(q.Get("units")))
	if _, ok := q["acres"]; ok {
		// bare ?acres flag, kept for compatibility with older clients
		units = "acres"
	}

	grouping := strings.TrimSpace(q.Get("grouping"))
	if grouping == "" {
		grouping = "auto"
	}

	return model.StatsQuery{
		Layers:   layers,
		Formula:  formula,
		Zoom:     zoom,
		Units:    units,
		Grouping: grouping,
	}, nil
}

// parseLayers splits "a=1,b=2" into the alias mapping.
func parseLayers(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		alias, id, ok := strings.Cut(pair, "=")
		alias = strings.TrimSpace(alias)
		id = strings.TrimSpace(id)
		if !ok || alias == "" || id == "" {
			return nil, apperr.New(apperr.MissingParameter, "invalid layers entry %q, want alias=rasterlayerid", pair)
		}
		out[alias] = id
	}
	if len(out) == 0 {
		return nil, apperr.New(apperr.MissingParameter, "missing query parameter: layers")
	}
	return out, nil
}

// ParseIDs splits a comma-separated id list.
func ParseIDs(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError maps apperr kinds to HTTP statuses. Unclassified errors are
// logged and reduced to a generic 500 so internals never leak.
func writeError(w http.ResponseWriter, log *zerolog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	msg := err.Error()

	switch kind {
	case apperr.MissingParameter, apperr.FormulaError, apperr.InvalidGeometry:
		status = http.StatusBadRequest
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.SourceUnavailable:
		status = http.StatusBadGateway
	default:
		log.Error().Err(err).Msg("internal error")
		kind = "internal"
		msg = "internal server error"
	}

	var body errorBody
	body.Error.Kind = string(kind)
	body.Error.Message = msg

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
