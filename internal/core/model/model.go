// Package model defines core domain types shared across the service.
package model

import (
	"time"

	"github.com/paulmach/orb"
)

// AggregationLayer is a named collection of aggregation areas sourced from
// one ingestion batch.
type AggregationLayer struct {
	ID                      string     `json:"id"`
	Name                    string     `json:"name"`
	NameColumn              string     `json:"name_column"`
	MinZoom                 int        `json:"min_zoom"`
	MaxZoom                 int        `json:"max_zoom"`
	SimplificationTolerance float64    `json:"simplification_tolerance"`
	ParseLog                []LogEntry `json:"parse_log,omitempty"`
	Modified                time.Time  `json:"modified"`
}

// LogEntry is one timestamped line in a layer's append-only parse log.
type LogEntry struct {
	At  time.Time `json:"at"`
	Msg string    `json:"msg"`
}

// AggregationArea is a polygon belonging to exactly one AggregationLayer.
// GeomSimplified is always re-derived from Geom; it is never written
// directly. Both geometries are in web-mercator planar coordinates.
type AggregationArea struct {
	ID             string           `json:"id"`
	LayerID        string           `json:"layer_id"`
	Name           string           `json:"name"`
	Geom           orb.MultiPolygon `json:"-"`
	GeomSimplified orb.MultiPolygon `json:"-"`
}

// ZoomRange associates one aggregation layer with the zoom interval over
// which it is active inside a layer group.
type ZoomRange struct {
	LayerID string `json:"layer_id"`
	MinZoom int    `json:"min_zoom"`
	MaxZoom int    `json:"max_zoom"`
}

// Covers reports whether z falls inside the range (inclusive).
func (r ZoomRange) Covers(z int) bool {
	return z >= r.MinZoom && z <= r.MaxZoom
}

// AggregationLayerGroup is a named set of layers, each with a zoom range,
// used to pick one active layer per zoom level for tile rendering.
type AggregationLayerGroup struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Ranges []ZoomRange `json:"zoom_ranges"`
}

// ValueCounts maps formula-evaluated value keys (or group labels) to counts.
// Both sides are strings so that arbitrary-precision counts survive
// serialization unchanged.
type ValueCounts map[string]string

// StatsQuery are the parameters of one statistics request against a single
// aggregation area.
type StatsQuery struct {
	Layers   map[string]string // alias -> raster layer id
	Formula  string
	Zoom     int
	Units    string
	Grouping string
}

// Acres reports whether counts should be scaled to acres.
func (q StatsQuery) Acres() bool {
	return q.Units == "acres"
}
