// Package raster defines the contract to the external raster service that
// samples pixel values inside a polygon.
package raster

import (
	"context"

	"github.com/paulmach/orb"
)

// Pixel identifies one histogram bucket: either a concrete pixel value or
// the raster's no-data sentinel. For no-data buckets Value carries the raw
// fill value stored in the raster, so formulas can still address it through
// the raw-access operator.
type Pixel struct {
	Value  float64
	NoData bool
}

// Histogram maps pixel buckets to the number of pixels observed.
type Histogram map[Pixel]uint64

// Total returns the number of pixels in the histogram.
func (h Histogram) Total() uint64 {
	var t uint64
	for _, c := range h {
		t += c
	}
	return t
}

// Source produces the value-count histogram of a raster layer restricted to
// a polygon at a given zoom level. Implementations are external
// collaborators; the aggregator only depends on this contract.
type Source interface {
	ValueCounts(ctx context.Context, rasterLayerID string, geom orb.MultiPolygon, zoom int) (Histogram, error)
}
