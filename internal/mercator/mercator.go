// Package mercator holds web-mercator (EPSG:3857) tile pyramid math shared
// by the aggregator and the vector tile encoder.
package mercator

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// EarthRadius is the WGS84 semi-major axis used by the spherical
	// mercator projection.
	EarthRadius = 6378137.0

	// WorldSize is the extent of the projected world in meters along one
	// axis (2 * pi * EarthRadius).
	WorldSize = 2 * math.Pi * EarthRadius

	// TileSize is the pixel width and height of one raster tile.
	TileSize = 256

	squareMetersPerAcre = 4046.8564224
)

// origin of the tile grid: top-left corner of the projected world.
const originShift = WorldSize / 2

// TileBound returns the bounding box of tile (x, y) at zoom z in projected
// meters. Tile y counts down from the north edge, slippy-map style.
func TileBound(z, x, y int) orb.Bound {
	scale := WorldSize / float64(uint64(1)<<uint(z))
	minX := -originShift + float64(x)*scale
	maxY := originShift - float64(y)*scale
	return orb.Bound{
		Min: orb.Point{minX, maxY - scale},
		Max: orb.Point{minX + scale, maxY},
	}
}

// PixelSize returns the side length in meters of one pixel at zoom z.
func PixelSize(z int) float64 {
	return WorldSize / float64(uint64(1)<<uint(z)) / TileSize
}

// PixelAreaAcres returns the area of one pixel at zoom z in acres. At zoom
// 11 this evaluates to roughly 1.44374.
func PixelAreaAcres(z int) float64 {
	side := PixelSize(z)
	return side * side / squareMetersPerAcre
}

// ToWGS84 converts a projected point to lon/lat degrees.
func ToWGS84(p orb.Point) orb.Point {
	lon := p[0] / originShift * 180
	lat := math.Atan(math.Sinh(p[1]/EarthRadius)) * 180 / math.Pi
	return orb.Point{lon, lat}
}

// ToMercator converts a lon/lat point to projected meters.
func ToMercator(p orb.Point) orb.Point {
	x := p[0] / 180 * originShift
	y := EarthRadius * math.Log(math.Tan(math.Pi/4+p[1]*math.Pi/360))
	return orb.Point{x, y}
}

// GeometryToWGS84 returns a copy of g with every coordinate converted from
// projected meters to lon/lat degrees.
func GeometryToWGS84(g orb.Geometry) orb.Geometry {
	return transform(g, ToWGS84)
}

// GeometryToMercator returns a copy of g with every coordinate converted
// from lon/lat degrees to projected meters.
func GeometryToMercator(g orb.Geometry) orb.Geometry {
	return transform(g, ToMercator)
}

func transform(g orb.Geometry, f func(orb.Point) orb.Point) orb.Geometry {
	switch t := g.(type) {
	case orb.Point:
		return f(t)
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(t))
		for i, p := range t {
			out[i] = f(p)
		}
		return out
	case orb.LineString:
		out := make(orb.LineString, len(t))
		for i, p := range t {
			out[i] = f(p)
		}
		return out
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(t))
		for i, ls := range t {
			out[i] = transform(ls, f).(orb.LineString)
		}
		return out
	case orb.Ring:
		out := make(orb.Ring, len(t))
		for i, p := range t {
			out[i] = f(p)
		}
		return out
	case orb.Polygon:
		out := make(orb.Polygon, len(t))
		for i, r := range t {
			out[i] = transform(r, f).(orb.Ring)
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(t))
		for i, p := range t {
			out[i] = transform(p, f).(orb.Polygon)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(t))
		for i, geom := range t {
			out[i] = transform(geom, f)
		}
		return out
	case orb.Bound:
		return orb.Bound{Min: f(t.Min), Max: f(t.Max)}
	}
	return g
}
