// Package aggregator implements the zonal statistics engine: formula
// evaluation over raster value-count histograms, unit scaling, and
// legend-based grouping.
package aggregator

import (
	"context"
	"math/big"
	"sort"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/zonal-stats/internal/core/apperr"
	"github.com/mohammed-shakir/zonal-stats/internal/core/model"
	"github.com/mohammed-shakir/zonal-stats/internal/core/observability"
	"github.com/mohammed-shakir/zonal-stats/internal/mercator"
	"github.com/mohammed-shakir/zonal-stats/internal/raster"
)

// countPrec is the mantissa precision of count accumulators. Wide enough
// that pixel counts never overflow or lose integer exactness.
const countPrec = 256

type Aggregator struct {
	src      raster.Source
	legends  LegendResolver
	formulas *lru.Cache[string, *Formula]
	log      zerolog.Logger
}

func New(src raster.Source, legends LegendResolver, formulaCacheSize int, log zerolog.Logger) (*Aggregator, error) {
	if formulaCacheSize <= 0 {
		formulaCacheSize = 256
	}
	cache, err := lru.New[string, *Formula](formulaCacheSize)
	if err != nil {
		return nil, err
	}
	return &Aggregator{src: src, legends: legends, formulas: cache, log: log}, nil
}

// Compute evaluates the query's formula over the raster histograms
// restricted to geom and returns the value->count mapping with canonical
// string keys and decimal string counts.
func (a *Aggregator) Compute(ctx context.Context, geom orb.MultiPolygon, q model.StatsQuery) (model.ValueCounts, error) {
	start := time.Now()
	defer func() { observability.ObserveAggregation(time.Since(start).Seconds()) }()

	f, err := a.compile(q.Formula)
	if err != nil {
		return nil, err
	}

	for _, v := range f.Vars() {
		if _, ok := q.Layers[v]; !ok {
			return nil, apperr.New(apperr.FormulaError, "formula references undefined layer alias %q", v)
		}
	}

	counts, err := a.crossTabulate(ctx, geom, f, q)
	if err != nil {
		return nil, err
	}

	if q.Acres() {
		factor := new(big.Float).SetPrec(countPrec).SetFloat64(mercator.PixelAreaAcres(q.Zoom))
		for _, c := range counts {
			c.Mul(c, factor)
		}
	}

	if q.Grouping != "" && q.Grouping != "auto" {
		g, err := newGrouper(q.Grouping, a.legends)
		if err != nil {
			return nil, err
		}
		counts = g.collapse(counts)
	}

	out := make(model.ValueCounts, len(counts))
	for k, c := range counts {
		out[k] = formatCount(c)
	}
	return out, nil
}

func (a *Aggregator) compile(src string) (*Formula, error) {
	if f, ok := a.formulas.Get(src); ok {
		return f, nil
	}
	f, err := Compile(src)
	if err != nil {
		return nil, err
	}
	a.formulas.Add(src, f)
	return f, nil
}

// crossTabulate fetches one histogram per distinct raster layer the formula
// references and evaluates the formula over every aligned bucket tuple.
// Aliases bound to the same raster layer share one value axis; distinct
// layers combine by cartesian product with counts scaled so that the total
// pixel count of the region is preserved.
func (a *Aggregator) crossTabulate(ctx context.Context, geom orb.MultiPolygon, f *Formula, q model.StatsQuery) (map[string]*big.Float, error) {
	counts := make(map[string]*big.Float)

	vars := f.Vars()
	if len(vars) == 0 {
		return counts, nil
	}

	// distinct raster layers, in deterministic order
	layerIDs := make([]string, 0, len(vars))
	seen := map[string]bool{}
	for _, v := range vars {
		id := q.Layers[v]
		if !seen[id] {
			seen[id] = true
			layerIDs = append(layerIDs, id)
		}
	}
	sort.Strings(layerIDs)

	// A failing layer degrades to an empty histogram rather than aborting
	// the whole computation.
	axes := make([][]bucket, len(layerIDs))
	for i, id := range layerIDs {
		h, err := a.src.ValueCounts(ctx, id, geom, q.Zoom)
		if err != nil {
			a.log.Warn().Err(err).Str("raster_layer", id).Int("zoom", q.Zoom).
				Msg("raster layer unavailable, treating as empty")
			h = raster.Histogram{}
		}
		if len(h) == 0 {
			// empty axis: the cartesian product has no tuples
			return counts, nil
		}
		axes[i] = sortedBuckets(h)
	}

	totals := make([]uint64, len(axes))
	for i, ax := range axes {
		for _, b := range ax {
			totals[i] += b.count
		}
	}

	px := make(map[string]raster.Pixel, len(vars))
	axisOf := make(map[string]int, len(vars))
	for _, v := range vars {
		axisOf[v] = sort.SearchStrings(layerIDs, q.Layers[v])
	}

	// odometer over the per-layer axes
	idx := make([]int, len(axes))
	for {
		for _, v := range vars {
			i := axisOf[v]
			px[v] = axes[i][idx[i]].pix
		}

		if !f.Excludes(px) {
			w := new(big.Float).SetPrec(countPrec).SetUint64(axes[0][idx[0]].count)
			for i := 1; i < len(axes); i++ {
				c := new(big.Float).SetPrec(countPrec).SetUint64(axes[i][idx[i]].count)
				c.Quo(c, new(big.Float).SetPrec(countPrec).SetUint64(totals[i]))
				w.Mul(w, c)
			}

			key := canonicalKey(f.Eval(px))
			if acc, ok := counts[key]; ok {
				acc.Add(acc, w)
			} else {
				counts[key] = w
			}
		}

		// advance
		i := len(idx) - 1
		for i >= 0 {
			idx[i]++
			if idx[i] < len(axes[i]) {
				break
			}
			idx[i] = 0
			i--
		}
		if i < 0 {
			break
		}
	}
	return counts, nil
}

type bucket struct {
	pix   raster.Pixel
	count uint64
}

func sortedBuckets(h raster.Histogram) []bucket {
	out := make([]bucket, 0, len(h))
	for p, c := range h {
		out = append(out, bucket{pix: p, count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].pix.NoData != out[j].pix.NoData {
			return !out[i].pix.NoData
		}
		return out[i].pix.Value < out[j].pix.Value
	})
	return out
}

// canonicalKey formats a formula result as its canonical string: integral
// values print without a decimal point, and no magnitude switches the key
// into exponent notation.
func canonicalKey(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatCount serializes a count accumulator as a plain decimal string.
// Integer counts print exactly; fractional counts round-trip through float64
// for a compact representation.
func formatCount(c *big.Float) string {
	if c.IsInt() {
		return c.Text('f', 0)
	}
	f, _ := c.Float64()
	return strconv.FormatFloat(f, 'f', -1, 64)
}
