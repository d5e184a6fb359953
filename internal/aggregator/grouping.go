package aggregator

import (
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/mohammed-shakir/zonal-stats/internal/core/apperr"
	"github.com/mohammed-shakir/zonal-stats/internal/raster"
)

// LegendEntry is one named bucket of a grouping legend. Either Expression
// (over the variable x) or the From/To range is set.
type LegendEntry struct {
	Name       string   `json:"name"`
	Expression string   `json:"expression,omitempty"`
	From       *float64 `json:"from,omitempty"`
	To         *float64 `json:"to,omitempty"`
}

// Legend is an ordered set of named buckets used to collapse raw value
// counts.
type Legend struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Entries []LegendEntry `json:"entries"`
}

// LegendResolver resolves a legend identifier to its definition.
type LegendResolver interface {
	Legend(id string) (Legend, bool)
}

// LegendRegistry is an in-memory LegendResolver.
type LegendRegistry struct {
	mu      sync.RWMutex
	legends map[string]Legend
}

func NewLegendRegistry() *LegendRegistry {
	return &LegendRegistry{legends: map[string]Legend{}}
}

func (r *LegendRegistry) Legend(id string) (Legend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.legends[id]
	return l, ok
}

// Upsert stores or replaces a legend definition. Cache invalidation for
// results grouped by this legend is the caller's responsibility.
func (r *LegendRegistry) Upsert(l Legend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.legends[l.ID] = l
}

func (r *LegendRegistry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.legends, id)
}

// grouper tests raw values against an ordered list of bucket predicates.
type grouper struct {
	entries []compiledEntry
}

type compiledEntry struct {
	name string
	expr *Formula
	from *float64
	to   *float64
}

// newGrouper builds a grouper from a grouping spec: a legend id or an
// inline JSON entry list. The caller has already handled "auto".
func newGrouper(spec string, legends LegendResolver) (*grouper, error) {
	var entries []LegendEntry

	trimmed := strings.TrimSpace(spec)
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
			return nil, apperr.Wrap(apperr.FormulaError, err, "invalid inline grouping spec")
		}
	case strings.HasPrefix(trimmed, "{"):
		var l Legend
		if err := json.Unmarshal([]byte(trimmed), &l); err != nil {
			return nil, apperr.Wrap(apperr.FormulaError, err, "invalid inline grouping spec")
		}
		entries = l.Entries
	default:
		if legends == nil {
			return nil, apperr.New(apperr.NotFound, "unknown legend %q", trimmed)
		}
		l, ok := legends.Legend(trimmed)
		if !ok {
			return nil, apperr.New(apperr.NotFound, "unknown legend %q", trimmed)
		}
		entries = l.Entries
	}

	g := &grouper{entries: make([]compiledEntry, 0, len(entries))}
	for _, e := range entries {
		ce := compiledEntry{name: e.Name, from: e.From, to: e.To}
		if e.Expression != "" {
			f, err := Compile(e.Expression)
			if err != nil {
				return nil, err
			}
			for _, v := range f.Vars() {
				if v != "x" {
					return nil, apperr.New(apperr.FormulaError, "legend expression %q may only reference x", e.Expression)
				}
			}
			ce.expr = f
		} else if e.From == nil || e.To == nil {
			return nil, apperr.New(apperr.FormulaError, "legend entry %q needs an expression or a from/to range", e.Name)
		}
		g.entries = append(g.entries, ce)
	}
	return g, nil
}

// collapse sums counts into the first matching bucket per value; values
// matching no bucket are dropped.
func (g *grouper) collapse(counts map[string]*big.Float) map[string]*big.Float {
	out := make(map[string]*big.Float)
	for key, count := range counts {
		v, err := strconv.ParseFloat(key, 64)
		if err != nil {
			continue
		}
		for _, e := range g.entries {
			if !e.matches(v) {
				continue
			}
			if acc, ok := out[e.name]; ok {
				acc.Add(acc, count)
			} else {
				out[e.name] = new(big.Float).SetPrec(countPrec).Set(count)
			}
			break
		}
	}
	return out
}

func (e compiledEntry) matches(v float64) bool {
	if e.expr != nil {
		return e.expr.Eval(map[string]raster.Pixel{"x": {Value: v}}) != 0
	}
	return v >= *e.from && v <= *e.to
}
