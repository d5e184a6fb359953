// Package keys builds deterministic cache fingerprints for value-count
// results.
package keys

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is the exact tuple identifying one cached value-count
// computation. The alias mapping is treated as an unordered key-value set.
type Fingerprint struct {
	AreaID   string
	Layers   map[string]string // alias -> raster layer id
	Formula  string
	Zoom     int
	Units    string
	Grouping string
}

// Key returns the canonical cache key. Two fingerprints that differ only in
// alias order or formula whitespace produce the same key.
func (fp Fingerprint) Key() string {
	canonical := fp.canonical()
	sum := xxhash.Sum64String(canonical)

	groupingSafe := sanitizeForKey(fp.Grouping)
	const maxGroupingLen = 80
	if len(groupingSafe) > maxGroupingLen {
		groupingSafe = groupingSafe[:maxGroupingLen]
	}

	return fmt.Sprintf("vcr:%s:%d:u=%s:g=%s:f=%016x",
		sanitizeForKey(fp.AreaID), fp.Zoom, sanitizeForKey(fp.Units), groupingSafe, sum)
}

// RasterLayers returns the distinct raster layer ids of the alias mapping,
// sorted. These are the fingerprint's invalidation dependencies.
func (fp Fingerprint) RasterLayers() []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(fp.Layers))
	for _, id := range fp.Layers {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// GroupingLegend returns the legend id the fingerprint depends on, or ""
// when grouping is auto or an inline spec.
func (fp Fingerprint) GroupingLegend() string {
	g := strings.TrimSpace(fp.Grouping)
	if g == "" || g == "auto" || strings.HasPrefix(g, "[") || strings.HasPrefix(g, "{") {
		return ""
	}
	return g
}

func (fp Fingerprint) canonical() string {
	pairs := make([]string, 0, len(fp.Layers))
	for alias, id := range fp.Layers {
		pairs = append(pairs, alias+"="+id)
	}
	sort.Strings(pairs)

	return strings.Join([]string{
		fp.AreaID,
		strings.Join(pairs, ","),
		normalizeFormula(fp.Formula),
		fmt.Sprintf("%d", fp.Zoom),
		fp.Units,
		strings.TrimSpace(fp.Grouping),
	}, "|")
}

var formulaPunct = regexp.MustCompile(`\s*([=!<>~&\|\+\-\*/\(\)])\s*`)

// normalizeFormula collapses whitespace so that formatting variants of the
// same expression share a fingerprint.
func normalizeFormula(s string) string {
	if s == "" {
		return ""
	}
	s = collapseASCIIWhitespace(strings.TrimSpace(s))
	return formulaPunct.ReplaceAllString(s, "$1")
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case isASCIIWhitespace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '=':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if isASCIIWhitespace(r) {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
