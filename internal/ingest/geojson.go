package ingest

import (
	"context"
	"fmt"
	"io"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/zonal-stats/internal/core/apperr"
)

// GeoJSONSource reads one ingestion batch from a GeoJSON FeatureCollection.
// Area names come from the property named by nameColumn; features without it
// get a positional fallback name.
type GeoJSONSource struct {
	body       io.Reader
	nameColumn string
}

func NewGeoJSONSource(body io.Reader, nameColumn string) *GeoJSONSource {
	return &GeoJSONSource{body: body, nameColumn: nameColumn}
}

// Buffer drains src eagerly and returns a source over the buffered
// features. Needed when src reads from a request body that closes once the
// handler returns.
func Buffer(ctx context.Context, src Source) (Source, error) {
	feats, err := src.Features(ctx)
	if err != nil {
		return nil, err
	}
	return buffered(feats), nil
}

type buffered []Feature

func (b buffered) Features(context.Context) ([]Feature, error) { return b, nil }

func (s *GeoJSONSource) Features(ctx context.Context) ([]Feature, error) {
	raw, err := io.ReadAll(s.body)
	if err != nil {
		return nil, apperr.Wrap(apperr.SourceUnavailable, err, "read polygon payload")
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidGeometry, err, "decode feature collection")
	}

	out := make([]Feature, 0, len(fc.Features))
	for i, f := range fc.Features {
		name := ""
		if s.nameColumn != "" {
			if v, ok := f.Properties[s.nameColumn]; ok {
				name = fmt.Sprint(v)
			}
		}
		if name == "" {
			name = fmt.Sprintf("feature-%d", i)
		}
		out = append(out, Feature{Name: name, Geometry: f.Geometry})
	}
	return out, nil
}
