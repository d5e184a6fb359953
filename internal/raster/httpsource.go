package raster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/zonal-stats/internal/core/observability"
)

// HTTPSource queries a remote raster service for value counts.
type HTTPSource struct {
	base   *url.URL
	client *http.Client
}

func NewHTTPSource(baseURL string, client *http.Client) (*HTTPSource, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse raster service url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{base: u, client: client}, nil
}

type valueCountRequest struct {
	Layer    string          `json:"layer"`
	Zoom     int             `json:"zoom"`
	Geometry json.RawMessage `json:"geometry"`
}

type valueCountResponse struct {
	Values map[string]uint64 `json:"values"`
	NoData *struct {
		Value float64 `json:"value"`
		Count uint64  `json:"count"`
	} `json:"nodata,omitempty"`
}

// ValueCounts posts the polygon to the raster service and decodes the
// returned histogram. The geometry travels as GeoJSON in projected
// coordinates, which the raster service shares.
func (s *HTTPSource) ValueCounts(ctx context.Context, rasterLayerID string, geom orb.MultiPolygon, zoom int) (Histogram, error) {
	start := time.Now()
	h, err := s.valueCounts(ctx, rasterLayerID, geom, zoom)
	observability.ObserveRasterFetch(err, time.Since(start).Seconds())
	return h, err
}

func (s *HTTPSource) valueCounts(ctx context.Context, rasterLayerID string, geom orb.MultiPolygon, zoom int) (Histogram, error) {
	g, err := geojson.NewGeometry(geom).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal geometry: %w", err)
	}
	body, err := json.Marshal(valueCountRequest{
		Layer:    rasterLayerID,
		Zoom:     zoom,
		Geometry: g,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	u := s.base.JoinPath("valuecount")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("raster service call: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("raster service returned %d for layer %s", resp.StatusCode, rasterLayerID)
	}

	var vc valueCountResponse
	if err := json.NewDecoder(resp.Body).Decode(&vc); err != nil {
		return nil, fmt.Errorf("decode raster response: %w", err)
	}

	h := make(Histogram, len(vc.Values)+1)
	for k, c := range vc.Values {
		v, err := strconv.ParseFloat(k, 64)
		if err != nil {
			return nil, fmt.Errorf("raster response value %q: %w", k, err)
		}
		h[Pixel{Value: v}] += c
	}
	if vc.NoData != nil && vc.NoData.Count > 0 {
		h[Pixel{Value: vc.NoData.Value, NoData: true}] += vc.NoData.Count
	}
	return h, nil
}
