// Package invalidation defines upstream change notifications that expire
// cached value-count results.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

const (
	KindRasterChanged = "raster_changed"
	KindLegendChanged = "legend_changed"
)

// Event is one upstream change: a raster layer was re-ingested or a legend
// definition was edited.
type Event struct {
	Version int       `json:"version"`
	Kind    string    `json:"kind"`
	ID      string    `json:"id"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Kind {
	case KindRasterChanged, KindLegendChanged:
	default:
		return fmt.Errorf("kind must be %s|%s", KindRasterChanged, KindLegendChanged)
	}
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
