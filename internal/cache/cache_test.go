package cache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/zonal-stats/internal/cache/keys"
	"github.com/mohammed-shakir/zonal-stats/internal/cache/redisstore"
	"github.com/mohammed-shakir/zonal-stats/internal/core/model"
)

func newTestCache(t *testing.T) (*ResultCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Second, zerolog.Nop()), mr
}

func fp(areaID string) keys.Fingerprint {
	return keys.Fingerprint{
		AreaID:   areaID,
		Layers:   map[string]string{"a": "rl-1", "b": "rl-2"},
		Formula:  "a*b",
		Zoom:     11,
		Grouping: "auto",
	}
}

func TestGetOrCompute_MissThenHit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (model.ValueCounts, error) {
		calls++
		return model.ValueCounts{"4": "5"}, nil
	}

	v, cached, err := c.GetOrCompute(ctx, fp("area-1"), compute)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if cached {
		t.Fatalf("first call must be a miss")
	}
	if !reflect.DeepEqual(v, model.ValueCounts{"4": "5"}) {
		t.Fatalf("first call = %v", v)
	}

	v, cached, err = c.GetOrCompute(ctx, fp("area-1"), compute)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !cached {
		t.Fatalf("second call must be a hit")
	}
	if !reflect.DeepEqual(v, model.ValueCounts{"4": "5"}) {
		t.Fatalf("second call = %v", v)
	}
	if calls != 1 {
		t.Fatalf("compute ran %d times, want 1", calls)
	}
}

func TestGetOrCompute_ComputeErrorNotCached(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	boom := errors.New("raster service down")
	_, _, err := c.GetOrCompute(ctx, fp("area-1"), func(context.Context) (model.ValueCounts, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	// the failure must not poison the key
	v, cached, err := c.GetOrCompute(ctx, fp("area-1"), func(context.Context) (model.ValueCounts, error) {
		return model.ValueCounts{"1": "1"}, nil
	})
	if err != nil || cached {
		t.Fatalf("retry: v=%v cached=%v err=%v", v, cached, err)
	}
}

func TestGetOrCompute_CollapsesConcurrentCallers(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var computes int32
	release := make(chan struct{})
	compute := func(context.Context) (model.ValueCounts, error) {
		atomic.AddInt32(&computes, 1)
		<-release
		return model.ValueCounts{"1": "1"}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]model.ValueCounts, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrCompute(ctx, fp("area-1"), compute)
		}(i)
	}
	// let every caller miss the first lookup and queue on the flight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !reflect.DeepEqual(results[i], model.ValueCounts{"1": "1"}) {
			t.Fatalf("caller %d = %v", i, results[i])
		}
	}
	if n := atomic.LoadInt32(&computes); n != 1 {
		t.Fatalf("compute ran %d times, want 1", n)
	}
}

func seed(t *testing.T, c *ResultCache, f keys.Fingerprint, v model.ValueCounts) {
	t.Helper()
	_, _, err := c.GetOrCompute(context.Background(), f, func(context.Context) (model.ValueCounts, error) {
		return v, nil
	})
	if err != nil {
		t.Fatalf("seed %s: %v", f.AreaID, err)
	}
}

func mustHit(t *testing.T, c *ResultCache, f keys.Fingerprint, want bool) {
	t.Helper()
	_, cached, err := c.GetOrCompute(context.Background(), f, func(context.Context) (model.ValueCounts, error) {
		return model.ValueCounts{}, nil
	})
	if err != nil {
		t.Fatalf("lookup %s: %v", f.AreaID, err)
	}
	if cached != want {
		t.Fatalf("lookup %s: cached=%v, want %v", f.AreaID, cached, want)
	}
}

func TestOnRasterLayerChanged_DropsDependents(t *testing.T) {
	c, _ := newTestCache(t)

	dependent := fp("area-1") // uses rl-1 and rl-2
	other := fp("area-2")
	other.Layers = map[string]string{"a": "rl-9"}
	seed(t, c, dependent, model.ValueCounts{"1": "1"})
	seed(t, c, other, model.ValueCounts{"2": "2"})

	n, err := c.OnRasterLayerChanged(context.Background(), "rl-1")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d results, want 1", n)
	}
	mustHit(t, c, dependent, false)
	mustHit(t, c, other, true)
}

func TestOnGroupingChanged_DropsLegendResults(t *testing.T) {
	c, _ := newTestCache(t)

	grouped := fp("area-1")
	grouped.Grouping = "landcover"
	inline := fp("area-2")
	inline.Grouping = `[{"name":"x","from":0,"to":1}]`
	seed(t, c, grouped, model.ValueCounts{"low": "1"})
	seed(t, c, inline, model.ValueCounts{"x": "2"})

	n, err := c.OnGroupingChanged(context.Background(), "landcover")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d results, want 1", n)
	}
	mustHit(t, c, grouped, false)
	mustHit(t, c, inline, true)
}

func TestOnAreasDeleted_Cascades(t *testing.T) {
	c, _ := newTestCache(t)

	a1 := fp("area-1")
	a2 := fp("area-2")
	a3 := fp("area-3")
	seed(t, c, a1, model.ValueCounts{"1": "1"})
	seed(t, c, a2, model.ValueCounts{"2": "2"})
	seed(t, c, a3, model.ValueCounts{"3": "3"})

	n, err := c.OnAreasDeleted(context.Background(), []string{"area-1", "area-2"})
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d results, want 2", n)
	}
	mustHit(t, c, a1, false)
	mustHit(t, c, a2, false)
	mustHit(t, c, a3, true)
}

func TestInvalidation_UnknownDependencyIsNoop(t *testing.T) {
	c, _ := newTestCache(t)
	n, err := c.OnRasterLayerChanged(context.Background(), "never-used")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if n != 0 {
		t.Fatalf("deleted %d results, want 0", n)
	}
}
