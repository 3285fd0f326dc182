package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func countingOp(calls *atomic.Int64, result string) Op {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(result), nil
	}
}

func TestWrapRejectsNilOp(t *testing.T) {
	_, err := Wrap("fetch_page", nil)
	if err == nil {
		t.Fatal("expected error for nil op")
	}
	if !strings.Contains(err.Error(), "fetch_page") {
		t.Errorf("error %q should name the operation", err)
	}
}

func TestCachedOpServesRepeatsFromCache(t *testing.T) {
	var calls atomic.Int64
	c, err := Wrap("lookup", countingOp(&calls, `{"answer":42}`))
	if err != nil {
		t.Fatal(err)
	}

	input := json.RawMessage(`{"q":"meaning"}`)
	for i := 0; i < 5; i++ {
		out, err := c.Call(context.Background(), input)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if string(out) != `{"answer":42}` {
			t.Fatalf("call %d: out = %s", i, out)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("op invoked %d times, want 1", calls.Load())
	}

	st := c.Stats()
	if st.Hits != 4 || st.Misses != 1 {
		t.Errorf("stats = %d hits / %d misses, want 4/1", st.Hits, st.Misses)
	}
	if st.Size != 1 {
		t.Errorf("size = %d, want 1", st.Size)
	}
}

func TestCachedOpKeyOrderInsensitive(t *testing.T) {
	var calls atomic.Int64
	c, _ := Wrap("lookup", countingOp(&calls, `{"ok":true}`))

	if _, err := c.Call(context.Background(), json.RawMessage(`{"a":1,"b":{"y":2,"x":1}}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Call(context.Background(), json.RawMessage(`{"b":{"x":1,"y":2},"a":1}`)); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("op invoked %d times, want 1 (reordered keys must collide)", calls.Load())
	}
}

func TestCachedOpDistinctInputsMiss(t *testing.T) {
	var calls atomic.Int64
	c, _ := Wrap("lookup", countingOp(&calls, `{"ok":true}`))

	c.Call(context.Background(), json.RawMessage(`{"q":1}`))
	c.Call(context.Background(), json.RawMessage(`{"q":2}`))
	if calls.Load() != 2 {
		t.Errorf("op invoked %d times, want 2", calls.Load())
	}
}

func TestCachedOpNeverCachesFailures(t *testing.T) {
	var calls atomic.Int64
	boom := errors.New("backend down")
	c, _ := Wrap("flaky", func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		calls.Add(1)
		return nil, boom
	})

	for i := 0; i < 3; i++ {
		if _, err := c.Call(context.Background(), json.RawMessage(`{}`)); !errors.Is(err, boom) {
			t.Fatalf("call %d: err = %v, want backend down", i, err)
		}
	}
	if calls.Load() != 3 {
		t.Errorf("op invoked %d times, want 3 (errors must not be cached)", calls.Load())
	}
	if c.Stats().Size != 0 {
		t.Errorf("size = %d, want 0", c.Stats().Size)
	}
}

func TestCachedOpNeverCachesErrorShapedResults(t *testing.T) {
	var calls atomic.Int64
	c, _ := Wrap("tool", countingOp(&calls, `{"error":"file not found"}`))

	c.Call(context.Background(), json.RawMessage(`{"path":"x"}`))
	c.Call(context.Background(), json.RawMessage(`{"path":"x"}`))
	if calls.Load() != 2 {
		t.Errorf("op invoked %d times, want 2 (error-shaped results must not be cached)", calls.Load())
	}
}

func TestCachedOpNeverCachesNonObjects(t *testing.T) {
	for _, result := range []string{`[1,2,3]`, `"text"`, `42`, `null`, ``} {
		var calls atomic.Int64
		c, _ := Wrap("tool", countingOp(&calls, result))
		c.Call(context.Background(), json.RawMessage(`{}`))
		c.Call(context.Background(), json.RawMessage(`{}`))
		if calls.Load() != 2 {
			t.Errorf("result %q: op invoked %d times, want 2", result, calls.Load())
		}
	}
}

func TestCachedOpTTLExpiry(t *testing.T) {
	var calls atomic.Int64
	now := time.Unix(1700000000, 0)
	c, _ := Wrap("lookup", countingOp(&calls, `{"ok":true}`),
		WithTTL(time.Minute),
		WithClock(func() time.Time { return now }))

	input := json.RawMessage(`{"q":1}`)
	c.Call(context.Background(), input) // miss
	c.Call(context.Background(), input) // hit
	if calls.Load() != 1 {
		t.Fatalf("op invoked %d times before expiry, want 1", calls.Load())
	}

	now = now.Add(time.Minute + time.Second)
	c.Call(context.Background(), input) // expired, re-invokes
	if calls.Load() != 2 {
		t.Errorf("op invoked %d times after expiry, want 2", calls.Load())
	}

	c.Call(context.Background(), input) // fresh again
	if calls.Load() != 2 {
		t.Errorf("op invoked %d times after refresh, want 2", calls.Load())
	}
}

func TestCachedOpStatsBeforeFirstCall(t *testing.T) {
	c, _ := Wrap("idle", countingOp(new(atomic.Int64), `{}`))
	st := c.Stats()
	if st.HitRate != 0 || st.Hits != 0 || st.Misses != 0 {
		t.Errorf("fresh stats = %+v, want zeros", st)
	}
}

func TestCachedOpCallbacks(t *testing.T) {
	var hitKeys, missKeys []string
	c, _ := Wrap("lookup", countingOp(new(atomic.Int64), `{"ok":true}`),
		WithOnHit(func(name, key string) {
			if name != "lookup" {
				t.Errorf("onHit name = %q", name)
			}
			hitKeys = append(hitKeys, key)
		}),
		WithOnMiss(func(name, key string) {
			if name != "lookup" {
				t.Errorf("onMiss name = %q", name)
			}
			missKeys = append(missKeys, key)
		}))

	input := json.RawMessage(`{"q":1}`)
	c.Call(context.Background(), input)
	c.Call(context.Background(), input)

	if len(missKeys) != 1 || len(hitKeys) != 1 {
		t.Fatalf("callbacks = %d miss / %d hit, want 1/1", len(missKeys), len(hitKeys))
	}
	if missKeys[0] != hitKeys[0] {
		t.Errorf("miss key %q != hit key %q", missKeys[0], hitKeys[0])
	}
}

func TestCachedOpClearCache(t *testing.T) {
	var calls atomic.Int64
	c, _ := Wrap("lookup", countingOp(&calls, `{"ok":true}`))

	input := json.RawMessage(`{"q":1}`)
	c.Call(context.Background(), input)
	c.ClearCache()
	c.Call(context.Background(), input)
	if calls.Load() != 2 {
		t.Errorf("op invoked %d times, want 2 after ClearCache", calls.Load())
	}
}

func TestCachedOpSharedStoreEviction(t *testing.T) {
	store := NewResultStore(1)
	var callsA, callsB atomic.Int64
	a, _ := Wrap("a", countingOp(&callsA, `{"from":"a"}`), WithStore(store))
	b, _ := Wrap("b", countingOp(&callsB, `{"from":"b"}`), WithStore(store))

	input := json.RawMessage(`{}`)
	a.Call(context.Background(), input)
	b.Call(context.Background(), input) // evicts a's entry
	a.Call(context.Background(), input)
	if callsA.Load() != 2 {
		t.Errorf("a invoked %d times, want 2 after shared-store eviction", callsA.Load())
	}
	if callsB.Load() != 1 {
		t.Errorf("b invoked %d times, want 1", callsB.Load())
	}
}

func TestCachedOpCustomKeyFunc(t *testing.T) {
	var calls atomic.Int64
	c, _ := Wrap("lookup", countingOp(&calls, `{"ok":true}`),
		WithKeyFunc(func(name string, input json.RawMessage) string { return name }))

	c.Call(context.Background(), json.RawMessage(`{"q":1}`))
	c.Call(context.Background(), json.RawMessage(`{"q":2}`))
	if calls.Load() != 1 {
		t.Errorf("op invoked %d times, want 1 under constant key func", calls.Load())
	}
}

func TestCachedOpConcurrentSameKey(t *testing.T) {
	var calls atomic.Int64
	slow := func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return json.RawMessage(`{"ok":true}`), nil
	}
	c, _ := Wrap("slow", slow)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := c.Call(context.Background(), json.RawMessage(`{"q":1}`))
			if err != nil || string(out) != `{"ok":true}` {
				t.Errorf("out = %s, err = %v", out, err)
			}
		}()
	}
	wg.Wait()

	// Same-key misses are not deduplicated: anywhere from 1 to 4
	// invocations is legal, but afterward the entry must be warm.
	if n := calls.Load(); n < 1 || n > 4 {
		t.Errorf("op invoked %d times, want 1..4", n)
	}
	c.Call(context.Background(), json.RawMessage(`{"q":1}`))
	if c.Stats().Hits == 0 {
		t.Error("expected at least one hit once the entry is warm")
	}
}

func TestKeyIncludesOperationName(t *testing.T) {
	input := json.RawMessage(`{"q":1}`)
	if Key("a", input) == Key("b", input) {
		t.Error("different operation names must produce different keys")
	}
}
