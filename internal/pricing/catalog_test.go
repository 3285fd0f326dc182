package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const validCatalogBody = `{"data":[
	{"id":"anthropic/claude-sonnet-4-5","pricing":{"prompt":"0.000003","completion":"0.000015","input_cache_read":"0.0000003","input_cache_write":"0.00000375"}},
	{"id":"openai/gpt-4o","pricing":{"prompt":"0.0000025","completion":"0.00001"}}
]}`

func testService(t *testing.T, handler http.HandlerFunc) *CatalogService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc := NewCatalogService(srv.URL)
	svc.retryDelay = func(int) time.Duration { return 0 }
	return svc
}

func TestCatalogFetchAndParse(t *testing.T) {
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(validCatalogBody))
	})

	catalog, err := svc.Catalog(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(catalog) != 2 {
		t.Fatalf("catalog has %d entries, want 2", len(catalog))
	}
	sonnet := catalog["anthropic/claude-sonnet-4-5"]
	if sonnet.Input != 3e-6 || sonnet.Output != 1.5e-5 {
		t.Errorf("base rates = %g/%g", sonnet.Input, sonnet.Output)
	}
	if sonnet.CacheRead != 3e-7 || sonnet.CacheWrite != 3.75e-6 {
		t.Errorf("cache rates = %g/%g", sonnet.CacheRead, sonnet.CacheWrite)
	}
	gpt := catalog["openai/gpt-4o"]
	if gpt.CacheRead != 0 || gpt.CacheWrite != 0 {
		t.Errorf("absent cache rates = %g/%g, want 0", gpt.CacheRead, gpt.CacheWrite)
	}
}

func TestCatalogValidationPartialRejection(t *testing.T) {
	body := `{"data":[
		{"id":"good","pricing":{"prompt":"0.000001","completion":"0.000002","input_cache_read":"0.0000001","input_cache_write":"0.0000002"}},
		{"id":"bad-cache-read","pricing":{"prompt":"0.000001","completion":"0.000002","input_cache_read":"-1","input_cache_write":"0.0000002"}},
		{"id":"nan-prompt","pricing":{"prompt":"NaN","completion":"0.000002"}},
		{"id":"negative-completion","pricing":{"prompt":"0.000001","completion":"-0.000002"}},
		{"id":"missing-prompt","pricing":{"completion":"0.000002"}},
		{"id":"","pricing":{"prompt":"0.000001","completion":"0.000002"}}
	]}`
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})

	catalog, err := svc.Catalog(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(catalog) != 2 {
		t.Fatalf("catalog has %d entries, want 2 (good + bad-cache-read): %v", len(catalog), catalog)
	}

	// A bad cache rate drops the field, not the entry.
	partial := catalog["bad-cache-read"]
	if partial.Input != 1e-6 || partial.Output != 2e-6 {
		t.Errorf("base rates = %g/%g, want kept", partial.Input, partial.Output)
	}
	if partial.CacheRead != 0 {
		t.Errorf("CacheRead = %g, want 0 (invalid field dropped)", partial.CacheRead)
	}
	if partial.CacheWrite != 2e-7 {
		t.Errorf("CacheWrite = %g, want 2e-7 (valid field kept)", partial.CacheWrite)
	}

	for _, id := range []string{"nan-prompt", "negative-completion", "missing-prompt", ""} {
		if _, ok := catalog[id]; ok {
			t.Errorf("entry %q should have been rejected", id)
		}
	}
}

func TestCatalogCachedWithinTTL(t *testing.T) {
	var requests atomic.Int64
	now := time.Unix(1700000000, 0)
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(validCatalogBody))
	})
	svc.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := svc.Catalog(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if requests.Load() != 1 {
		t.Fatalf("requests = %d, want 1 within TTL", requests.Load())
	}

	now = now.Add(25 * time.Hour)
	if _, err := svc.Catalog(context.Background()); err != nil {
		t.Fatal(err)
	}
	if requests.Load() != 2 {
		t.Errorf("requests = %d, want 2 after TTL expiry", requests.Load())
	}
}

func TestCatalogSingleFlight(t *testing.T) {
	var requests atomic.Int64
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(validCatalogBody))
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			catalog, err := svc.Catalog(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			if len(catalog) != 2 {
				t.Errorf("catalog has %d entries", len(catalog))
			}
		}()
	}
	wg.Wait()

	if requests.Load() != 1 {
		t.Errorf("requests = %d, want exactly 1 for concurrent cold-cache callers", requests.Load())
	}
}

func TestCatalogStatusError(t *testing.T) {
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})

	_, err := svc.Catalog(context.Background())
	if err == nil {
		t.Fatal("expected error for HTTP 404")
	}
	if !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("error %q should name the status", err)
	}
	if !strings.Contains(err.Error(), "pricing.overrides") {
		t.Errorf("error %q should suggest the overrides escape hatch", err)
	}
}

func TestCatalogMalformedBody(t *testing.T) {
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<!doctype html><p>maintenance"))
	})

	_, err := svc.Catalog(context.Background())
	if err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Errorf("err = %v, want malformed-body error", err)
	}
}

func TestCatalogEmptyData(t *testing.T) {
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})

	_, err := svc.Catalog(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no entries") {
		t.Errorf("err = %v, want empty-catalog error", err)
	}
}

func TestCatalogRetriesServerErrors(t *testing.T) {
	var requests atomic.Int64
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(validCatalogBody))
	})

	if _, err := svc.Catalog(context.Background()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if requests.Load() != 3 {
		t.Errorf("requests = %d, want 3", requests.Load())
	}
}

func TestCatalogErrorNotCached(t *testing.T) {
	var requests atomic.Int64
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		w.Write([]byte(validCatalogBody))
	})

	if _, err := svc.Catalog(context.Background()); err == nil {
		t.Fatal("first call should fail")
	}
	if _, err := svc.Catalog(context.Background()); err != nil {
		t.Fatalf("second call should refetch, got %v", err)
	}
}

func TestCatalogReset(t *testing.T) {
	var requests atomic.Int64
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(validCatalogBody))
	})

	svc.Catalog(context.Background())
	if _, ok := svc.Age(); !ok {
		t.Error("Age should report a fetch time")
	}
	svc.Reset()
	if _, ok := svc.Age(); ok {
		t.Error("Age should be unset after Reset")
	}
	svc.Catalog(context.Background())
	if requests.Load() != 2 {
		t.Errorf("requests = %d, want 2 after Reset", requests.Load())
	}
}

func TestResolverUsesCatalog(t *testing.T) {
	svc := testService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(validCatalogBody))
	})
	r := NewResolver(svc, WithWarnFunc(nil))

	p, err := r.Resolve(context.Background(), "claude-sonnet-4-5-20250929")
	if err != nil {
		t.Fatal(err)
	}
	if p.Input != 3e-6 {
		t.Errorf("Input = %g, want catalog rate", p.Input)
	}
}
