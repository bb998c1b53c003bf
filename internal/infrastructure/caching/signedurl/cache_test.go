package signedurl_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/coalescing"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/monitoring"
)

const endpoint = "http://sign.local/api/v1/sign"

// fakeSigner serves sign requests in-process and counts them.
type fakeSigner struct {
	calls  atomic.Int32
	issued atomic.Int32
	gate   chan struct{}

	mu      sync.Mutex
	queries []string
}

func (s *fakeSigner) Do(req *http.Request) (*http.Response, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.queries = append(s.queries, req.URL.RawQuery)
	s.mu.Unlock()

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}

	rec := httptest.NewRecorder()
	s.serve(rec, req)
	return rec.Result(), nil
}

func (s *fakeSigner) serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("assetId")
	if id == "" {
		id = q.Get("storageKey")
	}
	ttl, _ := strconv.Atoi(q.Get("ttl"))

	w.Header().Set("Content-Type", "application/json")
	switch id {
	case "missing":
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "asset not found"})
	case "broken":
		_ = json.NewEncoder(w).Encode(map[string]any{"expiresInSeconds": ttl})
	case "noexpiry":
		_ = json.NewEncoder(w).Encode(map[string]any{"url": "https://cdn.local/files/noexpiry"})
	default:
		n := s.issued.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"url":              fmt.Sprintf("https://cdn.local/files/%s?token=%d", id, n),
			"expiresInSeconds": ttl,
		})
	}
}

func (s *fakeSigner) lastQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queries) == 0 {
		return ""
	}
	return s.queries[len(s.queries)-1]
}

func newCache(signer *fakeSigner, cfg signedurl.Config) *signedurl.Cache {
	cfg.Endpoint = endpoint
	return signedurl.New(cfg, coalescing.New(signer, nil), nil)
}

func TestCache_ConcurrentGetsShareOneSignCall(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		signer := &fakeSigner{gate: make(chan struct{})}
		cache := newCache(signer, signedurl.Config{})
		ref := signedurl.Ref{AssetID: "A"}

		urls := make([]string, 3)
		var wg sync.WaitGroup
		for i := range urls {
			wg.Add(1)
			go func() {
				defer wg.Done()
				u, err := cache.Get(t.Context(), ref, time.Hour)
				assert.NoError(t, err)
				urls[i] = u
			}()
		}
		synctest.Wait()
		close(signer.gate)
		wg.Wait()

		assert.Equal(t, int32(1), signer.calls.Load())
		assert.Equal(t, "https://cdn.local/files/A?token=1", urls[0])
		assert.Equal(t, urls[0], urls[1])
		assert.Equal(t, urls[0], urls[2])
		assert.Equal(t, "assetId=A&ttl=3600", signer.lastQuery())
	})
}

func TestCache_LiveEntryServedUntilExpiryBuffer(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		signer := &fakeSigner{}
		cache := newCache(signer, signedurl.Config{ExpiryBuffer: time.Minute})
		ref := signedurl.Ref{AssetID: "A"}

		first, err := cache.Get(t.Context(), ref, 10*time.Minute)
		require.NoError(t, err)

		time.Sleep(9*time.Minute - time.Second)
		again, err := cache.Get(t.Context(), ref, 0)
		require.NoError(t, err)
		assert.Equal(t, first, again)
		assert.Equal(t, int32(1), signer.calls.Load())

		time.Sleep(time.Second)

		signer.gate = make(chan struct{})
		urls := make([]string, 4)
		var wg sync.WaitGroup
		for i := range urls {
			wg.Add(1)
			go func() {
				defer wg.Done()
				u, err := cache.Get(t.Context(), ref, 10*time.Minute)
				assert.NoError(t, err)
				urls[i] = u
			}()
		}
		synctest.Wait()
		close(signer.gate)
		wg.Wait()

		assert.Equal(t, int32(2), signer.calls.Load())
		for _, u := range urls {
			assert.Equal(t, "https://cdn.local/files/A?token=2", u)
		}
	})
}

func TestCache_GetAfterRefreshSettledSeesNewValue(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		signer := &fakeSigner{}
		cache := newCache(signer, signedurl.Config{})
		ref := signedurl.Ref{StorageKey: "uploads/a.png"}

		first, err := cache.Get(t.Context(), ref, 0)
		require.NoError(t, err)
		second, err := cache.Get(t.Context(), ref, 0)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), signer.calls.Load())
		assert.Equal(t, "storageKey=uploads%2Fa.png&ttl=3600", signer.lastQuery())
	})
}

func TestCache_RefValidation(t *testing.T) {
	signer := &fakeSigner{}
	cache := newCache(signer, signedurl.Config{})

	_, err := cache.Get(t.Context(), signedurl.Ref{}, 0)
	assert.ErrorIs(t, err, signedurl.ErrMissingRef)
	assert.Zero(t, signer.calls.Load())

	_, err = cache.Get(t.Context(), signedurl.Ref{AssetID: "A", StorageKey: "uploads/a.png"}, 0)
	require.NoError(t, err)

	stats := cache.Stats()
	require.Len(t, stats.Entries, 1)
	assert.Equal(t, "asset:A", stats.Entries[0].Key)
}

func TestCache_EvictsOldestInsertion(t *testing.T) {
	signer := &fakeSigner{}
	cache := newCache(signer, signedurl.Config{MaxSize: 3})

	for _, id := range []string{"a", "b", "c"} {
		_, err := cache.Get(t.Context(), signedurl.Ref{AssetID: id}, 0)
		require.NoError(t, err)
	}

	// Reading "a" must not protect it: eviction is by insertion order.
	_, err := cache.Get(t.Context(), signedurl.Ref{AssetID: "a"}, 0)
	require.NoError(t, err)
	require.Equal(t, int32(3), signer.calls.Load())

	_, err = cache.Get(t.Context(), signedurl.Ref{AssetID: "d"}, 0)
	require.NoError(t, err)

	stats := cache.Stats()
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, 3, stats.MaxSize)
	keys := make([]string, 0, len(stats.Entries))
	for _, e := range stats.Entries {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"asset:b", "asset:c", "asset:d"}, keys)
}

func TestCache_ResponseContract(t *testing.T) {
	signer := &fakeSigner{}
	cache := newCache(signer, signedurl.Config{})

	_, err := cache.Get(t.Context(), signedurl.Ref{AssetID: "broken"}, 0)
	assert.ErrorIs(t, err, signedurl.ErrInvalidResponse)

	_, err = cache.Get(t.Context(), signedurl.Ref{AssetID: "missing"}, 0)
	var statusErr *signedurl.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "asset not found", statusErr.Message)

	assert.Zero(t, cache.Stats().Size, "failures are never cached")

	u, err := cache.Get(t.Context(), signedurl.Ref{AssetID: "noexpiry"}, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.local/files/noexpiry", u)

	stats := cache.Stats()
	require.Len(t, stats.Entries, 1)
	assert.Equal(t, 2*time.Hour, stats.Entries[0].TTL)
}

func TestCache_Invalidation(t *testing.T) {
	signer := &fakeSigner{}
	cache := newCache(signer, signedurl.Config{})

	for _, ref := range []signedurl.Ref{
		{AssetID: "a"}, {AssetID: "b"}, {StorageKey: "uploads/c.png"}, {StorageKey: "uploads/d.png"},
	} {
		_, err := cache.Get(t.Context(), ref, 0)
		require.NoError(t, err)
	}

	assert.True(t, cache.Invalidate(signedurl.Ref{AssetID: "a"}))
	assert.False(t, cache.Invalidate(signedurl.Ref{AssetID: "a"}))
	assert.False(t, cache.Invalidate(signedurl.Ref{}))

	n, err := cache.InvalidateMatching("storage:uploads/*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, cache.Stats().Size)

	_, err = cache.InvalidateMatching("[")
	assert.Error(t, err)

	cache.Clear()
	assert.Zero(t, cache.Stats().Size)
}

func TestCache_PruneRemovesOnlyStaleEntries(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		signer := &fakeSigner{}
		cache := newCache(signer, signedurl.Config{ExpiryBuffer: time.Minute})

		_, err := cache.Get(t.Context(), signedurl.Ref{AssetID: "short"}, 5*time.Minute)
		require.NoError(t, err)
		_, err = cache.Get(t.Context(), signedurl.Ref{AssetID: "long"}, time.Hour)
		require.NoError(t, err)

		assert.Zero(t, cache.Prune())

		time.Sleep(4 * time.Minute)
		assert.Equal(t, 1, cache.Prune())

		stats := cache.Stats()
		require.Len(t, stats.Entries, 1)
		assert.Equal(t, "asset:long", stats.Entries[0].Key)
		assert.Equal(t, 4*time.Minute, stats.Entries[0].Age)
		assert.Equal(t, 56*time.Minute, stats.Entries[0].ExpiresIn)
	})
}

func TestCache_PrefetchSwallowsIndividualFailures(t *testing.T) {
	signer := &fakeSigner{}
	cache := newCache(signer, signedurl.Config{PrefetchConcurrency: 2})

	cache.Prefetch(t.Context(), []signedurl.PrefetchItem{
		{Ref: signedurl.Ref{AssetID: "a"}},
		{Ref: signedurl.Ref{AssetID: "missing"}},
		{Ref: signedurl.Ref{StorageKey: "uploads/b.png"}, TTL: 10 * time.Minute},
		{Ref: signedurl.Ref{}},
	})

	stats := cache.Stats()
	assert.Equal(t, 2, stats.Size)
	keys := map[string]bool{}
	for _, e := range stats.Entries {
		keys[e.Key] = true
	}
	assert.True(t, keys["asset:a"])
	assert.True(t, keys["storage:uploads/b.png"])
}

func TestCache_InvalidationDuringRefreshDropsResult(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		signer := &fakeSigner{gate: make(chan struct{})}
		cache := newCache(signer, signedurl.Config{})
		ref := signedurl.Ref{AssetID: "A"}

		done := make(chan struct{})
		go func() {
			defer close(done)
			u, err := cache.Get(t.Context(), ref, 0)
			assert.NoError(t, err)
			assert.NotEmpty(t, u)
		}()
		synctest.Wait()

		cache.Invalidate(ref)
		close(signer.gate)
		<-done

		assert.Zero(t, cache.Stats().Size)
	})
}

func TestCache_InvalidatingOtherKeyKeepsRefresh(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		signer := &fakeSigner{gate: make(chan struct{})}
		cache := newCache(signer, signedurl.Config{})
		a := signedurl.Ref{AssetID: "A"}

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := cache.Get(t.Context(), a, 0)
			assert.NoError(t, err)
		}()
		synctest.Wait()

		assert.False(t, cache.Invalidate(signedurl.Ref{AssetID: "B"}))
		n, err := cache.InvalidateMatching("asset:B*")
		require.NoError(t, err)
		assert.Zero(t, n)

		close(signer.gate)
		<-done

		assert.Equal(t, 1, cache.Stats().Size)
		_, err = cache.Get(t.Context(), a, 0)
		require.NoError(t, err)
		assert.Equal(t, int32(1), signer.calls.Load())
	})
}

func TestCache_PatternInvalidationDuringRefreshDropsResult(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		signer := &fakeSigner{gate: make(chan struct{})}
		cache := newCache(signer, signedurl.Config{})

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := cache.Get(t.Context(), signedurl.Ref{AssetID: "A"}, 0)
			assert.NoError(t, err)
		}()
		synctest.Wait()

		_, err := cache.InvalidateMatching("asset:*")
		require.NoError(t, err)
		close(signer.gate)
		<-done

		assert.Zero(t, cache.Stats().Size)
	})
}

func TestCache_CancelPendingRefresh(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		signer := &fakeSigner{gate: make(chan struct{})}
		cache := newCache(signer, signedurl.Config{})

		var err error
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err = cache.Get(t.Context(), signedurl.Ref{AssetID: "A"}, 0)
		}()
		synctest.Wait()

		n, cancelErr := cache.Coalescer().CancelMatching("sign:asset:*")
		require.NoError(t, cancelErr)
		assert.Equal(t, 1, n)
		<-done

		assert.ErrorIs(t, err, coalescing.ErrCancelled)
		assert.Zero(t, cache.Stats().Size)
	})
}

func TestCache_RecordsOperationsAndEvictions(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		monitor := monitoring.NewCacheMonitor(nil)
		cache := newCache(&fakeSigner{}, signedurl.Config{MaxSize: 2, ExpiryBuffer: time.Minute, Recorder: monitor})

		for _, id := range []string{"a", "a", "b", "c"} {
			_, err := cache.Get(t.Context(), signedurl.Ref{AssetID: id}, 10*time.Minute)
			require.NoError(t, err)
		}
		_, err := cache.Get(t.Context(), signedurl.Ref{AssetID: "missing"}, 0)
		require.Error(t, err)

		time.Sleep(9 * time.Minute)
		assert.Equal(t, 2, cache.Prune())
		assert.False(t, cache.Invalidate(signedurl.Ref{AssetID: "b"}))

		metrics := monitor.Metrics()
		assert.EqualValues(t, 5, metrics.TotalRequests)
		assert.EqualValues(t, 1, metrics.CacheHits)
		assert.EqualValues(t, 4, metrics.CacheMisses)
		assert.EqualValues(t, 1, metrics.CapacityEvictions)
		assert.EqualValues(t, 2, metrics.TTLEvictions)
		assert.Zero(t, metrics.ManualEvictions)
	})
}
