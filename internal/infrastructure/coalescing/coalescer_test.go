package coalescing_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/coalescing"
)

// gatedDoer blocks every call until release is closed or the request context ends.
type gatedDoer struct {
	calls   atomic.Int32
	release chan struct{}
	status  int
	body    string
	err     error
}

func newGatedDoer() *gatedDoer {
	return &gatedDoer{release: make(chan struct{}), status: http.StatusOK, body: `{"ok":true}`}
}

func (d *gatedDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls.Add(1)

	select {
	case <-d.release:
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return &http.Response{
		StatusCode: d.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(d.body)),
	}, nil
}

type result struct {
	resp *coalescing.Response
	err  error
}

func callConcurrently(t *testing.T, c *coalescing.Coalescer, reqs ...coalescing.Request) []result {
	t.Helper()
	results := make([]result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Call(t.Context(), req, coalescing.CallOptions{})
			results[i] = result{resp: resp, err: err}
		}()
	}
	wg.Wait()
	return results
}

func TestCoalescer_ConcurrentIdenticalCallsShareOneCall(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		doer := newGatedDoer()
		c := coalescing.New(doer, nil)
		req := coalescing.Request{Method: http.MethodGet, URL: "http://sign.local/api/v1/sign?assetId=A&ttl=3600"}

		const n = 5
		results := make([]result, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp, err := c.Call(t.Context(), req, coalescing.CallOptions{})
				results[i] = result{resp: resp, err: err}
			}()
		}

		synctest.Wait()
		assert.Equal(t, int32(1), doer.calls.Load())
		stats := c.Stats()
		assert.Equal(t, 1, stats.InFlightCount)
		assert.Equal(t, int64(n-1), stats.TotalDuplicatesAvoided)

		close(doer.release)
		wg.Wait()

		for _, r := range results {
			require.NoError(t, r.err)
			assert.Same(t, results[0].resp, r.resp)
		}
		assert.Equal(t, `{"ok":true}`, string(results[0].resp.Body))
		assert.Equal(t, 0, c.Stats().InFlightCount)
	})
}

func TestCoalescer_DistinctCallsAreNotCoalesced(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		doer := newGatedDoer()
		close(doer.release)
		c := coalescing.New(doer, nil)

		results := callConcurrently(t, c,
			coalescing.Request{Method: http.MethodGet, URL: "http://sign.local/a"},
			coalescing.Request{Method: http.MethodPost, URL: "http://sign.local/a"},
			coalescing.Request{Method: http.MethodGet, URL: "http://sign.local/a?x=1"},
			coalescing.Request{Method: http.MethodPost, URL: "http://sign.local/a", Body: []byte(`{"a":1}`)},
			coalescing.Request{Method: http.MethodPost, URL: "http://sign.local/a", Body: []byte(`{"a":2}`)},
		)

		for _, r := range results {
			require.NoError(t, r.err)
		}
		assert.Equal(t, int32(5), doer.calls.Load())
		assert.Equal(t, int64(0), c.Stats().TotalDuplicatesAvoided)
	})
}

func TestCoalescer_SequentialCallsAreNotDeduplicated(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		doer := newGatedDoer()
		close(doer.release)
		c := coalescing.New(doer, nil)
		req := coalescing.Request{URL: "http://sign.local/a"}

		first, err := c.Call(t.Context(), req, coalescing.CallOptions{})
		require.NoError(t, err)
		second, err := c.Call(t.Context(), req, coalescing.CallOptions{})
		require.NoError(t, err)

		assert.Equal(t, int32(2), doer.calls.Load())
		assert.NotSame(t, first, second)
		assert.Equal(t, 0, c.Stats().InFlightCount)
	})
}

func TestCoalescer_FailureIsSharedBySubscribers(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		doer := newGatedDoer()
		doer.err = errors.New("connection refused")
		c := coalescing.New(doer, nil)
		req := coalescing.Request{URL: "http://sign.local/a"}

		results := make([]result, 3)
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp, err := c.Call(t.Context(), req, coalescing.CallOptions{})
				results[i] = result{resp: resp, err: err}
			}()
		}
		synctest.Wait()
		close(doer.release)
		wg.Wait()

		assert.Equal(t, int32(1), doer.calls.Load())
		for _, r := range results {
			require.Error(t, r.err)
			assert.Nil(t, r.resp)
			assert.Same(t, results[0].err, r.err)
		}
	})
}

func TestCoalescer_NonSuccessStatusIsAResponse(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		doer := newGatedDoer()
		doer.status = http.StatusNotFound
		doer.body = `{"error":"asset not found"}`
		close(doer.release)
		c := coalescing.New(doer, nil)

		resp, err := c.Call(t.Context(), coalescing.Request{URL: "http://sign.local/a"}, coalescing.CallOptions{})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.False(t, resp.OK())
	})
}

func TestCoalescer_CancelMatching(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		doer := newGatedDoer()
		c := coalescing.New(doer, nil)
		reqA := coalescing.Request{URL: "http://sign.local/assets/a"}
		reqB := coalescing.Request{URL: "http://sign.local/other/b"}

		results := make([]result, 3)
		var wg sync.WaitGroup
		for i, req := range []coalescing.Request{reqA, reqA, reqB} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp, err := c.Call(t.Context(), req, coalescing.CallOptions{})
				results[i] = result{resp: resp, err: err}
			}()
		}
		synctest.Wait()
		require.Equal(t, 2, c.Stats().InFlightCount)

		n, err := c.CancelMatching("GET http://sign.local/assets/*")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, c.Stats().InFlightCount)

		synctest.Wait()
		close(doer.release)
		wg.Wait()

		assert.ErrorIs(t, results[0].err, coalescing.ErrCancelled)
		assert.ErrorIs(t, results[1].err, coalescing.ErrCancelled)
		require.NoError(t, results[2].err)
		assert.Equal(t, http.StatusOK, results[2].resp.StatusCode)
	})
}

func TestCoalescer_CancelWithoutMatchesIsNoop(t *testing.T) {
	c := coalescing.New(newGatedDoer(), nil)

	n, err := c.CancelMatching("GET *")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, c.CancelAll())

	_, err = c.CancelMatching("[unterminated")
	assert.Error(t, err)
}

func TestCoalescer_CancelAll(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		doer := newGatedDoer()
		c := coalescing.New(doer, nil)

		results := make([]result, 2)
		var wg sync.WaitGroup
		for i, u := range []string{"http://sign.local/a", "http://sign.local/b"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp, err := c.Call(t.Context(), coalescing.Request{URL: u}, coalescing.CallOptions{})
				results[i] = result{resp: resp, err: err}
			}()
		}
		synctest.Wait()

		assert.Equal(t, 2, c.CancelAll())
		wg.Wait()

		for _, r := range results {
			assert.ErrorIs(t, r.err, coalescing.ErrCancelled)
		}
		assert.Zero(t, c.Stats().InFlightCount)
	})
}

func TestCoalescer_CallerContextAbortsUnderlyingCall(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		doer := newGatedDoer()
		c := coalescing.New(doer, nil)
		ctx, cancel := context.WithCancel(t.Context())

		var err error
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err = c.Call(ctx, coalescing.Request{URL: "http://sign.local/a"}, coalescing.CallOptions{})
		}()
		synctest.Wait()

		cancel()
		<-done
		assert.ErrorIs(t, err, context.Canceled)

		synctest.Wait()
		assert.Zero(t, c.Stats().InFlightCount)
	})
}

func TestCoalescer_ExplicitKeyOverridesDerivation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		doer := newGatedDoer()
		c := coalescing.New(doer, nil)

		var wg sync.WaitGroup
		for _, u := range []string{"http://sign.local/a?nonce=1", "http://sign.local/a?nonce=2"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.Call(t.Context(), coalescing.Request{URL: u}, coalescing.CallOptions{Key: "asset:a"})
				assert.NoError(t, err)
			}()
		}
		synctest.Wait()
		close(doer.release)
		wg.Wait()

		assert.Equal(t, int32(1), doer.calls.Load())
	})
}

func TestCoalescer_ClearTrackingDoesNotCancel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		doer := newGatedDoer()
		c := coalescing.New(doer, nil)
		req := coalescing.Request{URL: "http://sign.local/a"}

		results := make([]result, 2)
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp, err := c.Call(t.Context(), req, coalescing.CallOptions{})
				results[i] = result{resp: resp, err: err}
			}()
		}
		synctest.Wait()
		require.Equal(t, int64(1), c.Stats().TotalDuplicatesAvoided)

		c.ClearTracking()
		assert.Equal(t, coalescing.Stats{}, c.Stats())

		// A call after the clear does not join the forgotten flight.
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Call(t.Context(), req, coalescing.CallOptions{})
			assert.NoError(t, err)
		}()
		synctest.Wait()
		assert.Equal(t, int32(2), doer.calls.Load())

		close(doer.release)
		wg.Wait()

		for _, r := range results {
			require.NoError(t, r.err)
		}
		assert.Same(t, results[0].resp, results[1].resp)
		assert.Zero(t, c.Stats().InFlightCount)
	})
}

func TestCoalescer_BeforeSettleRunsOnceBeforeRemoval(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		doer := newGatedDoer()
		c := coalescing.New(doer, nil)
		req := coalescing.Request{URL: "http://sign.local/a"}

		var hooks atomic.Int32
		var inFlightDuringHook int
		opts := coalescing.CallOptions{BeforeSettle: func(*coalescing.Response) {
			hooks.Add(1)
			inFlightDuringHook = c.Stats().InFlightCount
		}}

		var wg sync.WaitGroup
		for range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.Call(t.Context(), req, opts)
				assert.NoError(t, err)
			}()
		}
		synctest.Wait()
		close(doer.release)
		wg.Wait()

		assert.Equal(t, int32(1), hooks.Load())
		assert.Equal(t, 1, inFlightDuringHook)
		assert.Zero(t, c.Stats().InFlightCount)
	})
}

func TestDeriveKey(t *testing.T) {
	absent := coalescing.DeriveKey(coalescing.Request{Method: "post", URL: "http://x/a"})
	empty := coalescing.DeriveKey(coalescing.Request{Method: "POST", URL: "http://x/a", Body: []byte{}})
	withBody := coalescing.DeriveKey(coalescing.Request{Method: "POST", URL: "http://x/a", Body: []byte("x")})

	assert.Equal(t, "POST http://x/a", absent)
	assert.NotEqual(t, absent, empty)
	assert.NotEqual(t, empty, withBody)
	assert.Equal(t, "GET http://x/a", coalescing.DeriveKey(coalescing.Request{URL: "http://x/a"}))
}
