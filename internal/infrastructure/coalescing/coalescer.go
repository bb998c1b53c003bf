// Package coalescing collapses concurrent identical outbound HTTP calls into a
// single underlying call whose result is shared by every concurrent caller.
package coalescing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"golang.org/x/sync/singleflight"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
)

// ErrCancelled is the error every subscriber of a cancelled call receives.
var ErrCancelled = errors.New("coalescing: call cancelled")

// Doer performs a single HTTP round trip. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one outbound call. A nil Body means no body at all.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully buffered response shared by all subscribers of a call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is 2xx
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// CallOptions overrides the derived key and adds logging context.
type CallOptions struct {
	Key        string
	LogContext string

	// BeforeSettle runs once with a successful response before the call is
	// removed from the in-flight table. Only the initiating caller's hook runs.
	BeforeSettle func(*Response)
}

// Stats is a point-in-time view of the coalescer's tracking state.
type Stats struct {
	InFlightCount          int   `json:"inFlightCount"`
	TotalDuplicatesAvoided int64 `json:"totalDuplicatesAvoided"`
}

type flight struct {
	key         string
	ctx         context.Context
	cancel      context.CancelCauseFunc
	started     time.Time
	subscribers int
}

// Coalescer deduplicates temporally overlapping calls that share a key.
//
// The flights table and the singleflight group are kept in lockstep under mu:
// a key is present in the table exactly while singleflight holds a call for it,
// so a caller that finds no flight is guaranteed to start a fresh call.
type Coalescer struct {
	doer   Doer
	logger *logging.ChanneledLogger
	group  singleflight.Group

	mu         sync.Mutex
	flights    map[string]*flight
	duplicates int64
}

// New creates a coalescer issuing calls through doer. A nil doer uses
// http.DefaultClient and a nil logger discards output.
func New(doer Doer, logger *logging.ChanneledLogger) *Coalescer {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Coalescer{
		doer:    doer,
		logger:  logging.OrNop(logger),
		flights: make(map[string]*flight),
	}
}

// Call performs req, or subscribes to an identical call already in flight.
//
// The underlying call is aborted when the initiating caller's ctx ends or the
// call is cancelled through CancelMatching/CancelAll. A subscriber whose own
// ctx ends stops waiting without affecting the shared call.
func (c *Coalescer) Call(ctx context.Context, req Request, opts CallOptions) (*Response, error) {
	key := opts.Key
	if key == "" {
		key = DeriveKey(req)
	}

	c.mu.Lock()
	f, shared := c.flights[key]
	if shared {
		f.subscribers++
		c.duplicates++
	} else {
		fctx, cancel := context.WithCancelCause(ctx)
		f = &flight{
			key:         key,
			ctx:         fctx,
			cancel:      cancel,
			started:     time.Now(),
			subscribers: 1,
		}
		c.flights[key] = f
	}
	ch := c.group.DoChan(key, func() (any, error) {
		return c.execute(f, req, opts)
	})
	c.mu.Unlock()

	if shared {
		c.logger.Coalescer().Debug("Joined in-flight call",
			"key", key, "subscribers", f.subscribers, "context", opts.LogContext)
	} else {
		c.logger.Coalescer().Debug("Issuing outbound call", "key", key, "context", opts.LogContext)
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Response), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type outcome struct {
	resp *Response
	err  error
}

// execute runs the underlying call for f and detaches f from the table before
// returning, so settlement and removal happen together.
func (c *Coalescer) execute(f *flight, req Request, opts CallOptions) (any, error) {
	defer f.cancel(nil)
	defer c.settle(f)

	done := make(chan outcome, 1)
	go func() {
		resp, err := c.roundTrip(f.ctx, req)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if cause := context.Cause(f.ctx); cause != nil {
				o.err = cause
			}
			c.logger.Coalescer().Warn("Outbound call failed",
				"key", f.key, "error", o.err.Error(), "duration", time.Since(f.started))
			return nil, o.err
		}
		if opts.BeforeSettle != nil {
			opts.BeforeSettle(o.resp)
		}
		c.logger.Coalescer().Debug("Outbound call settled",
			"key", f.key, "status", o.resp.StatusCode, "duration", time.Since(f.started))
		return o.resp, nil
	case <-f.ctx.Done():
		err := context.Cause(f.ctx)
		c.logger.Coalescer().Info("Outbound call aborted", "key", f.key, "reason", err.Error())
		return nil, err
	}
}

func (c *Coalescer) roundTrip(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

// settle removes f from the table if it is still the current flight for its key
func (c *Coalescer) settle(f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachLocked(f)
}

func (c *Coalescer) detachLocked(f *flight) {
	if c.flights[f.key] == f {
		delete(c.flights, f.key)
		c.group.Forget(f.key)
	}
}

// CancelMatching aborts every in-flight call whose key matches the glob
// pattern and returns how many were cancelled.
func (c *Coalescer) CancelMatching(pattern string) (int, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid cancel pattern %q: %w", pattern, err)
	}
	return c.cancelWhere(g.Match), nil
}

// CancelAll aborts every in-flight call and returns how many were cancelled.
func (c *Coalescer) CancelAll() int {
	return c.cancelWhere(func(string) bool { return true })
}

func (c *Coalescer) cancelWhere(match func(key string) bool) int {
	c.mu.Lock()
	cancelled := 0
	for key, f := range c.flights {
		if match(key) {
			c.detachLocked(f)
			f.cancel(ErrCancelled)
			cancelled++
		}
	}
	c.mu.Unlock()

	if cancelled > 0 {
		c.logger.Coalescer().Info("Cancelled in-flight calls", "count", cancelled)
	}
	return cancelled
}

// Stats returns the number of in-flight calls and duplicates avoided so far.
func (c *Coalescer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		InFlightCount:          len(c.flights),
		TotalDuplicatesAvoided: c.duplicates,
	}
}

// ClearTracking resets the duplicate counter and forgets every in-flight call.
// Pending calls are not cancelled; their current subscribers still receive
// the result, but new callers start fresh calls.
func (c *Coalescer) ClearTracking() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.flights {
		c.group.Forget(key)
	}
	c.flights = make(map[string]*flight)
	c.duplicates = 0
}
