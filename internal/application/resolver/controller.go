// Package resolver drives per-asset URL resolution: it asks the signed URL
// cache for a URL, classifies failures, retries with backoff and optionally
// degrades to a public fallback URL.
package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// ErrClosed is returned by Await once the controller has been torn down.
var ErrClosed = errors.New("resolver: controller closed")

// URLSource yields signed URLs. *signedurl.Cache satisfies it.
type URLSource interface {
	Get(ctx context.Context, ref signedurl.Ref, ttl time.Duration) (string, error)
}

// FallbackFunc builds a long-lived public URL for ref.
type FallbackFunc func(ctx context.Context, ref signedurl.Ref) (string, error)

// Options configures a Controller. Zero values select the defaults.
type Options struct {
	EnableRetry    bool
	EnableFallback bool
	EnableLogging  bool

	// TTL is passed to the source; zero leaves the choice to the source.
	TTL            time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	OnSuccess func(State)
	OnError   func(*ResolutionError)
	Fallback  FallbackFunc
	Logger    *logging.ChanneledLogger
}

// Controller is the resolution state machine for one asset reference at a
// time. All transitions happen under mu and are dropped once the controller
// is closed or the reference they belong to has been replaced.
type Controller struct {
	source URLSource
	opts   Options
	logger *logging.ChanneledLogger

	root     context.Context
	shutdown context.CancelFunc

	mu         sync.Mutex
	state      State
	ref        *signedurl.Ref
	generation uint64
	cancel     context.CancelFunc
	closed     bool
	settled    chan struct{}
	changes    chan State
}

// New creates an idle controller resolving through source.
func New(source URLSource, opts Options) *Controller {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}

	logger := logging.NewNopLogger()
	if opts.EnableLogging && opts.Logger != nil {
		logger = opts.Logger
	}

	root, shutdown := context.WithCancel(context.Background())
	settled := make(chan struct{})
	close(settled)

	return &Controller{
		source:   source,
		opts:     opts,
		logger:   logger,
		root:     root,
		shutdown: shutdown,
		state:    State{Status: StatusIdle},
		settled:  settled,
		changes:  make(chan State, 1),
	}
}

// State returns the current snapshot
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Changes delivers the latest state after each transition. Intermediate
// states may be skipped by a slow reader. The channel is closed by Close.
func (c *Controller) Changes() <-chan State {
	return c.changes
}

// SetAsset starts resolving ref, abandoning any resolution in progress.
// A nil or empty ref returns the controller to idle immediately. Setting the
// reference already being resolved or resolved is a no-op.
func (c *Controller) SetAsset(ref *signedurl.Ref) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if ref == nil || ref.IsZero() {
		c.abandonLocked()
		c.ref = nil
		c.setLocked(transition(c.state, event{kind: eventReset}))
		c.mu.Unlock()
		return
	}

	if c.ref != nil && *c.ref == *ref && c.state.Status != StatusIdle {
		c.mu.Unlock()
		return
	}

	next := *ref
	c.ref = &next
	c.startLocked()
	c.mu.Unlock()
}

// Retry re-runs resolution from the first attempt. It only applies in the
// error state and reports whether a new resolution was started.
func (c *Controller) Retry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.ref == nil || c.state.Status != StatusError {
		return false
	}
	c.startLocked()
	return true
}

// ClearError returns an errored controller to idle.
func (c *Controller) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state.Status != StatusError {
		return
	}
	c.setLocked(transition(c.state, event{kind: eventReset}))
}

// Close tears the controller down. Pending attempts and backoff timers are
// cancelled and no further transitions are applied.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.abandonLocked()
	c.closed = true
	c.shutdown()
	c.releaseWaitersLocked()
	close(c.changes)
}

// Await blocks until no attempt is pending and returns that state.
func (c *Controller) Await(ctx context.Context) (State, error) {
	for {
		c.mu.Lock()
		state, closed, settled := c.state, c.closed, c.settled
		c.mu.Unlock()

		if closed {
			return state, ErrClosed
		}
		if state.Status.Terminal() {
			return state, nil
		}

		select {
		case <-settled:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

func (c *Controller) abandonLocked() {
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) startLocked() {
	c.abandonLocked()

	ctx, cancel := context.WithCancel(c.root)
	c.cancel = cancel
	generation := c.generation
	ref := *c.ref

	c.setLocked(transition(c.state, event{kind: eventStart}))
	c.logger.Resolver().Debug("Resolution started", "ref", ref.String(), "generation", generation)

	go c.run(ctx, generation, ref)
}

func (c *Controller) setLocked(next State) {
	prev := c.state
	c.state = next

	if !prev.Status.Terminal() && next.Status.Terminal() {
		c.releaseWaitersLocked()
	} else if prev.Status.Terminal() && !next.Status.Terminal() {
		c.settled = make(chan struct{})
	}

	// Keep only the latest value in the buffer.
	select {
	case <-c.changes:
	default:
	}
	c.changes <- next
}

func (c *Controller) releaseWaitersLocked() {
	select {
	case <-c.settled:
	default:
		close(c.settled)
	}
}

// run performs attempts for one resolution until it settles or ctx ends.
func (c *Controller) run(ctx context.Context, generation uint64, ref signedurl.Ref) {
	retryable := c.newBackOff()

	var rerr *ResolutionError
	for attempt := 1; ; attempt++ {
		url, err := c.source.Get(ctx, ref, c.opts.TTL)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			c.apply(generation, event{kind: eventResolved, url: url})
			return
		}

		rerr = Classify(err)
		c.logger.Resolver().Warn("Resolution attempt failed",
			"ref", ref.String(), "attempt", attempt, "type", string(rerr.Type), "error", err.Error())

		if !c.opts.EnableRetry || !rerr.CanRetry || attempt >= c.opts.MaxAttempts {
			break
		}

		delay := retryable.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if c.opts.EnableFallback && c.opts.Fallback != nil && rerr.Type.AllowsFallback() {
		url, err := c.opts.Fallback(ctx, ref)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			c.logger.Resolver().Info("Serving fallback URL", "ref", ref.String(), "type", string(rerr.Type))
			c.apply(generation, event{kind: eventResolved, url: url, fallback: true})
			return
		}
		c.logger.Resolver().Error("Fallback failed", "ref", ref.String(), "error", err.Error())
	}

	c.apply(generation, event{kind: eventFailed, err: rerr})
}

func (c *Controller) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// apply performs e if generation is still current, then runs callbacks
// outside the lock.
func (c *Controller) apply(generation uint64, e event) {
	c.mu.Lock()
	if c.closed || generation != c.generation {
		c.mu.Unlock()
		c.logger.Resolver().Debug("Dropping superseded result", "generation", generation)
		return
	}
	next := transition(c.state, e)
	c.setLocked(next)
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	switch next.Status {
	case StatusSuccess:
		if c.opts.OnSuccess != nil {
			c.opts.OnSuccess(next)
		}
	case StatusError:
		if c.opts.OnError != nil {
			c.opts.OnError(next.Err)
		}
	}
}
