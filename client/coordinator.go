package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinInterval is the debounce window applied by TrySubmit.
const DefaultMinInterval = time.Second

// Sentinel errors for coordinated requests.
var (
	// ErrRequestCancelled is returned to the caller of a request that was
	// superseded by a newer one or cancelled with Cancel. It reports a user
	// action, not a failure.
	ErrRequestCancelled = errors.New("request cancelled")

	// ErrTooSoon is returned by TrySubmit when a request is still
	// processing or the previous accepted submission is too recent.
	// Nothing was started.
	ErrTooSoon = errors.New("request submitted too soon")
)

// IsCancelled reports whether err means the request was superseded or
// cancelled, as opposed to a real failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrRequestCancelled)
}

// Call is one cancellable unit of work, typically an HTTP request.
// It must return promptly once ctx is done.
type Call[T any] func(ctx context.Context) (T, error)

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*coordinatorConfig)

type coordinatorConfig struct {
	minInterval time.Duration
	now         func() time.Time
	apply       any
}

// WithMinInterval sets the TrySubmit debounce window; zero disables it.
// Panics if d < 0.
func WithMinInterval(d time.Duration) CoordinatorOption {
	if d < 0 {
		panic("client: WithMinInterval duration must not be negative")
	}
	return func(c *coordinatorConfig) {
		c.minInterval = d
	}
}

// WithCoordinatorClock sets the time source used for debouncing.
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *coordinatorConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithApply sets a hook receiving every successful result of the current
// request. Results of superseded requests are never applied. fn runs on
// the submitting goroutine and must not call Submit or TrySubmit.
// NewCoordinator panics if fn does not match the coordinator's type.
func WithApply[T any](fn func(T)) CoordinatorOption {
	return func(c *coordinatorConfig) {
		c.apply = fn
	}
}

// Coordinator serializes requests for one purpose. It holds at most one
// in-flight request; starting a new one cancels the previous first.
// It is safe for concurrent use.
type Coordinator[T any] struct {
	mu         sync.Mutex
	generation uint64
	cancel     context.CancelCauseFunc // nil when idle
	limiter    *rate.Limiter
	now        func() time.Time

	applyMu sync.Mutex
	apply   func(T)
}

// NewCoordinator creates an idle Coordinator.
func NewCoordinator[T any](opts ...CoordinatorOption) *Coordinator[T] {
	cfg := coordinatorConfig{
		minInterval: DefaultMinInterval,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Coordinator[T]{
		limiter: rate.NewLimiter(rate.Every(cfg.minInterval), 1),
		now:     cfg.now,
	}
	if cfg.apply != nil {
		fn, ok := cfg.apply.(func(T))
		if !ok {
			panic("client: WithApply hook does not match the coordinator result type")
		}
		c.apply = fn
	}
	return c
}

// Submit cancels the in-flight request, if any, and runs call as the new
// current request. It returns call's result, or ErrRequestCancelled if
// the request was superseded or cancelled before it settled, even when
// call itself succeeded. Cancelling ctx aborts call like any other error.
func (c *Coordinator[T]) Submit(ctx context.Context, call Call[T]) (T, error) {
	c.mu.Lock()
	callCtx, gen := c.beginLocked(ctx)
	c.mu.Unlock()
	return c.run(callCtx, gen, call)
}

// TrySubmit is Submit behind the debounce policy: it returns ErrTooSoon
// without starting anything while a request is processing or within the
// minimum interval of the previous accepted submission.
func (c *Coordinator[T]) TrySubmit(ctx context.Context, call Call[T]) (T, error) {
	var zero T

	c.mu.Lock()
	if c.cancel != nil || !c.limiter.AllowN(c.now(), 1) {
		c.mu.Unlock()
		return zero, ErrTooSoon
	}
	callCtx, gen := c.beginLocked(ctx)
	c.mu.Unlock()
	return c.run(callCtx, gen, call)
}

// IsProcessing reports whether a request is in flight.
func (c *Coordinator[T]) IsProcessing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Cancel aborts the in-flight request without starting another.
// It reports whether there was one.
func (c *Coordinator[T]) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel(ErrRequestCancelled)
	c.cancel = nil
	c.generation++
	return true
}

// beginLocked cancels the current request and installs a new one.
// c.mu must be held.
func (c *Coordinator[T]) beginLocked(ctx context.Context) (context.Context, uint64) {
	if c.cancel != nil {
		c.cancel(ErrRequestCancelled)
	}
	c.generation++
	callCtx, cancel := context.WithCancelCause(ctx)
	c.cancel = cancel
	return callCtx, c.generation
}

// run executes call and settles generation gen.
func (c *Coordinator[T]) run(ctx context.Context, gen uint64, call Call[T]) (T, error) {
	var zero T
	v, err := call(ctx)

	// applyMu orders apply calls by settlement, so an older result can
	// never be applied after a newer one.
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.mu.Lock()
	current := c.generation == gen
	if current {
		c.cancel(nil)
		c.cancel = nil
	}
	c.mu.Unlock()

	if !current {
		return zero, ErrRequestCancelled
	}
	if err != nil {
		return zero, err
	}
	if c.apply != nil {
		c.apply(v)
	}
	return v, nil
}
