package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrTimeout = errors.New("call timed out")

type Settings struct {
	// Timeout after which a call is abandoned
	Timeout time.Duration
	// FailureRateThreshold is the fraction (0, 1] of failed calls in a full
	// window that opens the breaker
	FailureRateThreshold float64
	// SlidingWindowSize is the number of most recent calls considered
	SlidingWindowSize int
	// OpenStateDuration is how long the breaker rejects calls before probing
	OpenStateDuration time.Duration
	// HalfOpenMaxCalls is the number of trial calls admitted while half-open;
	// all of them must succeed to close the breaker
	HalfOpenMaxCalls int
}

func DefaultSettings() Settings {
	return Settings{
		Timeout:              3 * time.Second,
		FailureRateThreshold: 0.5,
		SlidingWindowSize:    10,
		OpenStateDuration:    5 * time.Second,
		HalfOpenMaxCalls:     3,
	}
}

func (s Settings) Validate() error {
	switch {
	case s.Timeout <= 0:
		return fmt.Errorf("timeout must be positive, got %s", s.Timeout)
	case s.FailureRateThreshold <= 0 || s.FailureRateThreshold > 1:
		return fmt.Errorf("failure rate threshold must be in (0, 1], got %v", s.FailureRateThreshold)
	case s.SlidingWindowSize <= 0:
		return fmt.Errorf("sliding window size must be positive, got %d", s.SlidingWindowSize)
	case s.OpenStateDuration <= 0:
		return fmt.Errorf("open state duration must be positive, got %s", s.OpenStateDuration)
	case s.HalfOpenMaxCalls <= 0:
		return fmt.Errorf("half-open max calls must be positive, got %d", s.HalfOpenMaxCalls)
	}
	return nil
}

// Fallback turns a failed or rejected call into a value the caller can act
// on. It must not panic.
type Fallback[T any] func(req any, err error) T

type options struct {
	now           func() time.Time
	onStateChange func(name string, from, to State)
}

type Option func(*options)

// WithClock replaces time.Now for the open-state timer.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStateChangeHook is called on every breaker transition.
func WithStateChangeHook(fn func(name string, from, to State)) Option {
	return func(o *options) {
		o.onStateChange = fn
	}
}

// Gate wraps one outbound call with a timeout, a circuit breaker and a
// fallback. Execute always yields a T: the call's value when it succeeds in
// time, otherwise exactly one fallback value.
type Gate[T any] struct {
	name     string
	timeout  time.Duration
	breaker  *breaker
	fallback Fallback[T]
}

func NewGate[T any](name string, s Settings, fallback Fallback[T], opts ...Option) (*Gate[T], error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("gate %s: %w", name, err)
	}
	if fallback == nil {
		return nil, fmt.Errorf("gate %s: fallback is required", name)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	var onChange func(from, to State)
	if o.onStateChange != nil {
		onChange = func(from, to State) { o.onStateChange(name, from, to) }
	}

	return &Gate[T]{
		name:     name,
		timeout:  s.Timeout,
		breaker:  newBreaker(s, o.now, onChange),
		fallback: fallback,
	}, nil
}

func (g *Gate[T]) Name() string {
	return g.name
}

func (g *Gate[T]) State() State {
	return g.breaker.currentState()
}

type outcome[T any] struct {
	value T
	err   error
}

// Execute runs call under the gate. A non-nil error from call counts as a
// dependency failure; callers fold expected business answers into T.
func (g *Gate[T]) Execute(ctx context.Context, req any, call func(ctx context.Context) (T, error)) T {
	generation, err := g.breaker.allow()
	if err != nil {
		return g.fallback(req, fmt.Errorf("%s: %w", g.name, err))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// Buffered so an abandoned call can still finish and exit.
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("panic in %s call: %v", g.name, r)}
			}
		}()
		v, err := call(callCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			g.breaker.record(generation, false)
			return out.value
		}
		if ctx.Err() != nil {
			g.breaker.release(generation)
			return g.fallback(req, ctx.Err())
		}
		g.breaker.record(generation, true)
		if errors.Is(out.err, context.DeadlineExceeded) {
			return g.fallback(req, g.timeoutError())
		}
		return g.fallback(req, out.err)
	case <-callCtx.Done():
		if ctx.Err() != nil {
			g.breaker.release(generation)
			return g.fallback(req, ctx.Err())
		}
		g.breaker.record(generation, true)
		return g.fallback(req, g.timeoutError())
	}
}

func (g *Gate[T]) timeoutError() error {
	return fmt.Errorf("%s: %w after %s", g.name, ErrTimeout, g.timeout)
}
