package resilience

import (
	"errors"
	"sync"
	"time"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

var (
	ErrOpenState         = errors.New("circuit breaker is open")
	ErrTooManyTrialCalls = errors.New("circuit breaker is half-open and its trial calls are taken")
)

// breaker is a failure-rate circuit breaker over a count-based sliding
// window. Every admitted call is tagged with the generation it was admitted
// in; outcomes from an older generation are dropped.
type breaker struct {
	mu sync.Mutex

	threshold    float64
	openDuration time.Duration
	halfOpenMax  int
	now          func() time.Time
	onChange     func(from, to State)

	state      State
	generation uint64
	openedAt   time.Time

	window   []bool // true marks a failed call
	next     int
	count    int
	failures int

	trials         int
	trialSuccesses int
}

func newBreaker(s Settings, now func() time.Time, onChange func(from, to State)) *breaker {
	return &breaker{
		threshold:    s.FailureRateThreshold,
		openDuration: s.OpenStateDuration,
		halfOpenMax:  s.HalfOpenMaxCalls,
		now:          now,
		onChange:     onChange,
		state:        StateClosed,
		window:       make([]bool, s.SlidingWindowSize),
	}
}

func (b *breaker) currentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.openDuration {
		return StateHalfOpen
	}
	return b.state
}

// allow admits a call or rejects it with ErrOpenState / ErrTooManyTrialCalls.
func (b *breaker) allow() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.openDuration {
			return 0, ErrOpenState
		}
		b.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.trials >= b.halfOpenMax {
			return 0, ErrTooManyTrialCalls
		}
		b.trials++
	}
	return b.generation, nil
}

func (b *breaker) record(generation uint64, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if generation != b.generation {
		return
	}

	switch b.state {
	case StateClosed:
		b.push(failed)
		if b.count == len(b.window) && float64(b.failures)/float64(b.count) >= b.threshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		if failed {
			b.setState(StateOpen)
			return
		}
		b.trialSuccesses++
		if b.trialSuccesses >= b.halfOpenMax {
			b.setState(StateClosed)
		}
	}
}

// release returns a half-open permit for a call whose outcome says nothing
// about the dependency, e.g. the caller went away.
func (b *breaker) release(generation uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if generation == b.generation && b.state == StateHalfOpen && b.trials > 0 {
		b.trials--
	}
}

func (b *breaker) push(failed bool) {
	if b.count == len(b.window) {
		if b.window[b.next] {
			b.failures--
		}
	} else {
		b.count++
	}
	b.window[b.next] = failed
	if failed {
		b.failures++
	}
	b.next = (b.next + 1) % len(b.window)
}

// setState must be called with mu held. onChange runs under the lock and
// must not call back into the breaker.
func (b *breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.generation++

	switch to {
	case StateOpen:
		b.openedAt = b.now()
	case StateHalfOpen:
		b.trials = 0
		b.trialSuccesses = 0
	case StateClosed:
		for i := range b.window {
			b.window[i] = false
		}
		b.next, b.count, b.failures = 0, 0, 0
	}

	if b.onChange != nil {
		b.onChange(from, to)
	}
}
