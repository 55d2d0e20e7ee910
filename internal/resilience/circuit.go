package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is the current position of a circuit breaker.
type BreakerState int

const (
	// StateClosed allows all calls through.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a single probe call through to test recovery.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when a call is rejected because the breaker
// is open and the cooldown has not elapsed.
var ErrBreakerOpen = eris.New("resilience: circuit breaker open")

// Breaker is a minimal circuit breaker. After Threshold consecutive
// transient failures it opens and rejects calls for Cooldown, then admits
// one probe; a successful probe closes it again. Non-transient errors pass
// through without tripping the breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithThreshold sets the consecutive-failure count that opens the breaker.
func WithThreshold(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before probing.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock overrides the breaker's time source for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		b.now = now
	}
}

// NewBreaker returns a closed Breaker with a threshold of 5 consecutive
// failures and a 30 second cooldown.
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: 5,
		cooldown:  30 * time.Second,
		state:     StateClosed,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State reports the breaker's current position, promoting open to
// half-open once the cooldown has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// allow records that a call is about to start. It returns false when the
// call must be rejected.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		zap.L().Info("circuit breaker probing", zap.String("breaker", b.name))
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		zap.L().Info("circuit breaker closed", zap.String("breaker", b.name))
	}
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = b.now()
		zap.L().Warn("circuit breaker reopened", zap.String("breaker", b.name))
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = b.now()
		zap.L().Warn("circuit breaker opened",
			zap.String("breaker", b.name),
			zap.Int("failures", b.failures))
	}
}

// Execute runs fn under the breaker. Transient failures count toward the
// trip threshold; other errors pass through without affecting it.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrBreakerOpen
	}

	err := fn(ctx)
	if err == nil {
		b.recordSuccess()
		return nil
	}
	if IsTransient(err) {
		b.recordFailure()
	} else {
		b.mu.Lock()
		b.probing = false
		b.mu.Unlock()
	}
	return err
}

// ExecuteVal runs fn under the breaker and returns its value. Go methods
// cannot be generic, so this lives at package level.
func ExecuteVal[T any](b *Breaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var ferr error
		out, ferr = fn(ctx)
		return ferr
	})
	return out, err
}
