package amqp

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Reconnect defaults.
const (
	DefaultInitialDelay  = 100 * time.Millisecond
	DefaultMaxDelay      = 30 * time.Second
	DefaultBackoffFactor = 2.0
)

// ReconnectDelayStrategy yields the wait before the next attempt against a
// host. An error stops reconnecting.
type ReconnectDelayStrategy interface {
	GetConnectWaitDuration(key string) (time.Duration, error)
	Reset()
}

// ReconnectPolicy describes exponential backoff. MaxAttempts of zero retries
// forever. Jitter in (0, 1] randomises each delay by up to that fraction.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	MaxAttempts  int
	Jitter       float64

	// Strategy overrides the backoff computed from the fields above.
	Strategy ReconnectDelayStrategy
}

func (policy ReconnectPolicy) withDefaults() ReconnectPolicy {
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = DefaultInitialDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultMaxDelay
	}
	if policy.Factor < 1 {
		policy.Factor = DefaultBackoffFactor
	}
	if policy.Jitter < 0 {
		policy.Jitter = 0
	}
	if policy.Jitter > 1 {
		policy.Jitter = 1
	}
	if policy.Strategy == nil {
		strategy := NewExponentialDelayStrategy(policy.InitialDelay, policy.MaxDelay, policy.Factor)
		strategy.MaxAttempts = policy.MaxAttempts
		strategy.Jitter = policy.Jitter
		policy.Strategy = strategy
	}
	return policy
}

// FixedDelayStrategy waits the same delay before every attempt.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// NewFixedDelayStrategy returns a new FixedDelayStrategy.
func NewFixedDelayStrategy(delay time.Duration) *FixedDelayStrategy {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelayStrategy{Delay: delay}
}

// GetConnectWaitDuration returns the fixed delay.
func (strategy *FixedDelayStrategy) GetConnectWaitDuration(key string) (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}
	return strategy.Delay, nil
}

// Reset is a no-op for a fixed delay.
func (strategy *FixedDelayStrategy) Reset() {}

// ExponentialDelayStrategy grows the delay per host key:
// BaseDelay * Factor^attempt, capped at MaxDelay.
type ExponentialDelayStrategy struct {
	lock        sync.Mutex
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	MaxAttempts int
	Jitter      float64
	attempts    map[string]uint32
}

// NewExponentialDelayStrategy returns a new ExponentialDelayStrategy.
func NewExponentialDelayStrategy(baseDelay time.Duration, maxDelay time.Duration, factor float64) *ExponentialDelayStrategy {
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if factor < 1 {
		factor = DefaultBackoffFactor
	}
	return &ExponentialDelayStrategy{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		Factor:    factor,
		attempts:  make(map[string]uint32),
	}
}

// GetConnectWaitDuration returns the next delay for key and counts the attempt.
func (strategy *ExponentialDelayStrategy) GetConnectWaitDuration(key string) (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}

	strategy.lock.Lock()
	defer strategy.lock.Unlock()

	if key == "" {
		key = "_default"
	}
	if strategy.attempts == nil {
		strategy.attempts = make(map[string]uint32)
	}

	attempt := strategy.attempts[key]
	if strategy.MaxAttempts > 0 && int(attempt) >= strategy.MaxAttempts {
		return 0, NewError(TimedOutError, "reconnect attempts exhausted for", key)
	}
	strategy.attempts[key] = attempt + 1

	delay := float64(strategy.BaseDelay) * math.Pow(strategy.Factor, float64(attempt))
	if delay > float64(strategy.MaxDelay) {
		delay = float64(strategy.MaxDelay)
	}
	if strategy.Jitter > 0 {
		delay *= 1 + strategy.Jitter*(rand.Float64()*2-1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay), nil
}

// Reset clears the attempt counters of every key.
func (strategy *ExponentialDelayStrategy) Reset() {
	if strategy == nil {
		return
	}
	strategy.lock.Lock()
	strategy.attempts = make(map[string]uint32)
	strategy.lock.Unlock()
}
