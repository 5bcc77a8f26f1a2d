package falkordb

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff computes the wait before a retry.
type Backoff interface {
	// Compute returns the delay after the given number of consecutive failures.
	Compute(failures int) time.Duration

	// Bounds returns the smallest and largest delay the policy produces.
	// go-redis receives these as MinRetryBackoff and MaxRetryBackoff.
	Bounds() (min, max time.Duration)
}

// ExponentialWithJitterBackoff draws each delay uniformly from
// [0, min(Cap, Base*2^failures)].
type ExponentialWithJitterBackoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Compute implements Backoff.
func (b ExponentialWithJitterBackoff) Compute(failures int) time.Duration {
	upper := b.Cap
	if failures >= 0 && failures < 63 && b.Base <= b.Cap>>failures {
		upper = b.Base << failures
	}
	if upper <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(upper) + 1))
}

// Bounds implements Backoff.
func (b ExponentialWithJitterBackoff) Bounds() (time.Duration, time.Duration) {
	return b.Base, b.Cap
}

// ConstantBackoff waits the same duration before every retry.
type ConstantBackoff time.Duration

// Compute implements Backoff.
func (b ConstantBackoff) Compute(int) time.Duration {
	return time.Duration(b)
}

// Bounds implements Backoff.
func (b ConstantBackoff) Bounds() (time.Duration, time.Duration) {
	return time.Duration(b), time.Duration(b)
}

// NoBackoff retries immediately.
type NoBackoff struct{}

// Compute implements Backoff.
func (NoBackoff) Compute(int) time.Duration { return 0 }

// Bounds implements Backoff.
func (NoBackoff) Bounds() (time.Duration, time.Duration) { return 0, 0 }

// Retry pairs a Backoff with a maximum number of retries.
//
// The retry loop itself belongs to go-redis; Retry only describes the policy
// that is forwarded to it.
type Retry struct {
	Backoff Backoff
	Retries int
}

// DefaultRetry returns the policy used when Config.Retry is nil: exponential
// backoff with jitter, base 1s, cap 10s, 3 retries.
//
// Each call returns a new value, so clients never share retry state.
func DefaultRetry() *Retry {
	return &Retry{
		Backoff: ExponentialWithJitterBackoff{Base: time.Second, Cap: 10 * time.Second},
		Retries: 3,
	}
}

// NoRetry returns a policy that disables retries.
func NoRetry() *Retry {
	return &Retry{Backoff: NoBackoff{}}
}

// BackOff adapts the policy to a backoff.BackOff for retry loops run by this
// module (startup-node discovery). The returned value is stateful; use one per loop.
func (r *Retry) BackOff() backoff.BackOff {
	return &retryBackOff{policy: r}
}

// redisRetries converts the policy to go-redis option values. go-redis reads
// 0 as "use the default", so a disabled value is reported as -1.
func (r *Retry) redisRetries() (maxRetries int, minBackoff, maxBackoff time.Duration) {
	maxRetries = r.Retries
	if maxRetries <= 0 {
		maxRetries = -1
	}

	if r.Backoff != nil {
		minBackoff, maxBackoff = r.Backoff.Bounds()
	}
	if minBackoff <= 0 {
		minBackoff = -1
	}
	if maxBackoff <= 0 {
		maxBackoff = -1
	}
	return maxRetries, minBackoff, maxBackoff
}

type retryBackOff struct {
	policy   *Retry
	failures int
}

func (b *retryBackOff) NextBackOff() time.Duration {
	if b.failures >= b.policy.Retries {
		return backoff.Stop
	}
	var d time.Duration
	if b.policy.Backoff != nil {
		d = b.policy.Backoff.Compute(b.failures)
	}
	b.failures++
	return d
}

func (b *retryBackOff) Reset() {
	b.failures = 0
}
