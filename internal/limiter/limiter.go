// Package limiter throttles outbound calls to external enrichment
// providers with per-provider token buckets.
package limiter

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WouldBlockError reports that a provider's bucket is empty and when the
// caller should try again. Stages surface this as a transient failure;
// retry scheduling is centralized in the worker.
type WouldBlockError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *WouldBlockError) Error() string {
	return fmt.Sprintf("rate limited: provider %s, retry after %s", e.Provider, e.RetryAfter)
}

// ProviderLimit configures one provider's token bucket.
type ProviderLimit struct {
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`
}

// Limiter maintains token buckets keyed by external provider identity.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	limits   map[string]ProviderLimit
	fallback ProviderLimit
}

// New creates a Limiter with per-provider limits. Providers without an
// explicit entry get the fallback limit.
func New(limits map[string]ProviderLimit, fallback ProviderLimit) *Limiter {
	if fallback.RatePerSec <= 0 {
		fallback.RatePerSec = 5
	}
	if fallback.Burst <= 0 {
		fallback.Burst = 5
	}
	return &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		limits:   limits,
		fallback: fallback,
	}
}

// Acquire takes one token from the provider's bucket. It never blocks:
// when the bucket is empty it returns a WouldBlockError carrying the
// delay until the next token.
func (l *Limiter) Acquire(provider string) error {
	bucket := l.bucketFor(provider)

	r := bucket.Reserve()
	if !r.OK() {
		return &WouldBlockError{Provider: provider, RetryAfter: time.Second}
	}
	if delay := r.Delay(); delay > 0 {
		// Don't consume the token while refusing the call.
		r.Cancel()
		return &WouldBlockError{Provider: provider, RetryAfter: delay}
	}
	return nil
}

func (l *Limiter) bucketFor(provider string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[provider]; ok {
		return b
	}
	lim := l.fallback
	if pl, ok := l.limits[provider]; ok {
		lim = pl
	}
	b := rate.NewLimiter(rate.Limit(lim.RatePerSec), lim.Burst)
	l.buckets[provider] = b
	return b
}
