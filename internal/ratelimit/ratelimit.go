// Package ratelimit provides a distributed token-bucket limiter. The bucket
// lives in the shared store and is refilled and consumed in one atomic
// store-side step, so concurrent requests against the same key cannot both
// spend the last token.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"

	"github.com/dkotenko/relaychat-server/internal/store"
)

// Policy describes one bucket shape.
type Policy struct {
	Capacity     float64
	RefillPerSec float64
}

// PerDay is a bucket admitting bursts of n and refilling n per day.
func PerDay(n float64) Policy {
	return Policy{Capacity: n, RefillPerSec: n / (24 * 60 * 60)}
}

// RetryAfter is the wait until a denied caller can expect one token.
func (p Policy) RetryAfter() time.Duration {
	if p.RefillPerSec <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(1/p.RefillPerSec)) * time.Second
}

// Limiter evaluates token buckets against the shared store.
type Limiter struct {
	store store.Store
	now   func() time.Time
}

// New creates a limiter.
func New(st store.Store) *Limiter {
	return &Limiter{store: st, now: time.Now}
}

// Allow consumes one token from the bucket rate:{purpose}:{key}. The zero
// state of a bucket is full, so the first Capacity calls always pass.
func (l *Limiter) Allow(ctx context.Context, purpose, key string, p Policy) (bool, error) {
	return l.store.TakeToken(ctx, store.RateKey(purpose, key), p.Capacity, p.RefillPerSec, l.now())
}

// Fingerprint collapses a network origin and user agent into a stable
// bucket key so issuance limits follow the client fingerprint rather than
// the raw address alone.
func Fingerprint(origin, userAgent string) string {
	sum := sha256.Sum256([]byte(origin + "|" + userAgent))
	return hex.EncodeToString(sum[:8])
}
