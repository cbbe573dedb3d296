package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("key not found")
)

// MessageKeys names the per-identity records consulted by AdmitMessage.
type MessageKeys struct {
	Muted        string
	MuteLevel    string
	LastTime     string
	LastInterval string
	RepeatCount  string
}

// MessagePolicy holds the tunables for the message admission check.
type MessagePolicy struct {
	// MinInterval is the floor between accepted messages from one identity.
	MinInterval time.Duration
	// Tolerance is how close two consecutive intervals must be to count as
	// the same cadence.
	Tolerance time.Duration
	// RepeatLimit is the cadence-repeat count that triggers a mute.
	RepeatLimit int64
	// Window bounds how long detection bookkeeping survives.
	Window time.Duration
	// MuteBase and MuteCap bound the escalating mute duration:
	// min(MuteBase * 2^level, MuteCap).
	MuteBase time.Duration
	MuteCap  time.Duration
	// LevelWindow is how long the offense level is remembered after a mute.
	LevelWindow time.Duration
}

// Verdict is the outcome of an atomic message admission check.
type Verdict int

const (
	// VerdictAccepted admits the message.
	VerdictAccepted Verdict = iota
	// VerdictTooFast rejects a message sent before MinInterval elapsed.
	VerdictTooFast
	// VerdictMuted rejects a message because a mute is already in effect.
	VerdictMuted
	// VerdictMutedNow rejects the message that triggered a new mute.
	VerdictMutedNow
)

// Admission carries a Verdict plus, for mute verdicts, the mute duration:
// the remaining time for VerdictMuted, the applied time for VerdictMutedNow.
type Admission struct {
	Verdict Verdict
	MuteFor time.Duration
}

// Store is the shared key-value store contract every component runs against.
// Operations that read-then-write state consumed by concurrent callers
// (TakeToken, AdmitMessage, SetNX, Wipe) execute as a single store-side step;
// a get-compute-set sequence in application code is not an acceptable
// substitute.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set writes value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes value at key only if the key does not exist.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
	// TTL returns the remaining lifetime of key, zero for keys without
	// expiry, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Incr and Decr atomically adjust an integer value, creating it at zero.
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	// PushTrim appends value to the list at key and trims it to the last
	// maxLen elements, as one batch.
	PushTrim(ctx context.Context, key, value string, maxLen int64) error
	// Range returns list elements between start and stop inclusive;
	// negative indexes count from the tail.
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
	// TakeToken refills the token bucket at key up to capacity at
	// refillPerSec, then consumes one token if at least one is available.
	// Refill, clamp, and consume happen as a single atomic step.
	TakeToken(ctx context.Context, key string, capacity, refillPerSec float64, now time.Time) (bool, error)
	// AdmitMessage runs the rate gate, cadence detection, and mute
	// escalation for one message attempt as a single atomic step.
	AdmitMessage(ctx context.Context, keys MessageKeys, p MessagePolicy, now time.Time) (Admission, error)
	// Wipe flushes the entire store and writes month at monthKey as one
	// atomic batch, so concurrent coordinators cannot observe a flushed
	// store without the marker.
	Wipe(ctx context.Context, monthKey, month string) error
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}
