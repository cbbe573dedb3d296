// Package memory implements the store contract on process-local maps. It is
// the single-instance deployment variant: one mutex stands in for Redis's
// single-threaded execution, and expiry is checked lazily on access.
package memory

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/dkotenko/relaychat-server/internal/store"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

type bucket struct {
	tokens    float64
	ts        time.Time
	expiresAt time.Time
}

// Store is an in-process store adapter.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	values  map[string]entry
	lists   map[string][]string
	buckets map[string]bucket
}

// New builds an empty in-memory store.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock builds a store reading time from clock. Used by tests to
// drive expiry deterministically.
func NewWithClock(clock func() time.Time) *Store {
	return &Store{
		now:     clock,
		values:  make(map[string]entry),
		lists:   make(map[string][]string),
		buckets: make(map[string]bucket),
	}
}

// live returns the entry at key, dropping it first if it has expired.
func (s *Store) live(key string) (entry, bool) {
	e, ok := s.values[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.values, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) expireAt(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return "", store.ErrNotFound
	}
	return e.value, nil
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = entry{value: value, expiresAt: s.expireAt(ttl)}
	return nil
}

func (s *Store) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.values[key] = entry{value: value, expiresAt: s.expireAt(ttl)}
	return true, nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
		delete(s.lists, k)
		delete(s.buckets, k)
	}
	return nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return 0, store.ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjust(key, 1)
}

func (s *Store) Decr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjust(key, -1)
}

func (s *Store) adjust(key string, delta int64) (int64, error) {
	var n int64
	e, ok := s.live(key)
	if ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n += delta
	s.values[key] = entry{value: strconv.FormatInt(n, 10), expiresAt: e.expiresAt}
	return n, nil
}

func (s *Store) PushTrim(_ context.Context, key, value string, maxLen int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := append(s.lists[key], value)
	if maxLen > 0 && int64(len(l)) > maxLen {
		l = l[int64(len(l))-maxLen:]
	}
	s.lists[key] = l
	return nil
}

func (s *Store) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lists[key]
	n := int64(len(l))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (s *Store) TakeToken(_ context.Context, key string, capacity, refillPerSec float64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok || (!b.expiresAt.IsZero() && !s.now().Before(b.expiresAt)) {
		b = bucket{tokens: capacity, ts: now}
	}
	if elapsed := now.Sub(b.ts).Seconds(); elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed*refillPerSec)
	}
	allowed := b.tokens >= 1
	if allowed {
		b.tokens--
	}
	b.ts = now
	b.expiresAt = s.now().Add(48 * time.Hour)
	s.buckets[key] = b
	return allowed, nil
}

func (s *Store) AdmitMessage(_ context.Context, keys store.MessageKeys, p store.MessagePolicy, now time.Time) (store.Admission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.live(keys.Muted); ok {
		rem := time.Duration(0)
		if !e.expiresAt.IsZero() {
			rem = e.expiresAt.Sub(s.now())
		}
		return store.Admission{Verdict: store.VerdictMuted, MuteFor: rem}, nil
	}

	last, haveLast := s.liveInt(keys.LastTime)
	if !haveLast {
		s.values[keys.LastTime] = entry{value: strconv.FormatInt(now.UnixMilli(), 10), expiresAt: s.expireAt(p.Window)}
		return store.Admission{Verdict: store.VerdictAccepted}, nil
	}

	interval := now.UnixMilli() - last
	if interval < p.MinInterval.Milliseconds() {
		return store.Admission{Verdict: store.VerdictTooFast}, nil
	}

	count := int64(1)
	if prev, havePrev := s.liveInt(keys.LastInterval); havePrev {
		if delta := interval - prev; delta < p.Tolerance.Milliseconds() && delta > -p.Tolerance.Milliseconds() {
			if c, haveCount := s.liveInt(keys.RepeatCount); haveCount {
				count = c + 1
			} else {
				count = 2
			}
		}
	}
	exp := s.expireAt(p.Window)
	s.values[keys.LastTime] = entry{value: strconv.FormatInt(now.UnixMilli(), 10), expiresAt: exp}
	s.values[keys.LastInterval] = entry{value: strconv.FormatInt(interval, 10), expiresAt: exp}
	s.values[keys.RepeatCount] = entry{value: strconv.FormatInt(count, 10), expiresAt: exp}

	if count >= p.RepeatLimit {
		level := int64(0)
		if lvl, ok := s.liveInt(keys.MuteLevel); ok {
			level = lvl
		}
		duration := time.Duration(math.Min(
			p.MuteBase.Seconds()*math.Pow(2, float64(level)),
			p.MuteCap.Seconds())) * time.Second
		s.values[keys.Muted] = entry{value: "1", expiresAt: s.expireAt(duration)}
		s.values[keys.MuteLevel] = entry{value: strconv.FormatInt(level+1, 10), expiresAt: s.expireAt(p.LevelWindow)}
		return store.Admission{Verdict: store.VerdictMutedNow, MuteFor: duration}, nil
	}
	return store.Admission{Verdict: store.VerdictAccepted}, nil
}

func (s *Store) liveInt(key string) (int64, bool) {
	e, ok := s.live(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *Store) Wipe(_ context.Context, monthKey, month string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = map[string]entry{monthKey: {value: month}}
	s.lists = make(map[string][]string)
	s.buckets = make(map[string]bucket)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
