// Package redis implements the store contract on a shared Redis instance.
// Every compare-and-mutate sequence runs as a server-side Lua script so the
// check stays atomic across server instances.
package redis

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkotenko/relaychat-server/internal/store"
)

// bucketTTLSeconds expires idle rate-limiter buckets. Two full refill
// periods of the widest bucket in use (a day) is plenty.
const bucketTTLSeconds = 2 * 24 * 60 * 60

// Store is a Redis-backed store adapter.
type Store struct {
	client *redis.Client
}

// New connects to Redis at addr and verifies the connection.
func New(ctx context.Context, addr string, db int) (*Store, error) {
	cl := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := cl.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{client: cl}, nil
}

// NewFromClient wraps an existing client. Used by tests.
func NewFromClient(cl *redis.Client) *Store {
	return &Store{client: cl}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", store.ErrNotFound
	}
	return v, err
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// go-redis passes the -2 (no key) and -1 (no expiry) replies through as
	// raw durations, without second precision applied.
	switch d {
	case time.Duration(-2):
		return 0, store.ErrNotFound
	case time.Duration(-1):
		return 0, nil
	default:
		return d, nil
	}
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *Store) Decr(ctx context.Context, key string) (int64, error) {
	return s.client.Decr(ctx, key).Result()
}

func (s *Store) PushTrim(ctx context.Context, key, value string, maxLen int64) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, value)
		p.LTrim(ctx, key, -maxLen, -1)
		return nil
	})
	return err
}

func (s *Store) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

func (s *Store) TakeToken(ctx context.Context, key string, capacity, refillPerSec float64, now time.Time) (bool, error) {
	res, err := s.eval(ctx, takeTokenScript, []string{key},
		capacity, refillPerSec, now.UnixMilli(), bucketTTLSeconds)
	if err != nil {
		return false, err
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected bucket reply %T", res)
	}
	return n == 1, nil
}

func (s *Store) AdmitMessage(ctx context.Context, keys store.MessageKeys, p store.MessagePolicy, now time.Time) (store.Admission, error) {
	res, err := s.eval(ctx, admitMessageScript,
		[]string{keys.Muted, keys.MuteLevel, keys.LastTime, keys.LastInterval, keys.RepeatCount},
		now.UnixMilli(),
		p.MinInterval.Milliseconds(),
		p.Tolerance.Milliseconds(),
		p.RepeatLimit,
		int64(p.Window.Seconds()),
		int64(p.MuteBase.Seconds()),
		int64(p.MuteCap.Seconds()),
		int64(p.LevelWindow.Seconds()))
	if err != nil {
		return store.Admission{}, err
	}
	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return store.Admission{}, fmt.Errorf("unexpected admission reply %T", res)
	}
	code, _ := reply[0].(int64)
	secs, _ := reply[1].(int64)
	adm := store.Admission{MuteFor: time.Duration(secs) * time.Second}
	switch code {
	case 0:
		adm.Verdict = store.VerdictAccepted
	case 1:
		adm.Verdict = store.VerdictTooFast
	case 2:
		adm.Verdict = store.VerdictMuted
	case 3:
		adm.Verdict = store.VerdictMutedNow
	default:
		return store.Admission{}, fmt.Errorf("unexpected admission code %d", code)
	}
	return adm, nil
}

func (s *Store) Wipe(ctx context.Context, monthKey, month string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.FlushDB(ctx)
		p.Set(ctx, monthKey, month, 0)
		return nil
	})
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

var _ store.Store = (*Store)(nil)

// script pairs a Lua program with its SHA1 so calls go through EVALSHA.
type script struct {
	src string
	sha string
}

func newScript(src string) *script {
	sum := sha1.Sum([]byte(src))
	return &script{src: src, sha: hex.EncodeToString(sum[:])}
}

// eval runs a script by SHA. Redis evicts cached programs on restart and
// SCRIPT FLUSH; on NOSCRIPT the program is reloaded and retried exactly once.
func (s *Store) eval(ctx context.Context, sc *script, keys []string, args ...interface{}) (interface{}, error) {
	res, err := s.client.EvalSha(ctx, sc.sha, keys, args...).Result()
	if err == nil || !redis.HasErrorPrefix(err, "NOSCRIPT") {
		return res, err
	}
	if _, err := s.client.ScriptLoad(ctx, sc.src).Result(); err != nil {
		return nil, fmt.Errorf("script load: %w", err)
	}
	return s.client.EvalSha(ctx, sc.sha, keys, args...).Result()
}

// takeTokenScript: refill from elapsed time, clamp to capacity, consume one
// token when available. KEYS[1] bucket hash; ARGV: capacity, refillPerSec,
// nowMillis, ttlSeconds. Returns 1 when a token was taken.
var takeTokenScript = newScript(`
local data = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end
local elapsed = (now - ts) / 1000
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * refill)
end
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', now)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
return allowed
`)

// admitMessageScript: the whole message gate in one step. KEYS: muted,
// muteLevel, lastTime, lastInterval, repeatCount. ARGV: nowMillis,
// minIntervalMillis, toleranceMillis, repeatLimit, windowSeconds,
// muteBaseSeconds, muteCapSeconds, levelWindowSeconds.
// Returns {0,0} accepted, {1,0} too fast, {2,remaining} already muted,
// {3,duration} newly muted.
var admitMessageScript = newScript(`
local now = tonumber(ARGV[1])
local minInterval = tonumber(ARGV[2])
local tolerance = tonumber(ARGV[3])
local repeatLimit = tonumber(ARGV[4])
local window = tonumber(ARGV[5])
local muteBase = tonumber(ARGV[6])
local muteCap = tonumber(ARGV[7])
local levelWindow = tonumber(ARGV[8])

local rem = redis.call('TTL', KEYS[1])
if rem > 0 then
  return {2, rem}
end

local last = tonumber(redis.call('GET', KEYS[3]))
if last == nil then
  redis.call('SET', KEYS[3], now, 'EX', window)
  return {0, 0}
end

local interval = now - last
if interval < minInterval then
  return {1, 0}
end

local prev = tonumber(redis.call('GET', KEYS[4]))
local count = 1
if prev ~= nil and math.abs(interval - prev) < tolerance then
  count = (tonumber(redis.call('GET', KEYS[5])) or 1) + 1
end
redis.call('SET', KEYS[3], now, 'EX', window)
redis.call('SET', KEYS[4], interval, 'EX', window)
redis.call('SET', KEYS[5], count, 'EX', window)

if count >= repeatLimit then
  local level = tonumber(redis.call('GET', KEYS[2])) or 0
  local duration = math.min(muteBase * 2 ^ level, muteCap)
  redis.call('SET', KEYS[1], '1', 'EX', duration)
  redis.call('SET', KEYS[2], level + 1, 'EX', levelWindow)
  return {3, duration}
end
return {0, 0}
`)
