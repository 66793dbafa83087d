package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrAttemptsUnavailable indicates the tracker backend is unreachable.
	ErrAttemptsUnavailable = errors.New("attempt tracker backend unavailable")
)

// Attempt types tracked independently for the same (email, ip).
const (
	AttemptLogin  = "login"
	AttemptSignup = "signup"
	AttemptOTP    = "otp"
)

// AttemptTypes lists every tracked type in lookup order.
var AttemptTypes = []string{AttemptLogin, AttemptSignup, AttemptOTP}

// Scope selects which parts of the caller identity form the counter key.
type Scope int

const (
	// ScopeEmailIP keys counters by (email, ip).
	ScopeEmailIP Scope = iota
	// ScopeEmail keys counters by email alone.
	ScopeEmail
)

// AttemptsConfig holds lockout policy.
type AttemptsConfig struct {
	Threshold int
	LockFor   time.Duration
	RecordTTL time.Duration
	Scope     Scope
}

// recordAttemptLua upserts the counter, stamps the first-failure time and the
// absolute TTL on creation, and sets the lock deadline once the threshold is
// reached.
// KEYS[1] = counter key
// ARGV[1] = now (unix ms), ARGV[2] = threshold, ARGV[3] = lock (ms)
// ARGV[4] = record TTL (ms), ARGV[5] = user agent
//
// Returns {attemptCount, lockedUntil (unix ms, 0 when not locked)}.
var recordAttemptLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local created = redis.call('HSETNX', KEYS[1], 'created', now)
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('HSET', KEYS[1], 'last', now, 'ua', ARGV[5])
if created == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
local lockedUntil = 0
if count >= tonumber(ARGV[2]) then
  lockedUntil = now + tonumber(ARGV[3])
  redis.call('HSET', KEYS[1], 'locked_until', lockedUntil)
end
return {count, lockedUntil}
`)

// AttemptState is a snapshot of one counter.
type AttemptState struct {
	Type          string
	AttemptCount  int
	LastAttemptAt time.Time
	Locked        bool
	LockedUntil   time.Time
}

// AttemptTracker counts failed authentication attempts in Redis.
type AttemptTracker struct {
	redis  redis.UniversalClient
	prefix string
	config AttemptsConfig
	now    func() time.Time
}

func NewAttemptTracker(redisClient redis.UniversalClient, prefix string, cfg AttemptsConfig) *AttemptTracker {
	if prefix == "" {
		prefix = "cafe"
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.LockFor <= 0 {
		cfg.LockFor = 15 * time.Minute
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = 24 * time.Hour
	}
	return &AttemptTracker{
		redis:  redisClient,
		prefix: prefix,
		config: cfg,
		now:    time.Now,
	}
}

// WithClock swaps the time source. Tests only.
func (t *AttemptTracker) WithClock(now func() time.Time) *AttemptTracker {
	t.now = now
	return t
}

func (t *AttemptTracker) key(email, ip, kind string) string {
	if t.config.Scope == ScopeEmail || ip == "" {
		ip = "-"
	}
	return t.prefix + ":fa:" + kind + ":" + email + ":" + ip
}

// IsLocked returns the active lock with the latest deadline across all
// attempt types for (email, ip), or nil when none is active.
func (t *AttemptTracker) IsLocked(ctx context.Context, email, ip string) (*AttemptState, error) {
	if t == nil {
		return nil, nil
	}

	cmds := make([]*redis.SliceCmd, len(AttemptTypes))
	_, err := t.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, kind := range AttemptTypes {
			cmds[i] = p.HMGet(ctx, t.key(email, ip, kind), "count", "last", "locked_until")
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}

	now := t.now()
	var active *AttemptState
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
		}
		state := decodeAttemptState(AttemptTypes[i], vals)
		if !state.LockedUntil.After(now) {
			continue
		}
		state.Locked = true
		if active == nil || state.LockedUntil.After(active.LockedUntil) {
			s := state
			active = &s
		}
	}
	return active, nil
}

// Record charges one failed attempt of the given type. The returned state
// reports whether this failure triggered (or extended) a lock.
func (t *AttemptTracker) Record(ctx context.Context, email, ip, userAgent, kind string) (AttemptState, error) {
	if t == nil {
		return AttemptState{}, nil
	}

	now := t.now()
	res, err := recordAttemptLua.Run(ctx, t.redis,
		[]string{t.key(email, ip, kind)},
		now.UnixMilli(),
		t.config.Threshold,
		t.config.LockFor.Milliseconds(),
		t.config.RecordTTL.Milliseconds(),
		userAgent,
	).Int64Slice()
	if err != nil {
		return AttemptState{}, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	if len(res) != 2 {
		return AttemptState{}, fmt.Errorf("%w: unexpected record result", ErrAttemptsUnavailable)
	}

	state := AttemptState{
		Type:          kind,
		AttemptCount:  int(res[0]),
		LastAttemptAt: now,
	}
	if res[1] > 0 {
		state.Locked = true
		state.LockedUntil = time.UnixMilli(res[1])
	}
	return state, nil
}

// Clear deletes the counters of the given types for (email, ip). With no
// types every counter for the pair is removed.
func (t *AttemptTracker) Clear(ctx context.Context, email, ip string, kinds ...string) error {
	if t == nil {
		return nil
	}
	if len(kinds) == 0 {
		kinds = AttemptTypes
	}

	keys := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		keys = append(keys, t.key(email, ip, kind))
	}
	if err := t.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	return nil
}

// Count returns the current attempt count for one type.
func (t *AttemptTracker) Count(ctx context.Context, email, ip, kind string) (int, error) {
	if t == nil {
		return 0, nil
	}

	count, err := t.redis.HGet(ctx, t.key(email, ip, kind), "count").Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	return count, nil
}

func decodeAttemptState(kind string, vals []interface{}) AttemptState {
	state := AttemptState{Type: kind}
	if len(vals) != 3 {
		return state
	}
	state.AttemptCount = int(parseInt(vals[0]))
	if last := parseInt(vals[1]); last > 0 {
		state.LastAttemptAt = time.UnixMilli(last)
	}
	if until := parseInt(vals[2]); until > 0 {
		state.LockedUntil = time.UnixMilli(until)
	}
	return state
}

func parseInt(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
