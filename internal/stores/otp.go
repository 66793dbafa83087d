package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/brewline/cafeauth/internal"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrOTPInvalid          = errors.New("otp invalid or expired")
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	// ErrOTPConsumed is returned when the submitted code matches a record that
	// was already redeemed. Callers use it to tell a lost race from a bad guess.
	ErrOTPConsumed       = errors.New("otp already consumed")
	ErrOTPDispatchFailed = errors.New("otp dispatch failed")
	ErrOTPUnavailable    = errors.New("otp backend unavailable")
)

// The "used" hash field is "0" while live, "1" once redeemed and "2" once
// the attempt cap burned it.
// issueOTPLua returns the live record unchanged unless forceNew is set;
// otherwise it replaces whatever is stored with a fresh record. Replacing
// the hash invalidates any previous live code for the key.
// KEYS[1] = record key
// ARGV[1] = id, ARGV[2] = code digest, ARGV[3] = expiresAt (unix ms)
// ARGV[4] = now (unix ms), ARGV[5] = forceNew ("1"/"0"), ARGV[6] = max attempts
//
// Returns {issued(0|1), id, expiresAt}.
var issueOTPLua = redis.NewScript(`
local now = tonumber(ARGV[4])
local maxAttempts = tonumber(ARGV[6])
if ARGV[5] ~= '1' then
  local f = redis.call('HMGET', KEYS[1], 'id', 'exp', 'att', 'used')
  if f[1] and f[4] == '0' and tonumber(f[2]) > now and tonumber(f[3]) < maxAttempts then
    return {0, f[1], f[2]}
  end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'code', ARGV[2], 'exp', ARGV[3], 'att', 0, 'used', '0')
redis.call('PEXPIREAT', KEYS[1], ARGV[3])
return {1, ARGV[1], ARGV[3]}
`)

// verifyOTPLua locates the record, enforces expiry and the attempt cap, and
// flips used=1 on a match. A wrong code bumps the attempt counter in the same
// script, so concurrent verifications never observe a stale counter.
// KEYS[1] = record key
// ARGV[1] = code digest, ARGV[2] = now (unix ms), ARGV[3] = max attempts
//
// Returns "ok" or an error string: not_found, expired, consumed,
// attempts_exceeded, mismatch.
var verifyOTPLua = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'code', 'exp', 'att', 'used')
if not f[1] then
  return {err='not_found'}
end
if f[4] == '2' then
  return {err='attempts_exceeded'}
end
if f[4] == '1' then
  if f[1] == ARGV[1] then
    return {err='consumed'}
  end
  return {err='not_found'}
end
if tonumber(ARGV[2]) > tonumber(f[2]) then
  return {err='expired'}
end
if tonumber(f[3]) >= tonumber(ARGV[3]) then
  redis.call('HSET', KEYS[1], 'used', '2')
  return {err='attempts_exceeded'}
end
if f[1] ~= ARGV[1] then
  redis.call('HINCRBY', KEYS[1], 'att', 1)
  return {err='mismatch'}
end
redis.call('HSET', KEYS[1], 'used', '1')
return 'ok'
`)

// bumpOTPLua increments attempts on the live record when the supplied digest
// does not match it.
// KEYS[1] = record key
// ARGV[1] = code digest, ARGV[2] = now (unix ms)
//
// Returns the new attempt count, or -1 when nothing was bumped.
var bumpOTPLua = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'code', 'exp', 'used')
if not f[1] or f[3] ~= '0' or tonumber(ARGV[2]) > tonumber(f[2]) then
  return -1
end
if f[1] == ARGV[1] then
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'att', 1)
`)

// discardOTPLua deletes the record only if it still carries the given id.
var discardOTPLua = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'id') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// OTPConfig tunes the ledger.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
}

// DispatchFunc delivers a freshly issued plaintext code to its owner.
type DispatchFunc func(ctx context.Context, email, purpose, code string, expiresAt time.Time) error

// OTPIssue describes the record that is live after Generate.
type OTPIssue struct {
	ID        string
	ExpiresAt time.Time
	// Issued is false when an existing live code was returned unchanged.
	Issued bool
}

// OTPLedger issues and verifies numeric one-time codes, one live record per
// (email, purpose).
type OTPLedger struct {
	redis    redis.UniversalClient
	prefix   string
	config   OTPConfig
	dispatch DispatchFunc
	now      func() time.Time
}

func NewOTPLedger(redisClient redis.UniversalClient, prefix string, cfg OTPConfig, dispatch DispatchFunc) *OTPLedger {
	if prefix == "" {
		prefix = "cafe"
	}
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &OTPLedger{
		redis:    redisClient,
		prefix:   prefix,
		config:   cfg,
		dispatch: dispatch,
		now:      time.Now,
	}
}

// WithClock swaps the time source. Tests only.
func (l *OTPLedger) WithClock(now func() time.Time) *OTPLedger {
	l.now = now
	return l
}

func (l *OTPLedger) key(email, purpose string) string {
	return l.prefix + ":otp:" + purpose + ":" + email
}

// Generate makes sure a live code exists for (email, purpose) and has been
// dispatched. Without forceNew a live record is returned as is and nothing
// is sent. With forceNew, or when no live record exists, a new code replaces
// the old one and is dispatched; if dispatch fails the new record is removed
// again and ErrOTPDispatchFailed is returned.
func (l *OTPLedger) Generate(ctx context.Context, email, purpose string, forceNew bool) (OTPIssue, error) {
	code, err := internal.NewOTP(l.config.Digits)
	if err != nil {
		return OTPIssue{}, fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}

	now := l.now()
	expiresAt := now.Add(l.config.TTL)
	id := uuid.NewString()
	force := "0"
	if forceNew {
		force = "1"
	}

	res, err := issueOTPLua.Run(ctx, l.redis,
		[]string{l.key(email, purpose)},
		id,
		internal.HashOTP(email, purpose, code),
		expiresAt.UnixMilli(),
		now.UnixMilli(),
		force,
		l.config.MaxAttempts,
	).Slice()
	if err != nil {
		return OTPIssue{}, fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}
	issue, err := decodeIssue(res)
	if err != nil {
		return OTPIssue{}, fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}
	if !issue.Issued {
		return issue, nil
	}

	if l.dispatch != nil {
		if err := l.dispatch(ctx, email, purpose, code, issue.ExpiresAt); err != nil {
			// No orphaned codes: a record nobody received must not stay live.
			if derr := discardOTPLua.Run(ctx, l.redis, []string{l.key(email, purpose)}, issue.ID).Err(); derr != nil {
				return OTPIssue{}, fmt.Errorf("%w: %v (rollback: %v)", ErrOTPDispatchFailed, err, derr)
			}
			return OTPIssue{}, fmt.Errorf("%w: %v", ErrOTPDispatchFailed, err)
		}
	}

	return issue, nil
}

// Verify redeems code for (email, purpose). It succeeds at most once per
// record. A wrong code counts against the record's attempt cap; once the cap
// is reached every further call, including one with the right code, fails
// with ErrOTPAttemptsExceeded.
func (l *OTPLedger) Verify(ctx context.Context, email, code, purpose string) error {
	digest := internal.HashOTP(email, purpose, code)
	res, err := verifyOTPLua.Run(ctx, l.redis,
		[]string{l.key(email, purpose)},
		digest,
		l.now().UnixMilli(),
		l.config.MaxAttempts,
	).Text()
	if err != nil {
		switch err.Error() {
		case "not_found", "expired", "mismatch":
			return ErrOTPInvalid
		case "attempts_exceeded":
			return ErrOTPAttemptsExceeded
		case "consumed":
			return ErrOTPConsumed
		default:
			return fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
		}
	}
	if res != "ok" {
		return fmt.Errorf("%w: unexpected verify result", ErrOTPUnavailable)
	}
	return nil
}

// IncrementFailedAttempt charges one attempt to the live record for
// (email, purpose) when code is not its code. It reports the new attempt
// count, or 0 when there was no live record to charge.
func (l *OTPLedger) IncrementFailedAttempt(ctx context.Context, email, code, purpose string) (int, error) {
	n, err := bumpOTPLua.Run(ctx, l.redis,
		[]string{l.key(email, purpose)},
		internal.HashOTP(email, purpose, code),
		l.now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

func decodeIssue(res []interface{}) (OTPIssue, error) {
	if len(res) != 3 {
		return OTPIssue{}, errors.New("unexpected issue result")
	}
	flag, ok := res[0].(int64)
	if !ok {
		return OTPIssue{}, errors.New("unexpected issue flag")
	}
	id, ok := res[1].(string)
	if !ok {
		return OTPIssue{}, errors.New("unexpected issue id")
	}
	var expMs int64
	switch v := res[2].(type) {
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return OTPIssue{}, err
		}
		expMs = parsed
	case int64:
		expMs = v
	default:
		return OTPIssue{}, errors.New("unexpected issue expiry")
	}
	return OTPIssue{
		ID:        id,
		ExpiresAt: time.UnixMilli(expMs),
		Issued:    flag == 1,
	}, nil
}
