package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrStagingNotFound    = errors.New("staged signup not found")
	ErrStagingUnavailable = errors.New("signup staging backend unavailable")
)

const stagedSignupVersionV1 = 1

// StagedSignup is an unverified registration waiting for its OTP. The
// password is already hashed when it gets here.
type StagedSignup struct {
	Version      int       `json:"v"`
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username,omitempty"`
	FullName     string    `json:"full_name,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"password_hash"`
	IP           string    `json:"ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SignupStaging keeps staged registrations keyed by (email, ip) with a hard
// TTL. Re-staging the same key replaces the record and restarts the TTL.
type SignupStaging struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewSignupStaging(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *SignupStaging {
	if prefix == "" {
		prefix = "cafe"
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SignupStaging{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock swaps the time source used for CreatedAt.
func (s *SignupStaging) WithClock(now func() time.Time) *SignupStaging {
	s.now = now
	return s
}

func (s *SignupStaging) key(email, ip string) string {
	if ip == "" {
		ip = "-"
	}
	return s.prefix + ":signup:" + email + ":" + ip
}

// Stage persists the registration and returns its staging id.
func (s *SignupStaging) Stage(ctx context.Context, rec StagedSignup) (string, error) {
	rec.Version = stagedSignupVersionV1
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStagingUnavailable, err)
	}
	if err := s.redis.Set(ctx, s.key(rec.Email, rec.IP), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStagingUnavailable, err)
	}
	return rec.ID, nil
}

// Get loads the staged registration for (email, ip).
func (s *SignupStaging) Get(ctx context.Context, email, ip string) (StagedSignup, error) {
	data, err := s.redis.Get(ctx, s.key(email, ip)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StagedSignup{}, ErrStagingNotFound
		}
		return StagedSignup{}, fmt.Errorf("%w: %v", ErrStagingUnavailable, err)
	}

	var rec StagedSignup
	if err := json.Unmarshal(data, &rec); err != nil || rec.Version != stagedSignupVersionV1 {
		// Unreadable rows are dropped; the user restarts signup.
		_ = s.redis.Del(ctx, s.key(email, ip)).Err()
		return StagedSignup{}, ErrStagingNotFound
	}
	return rec, nil
}

// Delete removes the staged registration. Deleting a missing record is not
// an error.
func (s *SignupStaging) Delete(ctx context.Context, email, ip string) error {
	if err := s.redis.Del(ctx, s.key(email, ip)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStagingUnavailable, err)
	}
	return nil
}
