// Package memory is an in-process cafeauth.CredentialStore. It backs the
// demo server and tests; data is lost when the process exits.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brewline/cafeauth"
)

var _ cafeauth.CredentialStore = (*Store)(nil)

type Store struct {
	mu   sync.RWMutex
	byID map[string]cafeauth.Principal
	now  func() time.Time
}

func New() *Store {
	return &Store{
		byID: make(map[string]cafeauth.Principal),
		now:  time.Now,
	}
}

// WithClock overrides the timestamp source for CreatedAt/UpdatedAt.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) FindByEmail(ctx context.Context, t cafeauth.PrincipalType, email string) (cafeauth.Principal, error) {
	return s.find(ctx, func(p cafeauth.Principal) bool {
		return p.Type == t && strings.EqualFold(p.Email, email)
	})
}

func (s *Store) FindByUsername(ctx context.Context, t cafeauth.PrincipalType, username string) (cafeauth.Principal, error) {
	if username == "" {
		return cafeauth.Principal{}, cafeauth.ErrNotFound
	}
	return s.find(ctx, func(p cafeauth.Principal) bool {
		return p.Type == t && strings.EqualFold(p.Username, username)
	})
}

func (s *Store) FindByID(ctx context.Context, id string) (cafeauth.Principal, error) {
	if err := ctx.Err(); err != nil {
		return cafeauth.Principal{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return cafeauth.Principal{}, cafeauth.ErrNotFound
	}
	return clonePrincipal(p), nil
}

// Create inserts p. The uniqueness check and the insert happen under one
// lock, so of two racing creates for the same email exactly one wins.
func (s *Store) Create(ctx context.Context, p cafeauth.Principal) (cafeauth.Principal, error) {
	if err := ctx.Err(); err != nil {
		return cafeauth.Principal{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.Type != p.Type {
			continue
		}
		if strings.EqualFold(existing.Email, p.Email) {
			return cafeauth.Principal{}, cafeauth.ErrConflict
		}
		if p.Username != "" && strings.EqualFold(existing.Username, p.Username) {
			return cafeauth.Principal{}, cafeauth.ErrConflict
		}
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if _, taken := s.byID[p.ID]; taken {
		return cafeauth.Principal{}, cafeauth.ErrConflict
	}
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	s.byID[p.ID] = clonePrincipal(p)
	return clonePrincipal(p), nil
}

func (s *Store) Update(ctx context.Context, id string, upd cafeauth.PrincipalUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return cafeauth.ErrNotFound
	}

	if upd.PasswordHash != nil {
		p.PasswordHash = *upd.PasswordHash
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	switch {
	case upd.ClearRememberedUntil:
		p.RememberedUntil = nil
	case upd.RememberedUntil != nil:
		p.RememberedUntil = timePtr(*upd.RememberedUntil)
	}
	if upd.LastLoginAt != nil {
		p.LastLoginAt = timePtr(*upd.LastLoginAt)
	}
	p.UpdatedAt = s.now().UTC()

	s.byID[id] = p
	return nil
}

// Len reports the number of stored principals.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) find(ctx context.Context, match func(cafeauth.Principal) bool) (cafeauth.Principal, error) {
	if err := ctx.Err(); err != nil {
		return cafeauth.Principal{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.byID {
		if match(p) {
			return clonePrincipal(p), nil
		}
	}
	return cafeauth.Principal{}, cafeauth.ErrNotFound
}

func clonePrincipal(p cafeauth.Principal) cafeauth.Principal {
	if p.RememberedUntil != nil {
		p.RememberedUntil = timePtr(*p.RememberedUntil)
	}
	if p.LastLoginAt != nil {
		p.LastLoginAt = timePtr(*p.LastLoginAt)
	}
	return p
}

func timePtr(t time.Time) *time.Time {
	return &t
}
