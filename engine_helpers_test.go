package cafeauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	testIP        = "203.0.113.9"
	testUserAgent = "cafe-test/1.0"
)

var testSecret = []byte("cafeauth-test-secret-0123456789abcdef")

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// mockStore is a CredentialStore with the same uniqueness rules as the real
// ones.
type mockStore struct {
	mu        sync.Mutex
	byID      map[string]Principal
	updateErr error
}

func newMockStore() *mockStore {
	return &mockStore{byID: map[string]Principal{}}
}

func (m *mockStore) FindByEmail(_ context.Context, t PrincipalType, email string) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.Type == t && strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return Principal{}, ErrNotFound
}

func (m *mockStore) FindByUsername(_ context.Context, t PrincipalType, username string) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.Type == t && p.Username != "" && strings.EqualFold(p.Username, username) {
			return p, nil
		}
	}
	return Principal{}, ErrNotFound
}

func (m *mockStore) FindByID(_ context.Context, id string) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (m *mockStore) Create(_ context.Context, p Principal) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Type != p.Type {
			continue
		}
		if strings.EqualFold(existing.Email, p.Email) ||
			(p.Username != "" && strings.EqualFold(existing.Username, p.Username)) {
			return Principal{}, ErrConflict
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.byID[p.ID] = p
	return p, nil
}

func (m *mockStore) Update(_ context.Context, id string, upd PrincipalUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	p, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if upd.PasswordHash != nil {
		p.PasswordHash = *upd.PasswordHash
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	if upd.ClearRememberedUntil {
		p.RememberedUntil = nil
	} else if upd.RememberedUntil != nil {
		ts := *upd.RememberedUntil
		p.RememberedUntil = &ts
	}
	if upd.LastLoginAt != nil {
		ts := *upd.LastLoginAt
		p.LastLoginAt = &ts
	}
	m.byID[id] = p
	return nil
}

func (m *mockStore) get(t *testing.T, id string) Principal {
	t.Helper()
	p, err := m.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// mockNotifier records every notification and can be told to fail.
type mockNotifier struct {
	mu   sync.Mutex
	sent []Notification
	fail bool
}

func (n *mockNotifier) Send(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("smtp: connection refused")
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *mockNotifier) lastCode(t *testing.T, email, purpose string) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Email == email && n.sent[i].Purpose == purpose {
			return n.sent[i].Payload["code"]
		}
	}
	t.Fatalf("no %s code sent to %s", purpose, email)
	return ""
}

func (n *mockNotifier) count(purpose string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, msg := range n.sent {
		if msg.Purpose == purpose {
			c++
		}
	}
	return c
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type engineHarness struct {
	t        *testing.T
	mr       *miniredis.Miniredis
	store    *mockStore
	notifier *mockNotifier
	clock    *testClock
	sink     *ChannelSink
	engine   *Engine
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.PrivateKey = append([]byte(nil), testSecret...)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Redis.Prefix = "test"
	return cfg
}

func newEngineHarness(t *testing.T, mutate ...func(*Config)) *engineHarness {
	t.Helper()

	mr, rdb := newTestRedis(t)
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	h := &engineHarness{
		t:        t,
		mr:       mr,
		store:    newMockStore(),
		notifier: &mockNotifier{},
		clock:    &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		sink:     NewChannelSink(256),
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(h.store).
		WithNotifier(h.notifier).
		WithAuditSink(h.sink).
		WithClock(h.clock.Now).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	h.engine = engine
	return h
}

func (h *engineHarness) ctx() context.Context {
	return WithUserAgent(WithClientIP(context.Background(), testIP), testUserAgent)
}

// advance moves the engine clock and Redis key expiry together.
func (h *engineHarness) advance(d time.Duration) {
	h.clock.mu.Lock()
	h.clock.now = h.clock.now.Add(d)
	h.clock.mu.Unlock()
	h.mr.FastForward(d)
}

func (h *engineHarness) addPrincipal(t PrincipalType, email, pw string, role Role) Principal {
	h.t.Helper()

	hash, err := h.engine.passwordHash.Hash(pw)
	require.NoError(h.t, err)
	p, err := h.store.Create(context.Background(), Principal{
		Type:         t,
		Email:        email,
		FullName:     "Test " + string(role),
		PasswordHash: hash,
		Role:         role,
		Status:       StatusActive,
		CreatedAt:    h.clock.Now(),
	})
	require.NoError(h.t, err)
	return p
}

func (h *engineHarness) addAdmin(email, pw string, role Role) Principal {
	return h.addPrincipal(PrincipalAdmin, email, pw, role)
}

func (h *engineHarness) addCustomer(email, pw string) Principal {
	return h.addPrincipal(PrincipalUser, email, pw, RoleCustomer)
}

func (h *engineHarness) wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func (h *engineHarness) signupRequest(email string) SignupRequest {
	return SignupRequest{
		Email:    email,
		Username: "latte_lover",
		FullName: "Latte Lover",
		Phone:    "+1 555 010 2030",
		Password: "flat-white-99",
	}
}
