package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/brewline/cafeauth/internal/limiters"
	"github.com/brewline/cafeauth/internal/stores"
)

var (
	errNotReady    = errors.New("not ready")
	errAuth        = errors.New("authentication failed")
	errInactive    = errors.New("inactive")
	errDenied      = errors.New("denied")
	errOTPInvalid  = errors.New("otp invalid")
	errOTPExceeded = errors.New("otp exceeded")
	errConflict    = errors.New("conflict")
	errDispatch    = errors.New("dispatch")
	errNotFound    = errors.New("not found")
	errUnavailable = errors.New("unavailable")
	errToken       = errors.New("token invalid")
	errValidation  = errors.New("validation")
	errLocked      = errors.New("locked")
)

type lockedErr struct{ until time.Time }

func (e lockedErr) Error() string        { return "locked until " + e.until.String() }
func (e lockedErr) Is(target error) bool { return target == errLocked }

type fieldErr struct{ field, reason string }

func (e fieldErr) Error() string        { return e.field + ": " + e.reason }
func (e fieldErr) Is(target error) bool { return target == errValidation }

// memPrincipals is a minimal credential store with unique email and
// username per principal type.
type memPrincipals struct {
	mu        sync.Mutex
	byID      map[string]Principal
	createErr error
}

func newMemPrincipals() *memPrincipals {
	return &memPrincipals{byID: map[string]Principal{}}
}

func (m *memPrincipals) findByEmail(_ context.Context, ptype, email string) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.Type == ptype && strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return Principal{}, errNotFound
}

func (m *memPrincipals) findByUsername(_ context.Context, ptype, username string) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.Type == ptype && p.Username != "" && strings.EqualFold(p.Username, username) {
			return p, nil
		}
	}
	return Principal{}, errNotFound
}

func (m *memPrincipals) findByID(_ context.Context, id string) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return Principal{}, errNotFound
	}
	return p, nil
}

func (m *memPrincipals) create(_ context.Context, p Principal) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return Principal{}, m.createErr
	}
	for _, existing := range m.byID {
		if existing.Type != p.Type {
			continue
		}
		if strings.EqualFold(existing.Email, p.Email) || (p.Username != "" && strings.EqualFold(existing.Username, p.Username)) {
			return Principal{}, errConflict
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.byID[p.ID] = p
	return p, nil
}

func (m *memPrincipals) update(_ context.Context, id string, upd PrincipalUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return errNotFound
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
		t := *upd.RememberedUntil
		p.RememberedUntil = &t
	}
	if upd.LastLoginAt != nil {
		t := *upd.LastLoginAt
		p.LastLoginAt = &t
	}
	m.byID[id] = p
	return nil
}

func (m *memPrincipals) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type sentCode struct {
	email   string
	purpose string
	code    string
}

type outbox struct {
	mu          sync.Mutex
	codes       []sentCode
	notices     []sentCode
	failCodes   bool
	failNotices bool
}

func (o *outbox) dispatch(_ context.Context, email, purpose, code string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failCodes {
		return errors.New("smtp down")
	}
	o.codes = append(o.codes, sentCode{email: email, purpose: purpose, code: code})
	return nil
}

func (o *outbox) notify(_ context.Context, email, purpose string, _ map[string]string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failNotices {
		return errors.New("smtp down")
	}
	o.notices = append(o.notices, sentCode{email: email, purpose: purpose})
	return nil
}

func (o *outbox) lastCode(t *testing.T, email, purpose string) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.codes) - 1; i >= 0; i-- {
		if o.codes[i].email == email && o.codes[i].purpose == purpose {
			return o.codes[i].code
		}
	}
	t.Fatalf("no %s code sent to %s", purpose, email)
	return ""
}

func (o *outbox) codeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.codes)
}

func (o *outbox) noticeCount(purpose string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, s := range o.notices {
		if s.purpose == purpose {
			n++
		}
	}
	return n
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type issuedToken struct {
	principalID string
	ptype       string
	expiresAt   time.Time
	trusted     bool
}

type harness struct {
	mr         *miniredis.Miniredis
	deps       Deps
	principals *memPrincipals
	out        *outbox
	clock      *clock
	ledger     *stores.OTPLedger
	tracker    *limiters.AttemptTracker
	staging    *stores.SignupStaging

	mu     sync.Mutex
	tokens map[string]issuedToken
}

const testIP = "10.0.0.7"

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	h := &harness{
		mr:         mr,
		principals: newMemPrincipals(),
		out:        &outbox{},
		clock:      &clock{now: time.Now().UTC()},
		tokens:     map[string]issuedToken{},
	}
	h.ledger = stores.NewOTPLedger(rdb, "t", stores.OTPConfig{}, h.out.dispatch).WithClock(h.clock.Now)
	h.tracker = limiters.NewAttemptTracker(rdb, "t", limiters.AttemptsConfig{}).WithClock(h.clock.Now)
	h.staging = stores.NewSignupStaging(rdb, "t", 0)

	h.deps = Deps{
		Now:       h.clock.Now,
		ClientIP:  func(context.Context) string { return testIP },
		UserAgent: func(context.Context) string { return "test-agent" },

		IsLocked: func(ctx context.Context, email, ip string) (time.Time, error) {
			st, err := h.tracker.IsLocked(ctx, email, ip)
			if err != nil || st == nil {
				return time.Time{}, err
			}
			return st.LockedUntil, nil
		},
		RecordAttempt: func(ctx context.Context, email, ip, ua, kind string) (time.Time, error) {
			st, err := h.tracker.Record(ctx, email, ip, ua, kind)
			return st.LockedUntil, err
		},
		ClearAttempts: h.tracker.Clear,

		GenerateOTP:            h.ledger.Generate,
		VerifyOTP:              h.ledger.Verify,
		IncrementFailedAttempt: h.ledger.IncrementFailedAttempt,

		StageSignup:  h.staging.Stage,
		GetSignup:    h.staging.Get,
		DeleteSignup: h.staging.Delete,

		FindByEmail:     h.principals.findByEmail,
		FindByUsername:  h.principals.findByUsername,
		FindByID:        h.principals.findByID,
		CreatePrincipal: h.principals.create,
		UpdatePrincipal: h.principals.update,

		ValidatePassword: func(pw string) error {
			if len(pw) < 8 {
				return errors.New("too short")
			}
			return nil
		},
		HashPassword:   func(pw string) (string, error) { return "hash:" + pw, nil },
		VerifyPassword: func(pw, hash string) (bool, error) { return hash == "hash:"+pw, nil },

		IssueToken: h.issueToken,
		ParseToken: h.parseToken,
		Allowed: func(role, capability string) bool {
			switch capability {
			case CapAdminLogin:
				return role == "superadmin" || role == "manager" || role == "staff"
			case CapTrustedDevice:
				return role == "superadmin" || role == "manager" || role == "staff"
			case CapCustomerLogin:
				return role == RoleCustomer
			case CapPasswordReset:
				return true
			}
			return false
		},
		Notify: h.out.notify,

		Errors: Errors{
			EngineNotReady:      errNotReady,
			Authentication:      errAuth,
			AccountInactive:     errInactive,
			PermissionDenied:    errDenied,
			OTPInvalidOrExpired: errOTPInvalid,
			OTPAttemptsExceeded: errOTPExceeded,
			Conflict:            errConflict,
			DispatchFailure:     errDispatch,
			NotFound:            errNotFound,
			Unavailable:         errUnavailable,
			TokenInvalid:        errToken,
			Validation:          func(field, reason string) error { return fieldErr{field, reason} },
			Locked:              func(until time.Time) error { return lockedErr{until} },
		},
	}
	return h
}

func (h *harness) issueToken(p Principal, expiresAt time.Time, trusted bool) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tok := fmt.Sprintf("tok-%d", len(h.tokens)+1)
	h.tokens[tok] = issuedToken{principalID: p.ID, ptype: p.Type, expiresAt: expiresAt, trusted: trusted}
	return tok, nil
}

func (h *harness) parseToken(tok string) (TokenClaims, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	it, ok := h.tokens[tok]
	if !ok || !it.expiresAt.After(h.clock.Now()) {
		return TokenClaims{}, errors.New("bad token")
	}
	return TokenClaims{PrincipalID: it.principalID, PrincipalType: it.ptype, Trusted: it.trusted}, nil
}

func (h *harness) addAdmin(t *testing.T, email, password, role string) Principal {
	t.Helper()
	p, err := h.principals.create(context.Background(), Principal{
		Type:         PrincipalAdmin,
		Email:        email,
		PasswordHash: "hash:" + password,
		Role:         role,
		Status:       StatusActive,
	})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	return p
}

func (h *harness) addCustomer(t *testing.T, email, password string) Principal {
	t.Helper()
	p, err := h.principals.create(context.Background(), Principal{
		Type:         PrincipalUser,
		Email:        email,
		PasswordHash: "hash:" + password,
		Role:         RoleCustomer,
		Status:       StatusActive,
	})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return p
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
