package cafeauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brewline/cafeauth/internal/audit"
	"github.com/brewline/cafeauth/internal/flows"
	"github.com/brewline/cafeauth/internal/limiters"
	"github.com/brewline/cafeauth/internal/logging"
	"github.com/brewline/cafeauth/internal/stores"
	"github.com/brewline/cafeauth/jwt"
	"github.com/brewline/cafeauth/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store     CredentialStore
	notifier  Notifier
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client holding OTP, staging and attempt records.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets the sink; Config.Audit.Enabled must also be true for
// events to flow.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock replaces the wall clock for every time decision the engine
// makes, including the Redis records it writes.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.notifier == nil {
		return nil, errors.New("notifier required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	var logger logging.Logger = logging.NewSlogLogger(b.logger)

	engine := &Engine{
		config:       cfg,
		logger:       logger,
		now:          now,
		store:        b.store,
		notifier:     b.notifier,
		capabilities: compileCapabilities(cfg.Capabilities),
		metrics:      NewMetrics(cfg.Metrics),
	}

	engine.otp = stores.NewOTPLedger(b.redis, cfg.Redis.Prefix, stores.OTPConfig{
		Digits:      cfg.OTP.Digits,
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
	}, engine.dispatchCode).WithClock(now)

	engine.staging = stores.NewSignupStaging(b.redis, cfg.Redis.Prefix, cfg.Signup.StagingTTL).WithClock(now)

	engine.attempts = limiters.NewAttemptTracker(b.redis, cfg.Redis.Prefix, limiters.AttemptsConfig{
		Threshold: cfg.Lockout.Threshold,
		LockFor:   cfg.Lockout.Duration,
		RecordTTL: cfg.Lockout.RecordTTL,
		Scope:     lockoutScope(cfg.Lockout.Scope),
	}).WithClock(now)

	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinPasswordBytes: cfg.Password.MinLength,
		MaxPasswordBytes: cfg.Password.MaxLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm.WithClock(now)

	sinkTimeout := cfg.Audit.SinkTimeout
	if sinkTimeout <= 0 {
		sinkTimeout = auditTimeout
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: sinkTimeout,
	}, b.auditSink)

	engine.flows = flows.New(engine.flowDeps())

	b.built = true

	return engine, nil
}

func lockoutScope(s LockoutScope) limiters.Scope {
	if s == LockoutScopeEmail {
		return limiters.ScopeEmail
	}
	return limiters.ScopeEmailIP
}

// dispatchCode is the OTP ledger's delivery hook.
func (e *Engine) dispatchCode(ctx context.Context, email, purpose, code string, expiresAt time.Time) error {
	return e.notifier.Send(ctx, Notification{
		Email:   email,
		Purpose: purpose,
		Payload: map[string]string{
			"code":       code,
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
		},
	})
}
