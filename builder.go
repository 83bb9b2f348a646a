package trustcore

import (
	"errors"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/clinforge/trustcore/auditchain"
	"github.com/clinforge/trustcore/fieldcipher"
	internalaudit "github.com/clinforge/trustcore/internal/audit"
	"github.com/clinforge/trustcore/internal/rate"
	"github.com/clinforge/trustcore/jwt"
	"github.com/clinforge/trustcore/password"
	"github.com/clinforge/trustcore/store"
)

// Builder assembles an [Engine]. Configure it once, call Build, and
// discard it; a Builder is not reusable after Build.
type Builder struct {
	config   Config
	store    store.Store
	redis    redis.UniversalClient
	provider PrincipalProvider
	sink     AuditSink
	logger   *logrus.Logger
	clock    func() time.Time

	built bool
}

// New returns a Builder preloaded with defaults.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence backend. Required.
func (b *Builder) WithStore(st store.Store) *Builder {
	b.store = st
	return b
}

// WithRedis enables the Redis-backed rate limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPrincipalProvider sets the account lookup backend. Required.
func (b *Builder) WithPrincipalProvider(p PrincipalProvider) *Builder {
	b.provider = p
	return b
}

// WithAuditSink sets the sink that mirrors appended chain entries.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to a silent logger.
func (b *Builder) WithLogger(l *logrus.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock overrides the time source. Test hook.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build validates the configuration, constructs every component, and
// returns the ready Engine. All failures happen here, not on first use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("store is required")
	}
	if b.provider == nil {
		return nil, errors.New("principal provider is required")
	}
	if b.config.RateLimit.Enabled && b.redis == nil {
		return nil, errors.New("rate limiting requires a redis client")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     b.config.JWT.AccessTTL,
		RefreshTTL:    b.config.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(b.config.JWT.SigningMethod),
		PrivateKey:    b.config.JWT.PrivateKey,
		PublicKey:     b.config.JWT.PublicKey,
		Issuer:        b.config.JWT.Issuer,
		Leeway:        b.config.JWT.Leeway,
		TimeFunc:      clock,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	var cipher *fieldcipher.Cipher
	if len(b.config.FieldCipher.Key) > 0 {
		cipher, err = fieldcipher.New(b.config.FieldCipher.Key)
		if err != nil {
			return nil, err
		}
	}

	chain, err := auditchain.New(b.store, b.config.Audit.SigningKey, clock)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if b.config.RateLimit.Enabled {
		limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:     b.config.RateLimit.EnableIPThrottle,
			EnableRotateThrottle: b.config.RateLimit.EnableRotateThrottle,
			MaxLoginAttempts:     b.config.RateLimit.MaxLoginAttempts,
			LoginWindow:          b.config.RateLimit.LoginWindow,
			MaxRotateAttempts:    b.config.RateLimit.MaxRotateAttempts,
			RotateWindow:         b.config.RateLimit.RotateWindow,
		})
	}

	var dispatcher *internalaudit.Dispatcher
	if b.config.Audit.Enabled {
		dispatcher = internalaudit.New(b.config.Audit.BufferSize, b.config.Audit.DropIfFull, b.sink)
	}

	return &Engine{
		config:     b.config,
		store:      b.store,
		redis:      b.redis,
		provider:   b.provider,
		cipher:     cipher,
		hasher:     hasher,
		jwtManager: jwtManager,
		totp:       newTOTPManager(b.config.MFA),
		chain:      chain,
		limiter:    limiter,
		audit:      dispatcher,
		metrics:    NewMetrics(b.config.Metrics),
		logger:     logger,
		clock:      clock,
	}, nil
}
