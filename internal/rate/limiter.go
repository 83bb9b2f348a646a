// Package rate implements Redis-backed fixed-window throttles for
// credential-guessing surfaces. Counters use INCR with a conditional
// EXPIRE on the first hit of the window.
//
// Key prefixes:
//   - tl:  login attempts per principal
//   - tli: login attempts per client IP
//   - tr:  rotation attempts per refresh token lineage
package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited means the caller exhausted the attempt budget for
	// the current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps transport failures so callers can fail
	// closed without parsing driver errors.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Config holds throttle tuning parameters.
type Config struct {
	EnableIPThrottle     bool
	EnableRotateThrottle bool
	MaxLoginAttempts     int
	LoginWindow          time.Duration
	MaxRotateAttempts    int
	RotateWindow         time.Duration
}

// Limiter enforces per-principal and per-IP attempt budgets using Redis
// counters. A nil Redis client is not supported; construct the engine
// without a limiter instead.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func loginPrincipalKey(id string) string { return "tl:" + id }
func loginIPKey(ip string) string        { return "tli:" + ip }
func rotateKey(lineage string) string    { return "tr:" + lineage }

// CheckLogin reports whether the principal+IP pair is still within the
// login attempt budget. It does not consume an attempt.
func (l *Limiter) CheckLogin(ctx context.Context, principalID, ip string) error {
	if err := l.checkCounter(ctx, loginPrincipalKey(principalID), l.config.MaxLoginAttempts); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, loginIPKey(ip), l.config.MaxLoginAttempts); err != nil {
			return err
		}
	}

	return nil
}

// IncrementLogin records a failed login attempt for the principal+IP
// pair and reports ErrRateLimited once the budget is exceeded.
func (l *Limiter) IncrementLogin(ctx context.Context, principalID, ip string) error {
	count, err := l.incrementWithTTL(ctx, loginPrincipalKey(principalID), l.config.LoginWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, loginIPKey(ip), l.config.LoginWindow)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetLogin clears the failed-login counters after a successful login
// or a password change.
func (l *Limiter) ResetLogin(ctx context.Context, principalID, ip string) error {
	keys := []string{loginPrincipalKey(principalID)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// CheckRotate consumes one rotation attempt for a refresh token lineage
// and reports ErrRateLimited when the budget is exceeded.
func (l *Limiter) CheckRotate(ctx context.Context, lineage string) error {
	if !l.config.EnableRotateThrottle {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, rotateKey(lineage), l.config.RotateWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRotateAttempts) {
		return ErrRateLimited
	}

	return nil
}

// LoginAttempts returns the current counter for a principal. Missing
// keys return zero and do not reveal account existence.
func (l *Limiter) LoginAttempts(ctx context.Context, principalID string) (int, error) {
	count, err := l.redis.Get(ctx, loginPrincipalKey(principalID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count > int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: TTL is set only by the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
