// Package ratelimit throttles per-identity actions with Redis fixed-window
// counters (INCR + EXPIRE). Every check fails open: a Redis outage never
// blocks legitimate traffic.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Vedant1607/QuickChat/internal/metrics"
)

// Rule defines a rate limiting policy: the Redis key prefix, the maximum
// number of actions in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "rl:send:"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleSend allows 30 messages per 10 seconds per identity.
	RuleSend = Rule{Key: "rl:send:", Limit: 30, Window: 10 * time.Second}

	// RuleAuth allows 10 login or signup attempts per minute per client address.
	RuleAuth = Rule{Key: "rl:auth:", Limit: 10, Window: time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client redis.Cmdable
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client redis.Cmdable) *Limiter {
	return &Limiter{client: client}
}

// Allow increments identifier's counter for rule and reports whether it is
// still within the limit. Redis errors are returned alongside true.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier
	log := logrus.WithFields(logrus.Fields{"component": "ratelimit", "key": key})

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.WithError(err).Warn("redis INCR failed, failing open")
		return true, err
	}

	// The first increment opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.WithError(err).Warn("redis EXPIRE failed, failing open")
			// A key without TTL would throttle identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	if int(count) > rule.Limit {
		metrics.RateLimited.Inc()
		return false, nil
	}
	return true, nil
}

// Remaining returns how many actions identifier has left in the current
// window. It returns the full limit when no window is open or Redis fails.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{"component": "ratelimit", "key": key}).
			WithError(err).Warn("redis GET failed, failing open")
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
