// Package ratelimit throttles form submissions per client with a token
// bucket per key.
package ratelimit

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// Config configures the rate limit middleware.
type Config struct {
	// Rate is the sustained number of requests per second per key.
	Rate rate.Limit
	// Burst is the number of requests a key may make at once.
	Burst int
	// CleanupInterval is how often idle keys are dropped. Keys idle for
	// twice the interval are removed.
	CleanupInterval time.Duration
	// KeyGenerator picks the bucket of a request. Defaults to the client IP.
	KeyGenerator func(c *fiber.Ctx) string
	// LimitReached renders the rejection.
	LimitReached fiber.Handler
	// Next skips the middleware when it returns true.
	Next func(c *fiber.Ctx) bool
	// OnLimited is called for every rejected request.
	OnLimited func(c *fiber.Ctx, key string)
}

// ConfigDefault allows 10 submissions per minute with a burst of 5.
var ConfigDefault = Config{
	Rate:            rate.Limit(10.0 / 60.0),
	Burst:           5,
	CleanupInterval: 5 * time.Minute,
	KeyGenerator: func(c *fiber.Ctx) string {
		return c.IP()
	},
	LimitReached: func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusTooManyRequests).SendString("Too many requests, try again later")
	},
}

func configDefault(config ...Config) Config {
	if len(config) < 1 {
		return ConfigDefault
	}

	cfg := config[0]
	if cfg.Rate <= 0 {
		cfg.Rate = ConfigDefault.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = ConfigDefault.Burst
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = ConfigDefault.CleanupInterval
	}
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = ConfigDefault.KeyGenerator
	}
	if cfg.LimitReached == nil {
		cfg.LimitReached = ConfigDefault.LimitReached
	}
	return cfg
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	cfg  Config
	now  func() time.Time
	mu   sync.Mutex
	keys map[string]*entry
	stop chan struct{}
	once sync.Once
}

// NewLimiter creates a Limiter and starts its cleanup loop. Call Stop to
// end the loop.
func NewLimiter(config ...Config) *Limiter {
	l := &Limiter{
		cfg:  configDefault(config...),
		now:  time.Now,
		keys: make(map[string]*entry),
		stop: make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// New creates the middleware with its own Limiter.
func New(config ...Config) fiber.Handler {
	return NewLimiter(config...).Handler()
}

// Handler returns the fiber middleware.
func (l *Limiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if l.cfg.Next != nil && l.cfg.Next(c) {
			return c.Next()
		}

		key := l.cfg.KeyGenerator(c)
		if l.Allow(key) {
			return c.Next()
		}

		if l.cfg.OnLimited != nil {
			l.cfg.OnLimited(c, key)
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter(l.cfg.Rate)))
		return l.cfg.LimitReached(c)
	}
}

// Allow takes a token from the bucket of key.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.cfg.Rate, l.cfg.Burst)}
		l.keys[key] = e
	}
	now := l.now()
	e.lastAccess = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// Stop ends the cleanup loop.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	ttl := l.cfg.CleanupInterval * 2
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.keys {
		if now.Sub(e.lastAccess) > ttl {
			delete(l.keys, key)
		}
	}
}

// retryAfter is the number of seconds until one token is back.
func retryAfter(r rate.Limit) int {
	if r <= 0 {
		return 60
	}
	secs := int(math.Ceil(1.0/float64(r) - 1e-9))
	if secs < 1 {
		secs = 1
	}
	return secs
}
