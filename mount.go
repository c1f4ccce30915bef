package anihive

import (
	"context"
	"time"

	"github.com/anihive/anihive/identity"
	"github.com/anihive/anihive/middleware/proxy"
	"github.com/gofiber/fiber/v2"
)

// MountConfig configures MountSession.
type MountConfig struct {
	// Profiles picks the profile source of a request. Nil disables
	// profile loading.
	Profiles ProfileSource
	Logger   Logger
	// WaitTimeout bounds how long a request waits for the session and
	// profile to settle before rendering with what is known.
	WaitTimeout     time.Duration
	ProfileObserver ProfileObserver
	// Next skips the middleware when it returns true.
	Next func(c *fiber.Ctx) bool
}

const defaultMountWait = 3 * time.Second

func mountConfigDefault(cfg MountConfig) MountConfig {
	if cfg.Logger == nil {
		cfg.Logger = defLogger{}
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultMountWait
	}
	return cfg
}

// MountSession gives every request its own AuthStore, kept in sync with the
// request scoped identity client by a Bootstrapper that lives as long as
// the request. It must run after identity.Factory.Middleware.
func MountSession(config ...MountConfig) fiber.Handler {
	var cfg MountConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	cfg = mountConfigDefault(cfg)

	return func(c *fiber.Ctx) error {
		if cfg.Next != nil && cfg.Next(c) {
			return c.Next()
		}

		client, ok := identity.FromFiber(c)
		if !ok {
			cfg.Logger.Error("session mount: no identity client on the request")
			return c.Next()
		}

		var profiles ProfileFinder
		if cfg.Profiles != nil {
			profiles = cfg.Profiles(c)
		}

		store := NewAuthStore(client)
		boot := NewBootstrapper(client, store, profiles,
			WithBootstrapLogger(cfg.Logger),
			WithProfileObserver(cfg.ProfileObserver),
		)

		if err := boot.Mount(c.UserContext()); err != nil {
			return err
		}
		defer boot.Unmount()

		waitCtx, cancel := context.WithTimeout(c.UserContext(), cfg.WaitTimeout)
		if err := boot.Wait(waitCtx); err != nil {
			cfg.Logger.Debug("session mount: rendering before session settled: %v", err)
		}
		cancel()

		ctx := WithAuthStore(c.UserContext(), store)
		if match, ok := proxy.MatchFromFiber(c); ok && match.Locale != "" {
			ctx = WithLocale(ctx, match.Locale)
		}
		c.SetUserContext(ctx)
		c.Locals(StoreLocalsKey, store)

		return c.Next()
	}
}
