// Package proxy runs in front of every page request. It resolves the
// locale, reads the identity session and redirects signed in users away
// from the auth pages.
package proxy

import (
	"time"

	"github.com/anihive/anihive/i18n"
	"github.com/anihive/anihive/identity"
	"github.com/gofiber/fiber/v2"
)

// LocalsKey holds the NavigationMatch of the request.
const LocalsKey = "navigation"

// UserLookup returns the signed in user of the request or nil.
type UserLookup func(c *fiber.Ctx) (*identity.User, error)

// Config configures the proxy middleware.
type Config struct {
	Routing *i18n.Routing
	Policy  Policy
	Matcher *Matcher
	Users   UserLookup
	// Next skips the middleware when it returns true.
	Next func(c *fiber.Ctx) bool
	// OnDecision is called once per handled request.
	OnDecision func(c *fiber.Ctx, match NavigationMatch, d Decision)
	// OnUserError is called when the session could not be read. The
	// request is then treated as anonymous.
	OnUserError func(c *fiber.Ctx, err error)
	// SecureCookies marks locale cookies as secure.
	SecureCookies bool
}

func configDefault(cfg Config) Config {
	if cfg.Routing == nil {
		cfg.Routing = i18n.MustNew(i18n.DefaultConfig())
	}
	if cfg.Policy.AuthPages == nil {
		def := DefaultPolicy()
		def.LoginWall = cfg.Policy.LoginWall
		if cfg.Policy.LoginPath != "" {
			def.LoginPath = cfg.Policy.LoginPath
		}
		if cfg.Policy.PublicPaths != nil {
			def.PublicPaths = cfg.Policy.PublicPaths
		}
		cfg.Policy = def
	}
	if cfg.Matcher == nil {
		cfg.Matcher = NewMatcher()
	}
	if cfg.Users == nil {
		cfg.Users = func(*fiber.Ctx) (*identity.User, error) { return nil, nil }
	}
	return cfg
}

// New creates the proxy middleware.
func New(config ...Config) fiber.Handler {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}
	cfg = configDefault(cfg)

	return func(c *fiber.Ctx) error {
		if cfg.Next != nil && cfg.Next(c) {
			return c.Next()
		}

		if !cfg.Matcher.Match(c.Path()) {
			return c.Next()
		}

		res := cfg.Routing.Resolve(i18n.Request{
			Path:           c.Path(),
			RawQuery:       string(c.Request().URI().QueryString()),
			Cookie:         c.Cookies(cfg.Routing.CookieName()),
			AcceptLanguage: c.Get(fiber.HeaderAcceptLanguage),
		})

		user, err := cfg.Users(c)
		if err != nil {
			if cfg.OnUserError != nil {
				cfg.OnUserError(c, err)
			}
			user = nil
		}

		match := NavigationMatch{
			Locale:                res.Locale,
			PathnameWithoutLocale: res.Pathname,
			IsAuthPage:            cfg.Policy.IsAuthPage(res.Pathname),
			IsAuthenticated:       user != nil && user.ID != "",
		}

		for _, ck := range res.Cookies {
			c.Cookie(&fiber.Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Path:     "/",
				MaxAge:   ck.MaxAge,
				Expires:  time.Now().Add(time.Duration(ck.MaxAge) * time.Second),
				Secure:   cfg.SecureCookies,
				SameSite: fiber.CookieSameSiteLaxMode,
			})
		}

		decision := Decide(match, res, cfg.Policy)
		if cfg.OnDecision != nil {
			cfg.OnDecision(c, match, decision)
		}

		if decision.Action == ActionRedirect {
			return c.Redirect(decision.Location, fiber.StatusTemporaryRedirect)
		}

		c.Locals(LocalsKey, match)
		return c.Next()
	}
}

// MatchFromFiber returns the NavigationMatch stored by the middleware.
func MatchFromFiber(c *fiber.Ctx) (NavigationMatch, bool) {
	m, ok := c.Locals(LocalsKey).(NavigationMatch)
	return m, ok
}

// IdentityUsers reads the user from the request scoped identity client,
// refreshing the session when needed. A nil verifier asks the identity
// service about the token instead of checking it locally.
func IdentityUsers(verifier identity.Verifier) UserLookup {
	return func(c *fiber.Ctx) (*identity.User, error) {
		client, ok := identity.FromFiber(c)
		if !ok {
			return nil, nil
		}

		claims, err := client.GetClaims(c.UserContext(), verifier)
		if err != nil || claims == nil {
			return nil, err
		}

		return claims.User(), nil
	}
}
