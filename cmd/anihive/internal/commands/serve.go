package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/anihive/anihive"
	"github.com/anihive/anihive/i18n"
	"github.com/anihive/anihive/identity"
	"github.com/anihive/anihive/logger"
	"github.com/anihive/anihive/metrics"
	"github.com/anihive/anihive/middleware/proxy"
	"github.com/anihive/anihive/middleware/ratelimit"
	"github.com/anihive/anihive/storage/redisstore"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/template/django/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type ServeCmd struct {
	Listen        string        `help:"HTTP server listen address" default:"0.0.0.0:3000" env:"ANIHIVE_LISTEN"`
	SecureCookies bool          `help:"mark cookies as secure" default:"false" env:"ANIHIVE_SECURE_COOKIES"`
	LoginWall     bool          `help:"send anonymous visitors of non public pages to the login page" default:"false" env:"ANIHIVE_LOGIN_WALL"`
	SessionTTL    time.Duration `help:"browser session TTL" default:"24h" env:"ANIHIVE_SESSION_TTL"`
	MountWait     time.Duration `help:"how long a page waits for the session and profile" default:"3s" env:"ANIHIVE_MOUNT_WAIT"`

	Identity  IdentityFlags  `embed:"" prefix:"identity-"`
	Locale    LocaleFlags    `embed:"" prefix:"locale-"`
	RateLimit RateLimitFlags `embed:"" prefix:"ratelimit-"`

	// Profile source
	Profiles string        `help:"profile source (rest or database)" default:"rest" env:"ANIHIVE_PROFILES" enum:"rest,database"`
	Database DatabaseFlags `embed:"" prefix:"db-"`

	RedisURL string `help:"Redis URL for browser sessions, memory when empty" default:"" env:"ANIHIVE_REDIS_URL"`
}

type IdentityFlags struct {
	URL             string `help:"identity service URL" env:"ANIHIVE_IDENTITY_URL"`
	APIKey          string `help:"identity service publishable key" env:"ANIHIVE_IDENTITY_API_KEY"`
	EmailRedirectTo string `help:"URL linked from confirmation emails" default:"" env:"ANIHIVE_IDENTITY_EMAIL_REDIRECT"`
	JWTSecret       string `help:"HMAC secret of access tokens" default:"" env:"ANIHIVE_IDENTITY_JWT_SECRET"`
	JWKSURL         string `help:"JWKS endpoint of access tokens" default:"" env:"ANIHIVE_IDENTITY_JWKS_URL"`
}

func (f *IdentityFlags) Validate() error {
	if f.URL == "" {
		return errors.New("identity service URL is required (--identity-url or ANIHIVE_IDENTITY_URL)")
	}
	if f.APIKey == "" {
		return errors.New("identity service key is required (--identity-api-key or ANIHIVE_IDENTITY_API_KEY)")
	}
	return nil
}

type LocaleFlags struct {
	Supported []string `help:"supported locales" default:"en,ua" env:"ANIHIVE_LOCALES"`
	Default   string   `help:"default locale" default:"ua" env:"ANIHIVE_DEFAULT_LOCALE"`
	Mode      string   `help:"locale prefix mode" default:"never" env:"ANIHIVE_LOCALE_MODE" enum:"never,always,as-needed"`
}

type RateLimitFlags struct {
	PerMinute float64 `help:"form submissions per minute per client" default:"10" env:"ANIHIVE_RATELIMIT_PER_MINUTE"`
	Burst     int     `help:"form submissions a client may make at once" default:"5" env:"ANIHIVE_RATELIMIT_BURST"`
}

func (s *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	app, cleanup, err := s.buildApp(ctx, log, globals)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", s.Listen).Msg("Listening for HTTP connections")
		errCh <- app.Listen(s.Listen)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}

func (s *ServeCmd) buildApp(ctx context.Context, log zerolog.Logger, globals *Globals) (*fiber.App, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if err := s.Identity.Validate(); err != nil {
		return nil, cleanup, err
	}

	routing, err := i18n.New(i18n.Config{
		Locales:       s.Locale.Supported,
		DefaultLocale: s.Locale.Default,
		Mode:          i18n.PrefixMode(s.Locale.Mode),
		CookieName:    i18n.DefaultCookieName,
		Aliases:       map[string]string{"ua": "uk"},
	})
	if err != nil {
		return nil, cleanup, err
	}

	translator, err := i18n.NewTranslator(routing)
	if err != nil {
		return nil, cleanup, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	verifier, stopJWKS, err := s.verifier(log)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, stopJWKS)

	storage, closeStorage, err := s.sessionStorage(ctx)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	closers = append(closers, closeStorage)

	profiles, closeProfiles, err := s.profileSource()
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	closers = append(closers, closeProfiles)

	sessions := session.New(session.Config{
		Storage:           storage,
		Expiration:        s.SessionTTL,
		KeyLookup:         "cookie:hive_session",
		CookieSecure:      s.SecureCookies,
		CookieHTTPOnly:    true,
		CookieSameSite:    fiber.CookieSameSiteLaxMode,
		CookieSessionOnly: true,
	})

	engine := django.NewFileSystem(http.FS(anihive.GetViewsFS()), ".html")
	engine.Reload(globals.Debug)

	app := fiber.New(fiber.Config{
		AppName:               "anihive",
		Views:                 engine,
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.Requests(log))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", metrics.Handler(registry))

	factory := &identity.Factory{
		Config: identity.Config{
			URL:             s.Identity.URL,
			APIKey:          s.Identity.APIKey,
			EmailRedirectTo: s.Identity.EmailRedirectTo,
		},
		Cookie:  identity.CookieConfig{Secure: s.SecureCookies},
		Options: []identity.Option{identity.WithObserver(collector.IdentityObserver())},
	}
	app.Use(factory.Middleware())

	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "form:_csrf",
		CookieName:     "hive_csrf",
		CookieSecure:   s.SecureCookies,
		CookieHTTPOnly: true,
		CookieSameSite: fiber.CookieSameSiteLaxMode,
		ContextKey:     anihive.CSRFContextKey,
	}))

	app.Use(ratelimit.New(ratelimit.Config{
		Rate:  rate.Limit(s.RateLimit.PerMinute / 60),
		Burst: s.RateLimit.Burst,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() != fiber.MethodPost
		},
		OnLimited: func(c *fiber.Ctx, key string) {
			collector.RecordRateLimited()
			log.Warn().Str("key", key).Str("path", c.Path()).Msg("rate limited")
		},
	}))

	app.Use(proxy.New(proxy.Config{
		Routing:    routing,
		Policy:     proxy.Policy{LoginWall: s.LoginWall},
		Users:      proxy.IdentityUsers(verifier),
		OnDecision: collector.RecordDecision,
		OnUserError: func(c *fiber.Ctx, err error) {
			log.Debug().Err(err).Str("path", c.Path()).Msg("treating request as anonymous")
		},
		SecureCookies: s.SecureCookies,
	}))

	app.Use(anihive.MountSession(anihive.MountConfig{
		Profiles:        profiles,
		Logger:          logger.NewPrintf(log, "session"),
		WaitTimeout:     s.MountWait,
		ProfileObserver: collector.RecordProfileFetch,
	}))

	controller := anihive.RegisterAuthRoutes(app,
		anihive.WithSessionStore(sessions),
		anihive.WithRouting(routing, translator),
		anihive.WithControllerLogger(logger.NewPrintf(log, "auth")),
		anihive.WithControllerActivitySink(activityLog(log)),
		anihive.WithDebug(globals.Debug),
	)
	app.Get("/", controller.Page("home")).Name("home.get")

	return app, cleanup, nil
}

func (s *ServeCmd) verifier(log zerolog.Logger) (identity.Verifier, func(), error) {
	var verifiers []identity.Verifier
	stop := func() {}

	if s.Identity.JWTSecret != "" {
		verifiers = append(verifiers, identity.NewSecretVerifier([]byte(s.Identity.JWTSecret)))
	}
	if s.Identity.JWKSURL != "" {
		jwks, end, err := identity.NewJWKSVerifier(s.Identity.JWKSURL, func(err error) {
			log.Error().Err(err).Msg("failed to refresh JWKS")
		})
		if err != nil {
			return nil, stop, fmt.Errorf("failed to load JWKS: %w", err)
		}
		verifiers = append(verifiers, jwks)
		stop = end
	}

	if len(verifiers) == 0 {
		log.Info().Msg("no token verifier configured, sessions are checked with the identity service")
		return nil, stop, nil
	}
	return identity.NewMultiVerifier(verifiers...), stop, nil
}

// sessionStorage returns nil when no Redis URL is set, which makes the
// session middleware keep sessions in memory.
func (s *ServeCmd) sessionStorage(ctx context.Context) (fiber.Storage, func(), error) {
	if s.RedisURL == "" {
		return nil, func() {}, nil
	}

	opts, err := redis.ParseURL(s.RedisURL)
	if err != nil {
		return nil, func() {}, fmt.Errorf("invalid redis URL: %w", err)
	}

	store := redisstore.New(redis.NewClient(opts))
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, func() {}, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func (s *ServeCmd) profileSource() (anihive.ProfileSource, func(), error) {
	if s.Profiles != "database" {
		return anihive.RESTProfiles(), func() {}, nil
	}

	if err := s.Database.Validate(); err != nil {
		return nil, func() {}, err
	}
	db, err := s.Database.Open()
	if err != nil {
		return nil, func() {}, err
	}

	repos := anihive.NewRepositoryManager(db)
	if err := repos.Validate(); err != nil {
		_ = db.Close()
		return nil, func() {}, err
	}
	return anihive.StaticProfiles(repos.Profiles()), func() { _ = db.Close() }, nil
}

func activityLog(log zerolog.Logger) anihive.ActivitySink {
	return anihive.ActivitySinkFunc(func(_ context.Context, event anihive.ActivityEvent) error {
		log.Info().
			Str("event", string(event.EventType)).
			Str("user_id", event.UserID).
			Str("email", event.Email).
			Time("occurred_at", event.OccurredAt).
			Msg("auth activity")
		return nil
	})
}
