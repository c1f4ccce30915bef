package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	// DefaultCookieName holds the encoded session.
	DefaultCookieName = "hive-auth-token"

	cookiePrefix   = "base64-"
	maxChunkSize   = 3180
	maxChunkCount  = 8
	localsClientID = "identity.client"
)

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name     string
	Domain   string
	Path     string
	MaxAge   time.Duration
	Secure   bool
	SameSite string
}

// DefaultCookieConfig returns the cookie settings used when none are given.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:     DefaultCookieName,
		Path:     "/",
		MaxAge:   400 * 24 * time.Hour,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
}

func (c CookieConfig) withDefaults() CookieConfig {
	def := DefaultCookieConfig()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.MaxAge == 0 {
		c.MaxAge = def.MaxAge
	}
	if c.SameSite == "" {
		c.SameSite = def.SameSite
	}
	return c
}

// CookieStorage keeps the session in request cookies. Reads come from the
// incoming request; writes are buffered and copied onto the response by
// Apply, so they survive redirects issued further down the chain.
type CookieStorage struct {
	cfg CookieConfig

	mu       sync.Mutex
	session  *Session
	loadErr  error
	dirty    bool
	incoming []string
}

// NewCookieStorage decodes the session from the incoming cookies. lookup
// returns the value of a request cookie or an empty string.
func NewCookieStorage(cfg CookieConfig, lookup func(name string) string) *CookieStorage {
	s := &CookieStorage{cfg: cfg.withDefaults()}

	raw := lookup(s.cfg.Name)
	if raw != "" {
		s.incoming = append(s.incoming, s.cfg.Name)
	} else {
		var b strings.Builder
		for i := 0; i < maxChunkCount; i++ {
			name := chunkName(s.cfg.Name, i)
			part := lookup(name)
			if part == "" {
				break
			}
			b.WriteString(part)
			s.incoming = append(s.incoming, name)
		}
		raw = b.String()
	}

	if raw != "" {
		s.session, s.loadErr = DecodeSessionCookie(raw)
	}

	return s
}

func (s *CookieStorage) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.session == nil {
		return nil, nil
	}
	cp := *s.session
	return &cp, nil
}

func (s *CookieStorage) Save(session *Session) error {
	if session == nil {
		return s.Clear()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.session = &cp
	s.loadErr = nil
	s.dirty = true
	return nil
}

func (s *CookieStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	s.loadErr = nil
	s.dirty = true
	return nil
}

// Dirty reports whether the session changed during the request.
func (s *CookieStorage) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Cookies returns the cookies that carry the pending change, including
// expired ones for stale chunks. It returns nil when nothing changed.
func (s *CookieStorage) Cookies(now time.Time) ([]*fiber.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil, nil
	}

	var values []string
	if s.session != nil {
		encoded, err := EncodeSessionCookie(s.session)
		if err != nil {
			return nil, err
		}
		values = splitChunks(encoded)
	}

	out := make([]*fiber.Cookie, 0, len(values)+len(s.incoming))
	written := map[string]bool{}

	switch {
	case len(values) == 1:
		out = append(out, s.cookie(s.cfg.Name, values[0], now))
		written[s.cfg.Name] = true
	case len(values) > 1:
		for i, v := range values {
			name := chunkName(s.cfg.Name, i)
			out = append(out, s.cookie(name, v, now))
			written[name] = true
		}
	}

	for _, name := range s.incoming {
		if !written[name] {
			out = append(out, s.expired(name))
		}
	}

	return out, nil
}

// Apply writes the pending change onto the response.
func (s *CookieStorage) Apply(c *fiber.Ctx) error {
	cookies, err := s.Cookies(time.Now())
	if err != nil {
		return err
	}
	for _, cookie := range cookies {
		c.Cookie(cookie)
	}
	return nil
}

func (s *CookieStorage) cookie(name, value string, now time.Time) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     s.cfg.Path,
		Domain:   s.cfg.Domain,
		MaxAge:   int(s.cfg.MaxAge.Seconds()),
		Expires:  now.Add(s.cfg.MaxAge),
		Secure:   s.cfg.Secure,
		HTTPOnly: true,
		SameSite: s.cfg.SameSite,
	}
}

func (s *CookieStorage) expired(name string) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     s.cfg.Path,
		Domain:   s.cfg.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   s.cfg.Secure,
		HTTPOnly: true,
		SameSite: s.cfg.SameSite,
	}
}

func chunkName(name string, i int) string {
	return name + "." + strconv.Itoa(i)
}

func splitChunks(v string) []string {
	if len(v) <= maxChunkSize {
		return []string{v}
	}
	var out []string
	for len(v) > 0 {
		n := maxChunkSize
		if n > len(v) {
			n = len(v)
		}
		out = append(out, v[:n])
		v = v[n:]
	}
	return out
}

// cookieSession is the subset of Session persisted in the cookie.
type cookieSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// EncodeSessionCookie serializes a session into a cookie value.
func EncodeSessionCookie(s *Session) (string, error) {
	if s == nil {
		return "", nil
	}
	var user *User
	if s.User != nil {
		user = &User{
			ID:               s.User.ID,
			Email:            s.User.Email,
			Role:             s.User.Role,
			EmailConfirmedAt: s.User.EmailConfirmedAt,
		}
	}
	raw, err := json.Marshal(cookieSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresAt:    s.ExpiresAt,
		User:         user,
	})
	if err != nil {
		return "", fmt.Errorf("identity: encode session cookie: %w", err)
	}
	return cookiePrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeSessionCookie parses a cookie value produced by EncodeSessionCookie.
func DecodeSessionCookie(v string) (*Session, error) {
	if !strings.HasPrefix(v, cookiePrefix) {
		return nil, fmt.Errorf("identity: unknown session cookie format")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(v, cookiePrefix))
	if err != nil {
		return nil, fmt.Errorf("identity: decode session cookie: %w", err)
	}
	var cs cookieSession
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, fmt.Errorf("identity: decode session cookie: %w", err)
	}
	if cs.AccessToken == "" {
		return nil, nil
	}
	return &Session{
		AccessToken:  cs.AccessToken,
		RefreshToken: cs.RefreshToken,
		TokenType:    cs.TokenType,
		ExpiresAt:    cs.ExpiresAt,
		User:         cs.User,
	}, nil
}

// Factory builds one Client per request, bound to the request cookies.
type Factory struct {
	Config  Config
	Cookie  CookieConfig
	Options []Option
}

// Middleware attaches a request scoped Client to the fiber context and
// copies session cookie changes onto whatever response the chain returns.
func (f *Factory) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		storage := NewCookieStorage(f.Cookie, func(name string) string {
			return strings.Clone(c.Cookies(name))
		})

		opts := make([]Option, 0, len(f.Options)+1)
		opts = append(opts, f.Options...)
		opts = append(opts, WithStorage(storage))

		c.Locals(localsClientID, New(f.Config, opts...))

		err := c.Next()
		if applyErr := storage.Apply(c); applyErr != nil && err == nil {
			err = applyErr
		}
		return err
	}
}

// FromFiber returns the Client attached by Factory.Middleware.
func FromFiber(c *fiber.Ctx) (*Client, bool) {
	client, ok := c.Locals(localsClientID).(*Client)
	return client, ok && client != nil
}
