package identity

import (
	"errors"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultAudience is the audience the service stamps on user tokens.
const DefaultAudience = "authenticated"

// ErrMissingSubject is returned for tokens that do not name a user.
var ErrMissingSubject = errors.New("identity: token has no subject")

// Claims are the claims carried by a session access token.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	AAL       string `json:"aal,omitempty"`
}

// User returns the user described by the claims.
func (c *Claims) User() *User {
	if c == nil {
		return nil
	}
	return &User{ID: c.Subject, Email: c.Email, Role: c.Role}
}

func claimsFromUser(u *User) *Claims {
	if u == nil {
		return nil
	}
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: u.ID},
		Email:            u.Email,
		Role:             u.Role,
	}
}

// Verifier checks an access token locally.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// VerifierFunc adapts a function into a Verifier.
type VerifierFunc func(token string) (*Claims, error)

// Verify satisfies the Verifier interface.
func (f VerifierFunc) Verify(token string) (*Claims, error) {
	if f == nil {
		return nil, jwt.ErrTokenUnverifiable
	}
	return f(token)
}

// VerifierOption configures a JWT verifier.
type VerifierOption func(*jwtVerifier)

// WithAudience overrides DefaultAudience. An empty value disables the check.
func WithAudience(aud string) VerifierOption {
	return func(v *jwtVerifier) {
		v.audience = aud
	}
}

// WithIssuer requires tokens to carry the given issuer.
func WithIssuer(iss string) VerifierOption {
	return func(v *jwtVerifier) {
		v.issuer = iss
	}
}

// WithLeeway tolerates clock skew when checking time based claims.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *jwtVerifier) {
		v.leeway = d
	}
}

type jwtVerifier struct {
	keyfunc  jwt.Keyfunc
	methods  []string
	audience string
	issuer   string
	leeway   time.Duration
}

func newJWTVerifier(kf jwt.Keyfunc, methods []string, opts ...VerifierOption) *jwtVerifier {
	v := &jwtVerifier{
		keyfunc:  kf,
		methods:  methods,
		audience: DefaultAudience,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

func (v *jwtVerifier) Verify(token string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(v.leeway))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyfunc, parserOpts...)
	if err != nil {
		return nil, err
	}

	if !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	return claims, nil
}

// NewSecretVerifier verifies tokens signed with the legacy shared secret.
func NewSecretVerifier(secret []byte, opts ...VerifierOption) Verifier {
	kf := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return secret, nil
	}
	return newJWTVerifier(kf, []string{"HS256"}, opts...)
}

// NewJWKSVerifier verifies tokens signed with the asymmetric keys
// published at jwksURL. The returned stop func ends the background
// key refresh.
func NewJWKSVerifier(jwksURL string, onRefreshError func(error), opts ...VerifierOption) (Verifier, func(), error) {
	jwks, err := keyfunc.Get(jwksURL, jwksOptions(onRefreshError))
	if err != nil {
		return nil, func() {}, err
	}
	return newJWTVerifier(jwks.Keyfunc, []string{"ES256", "RS256"}, opts...), jwks.EndBackground, nil
}

func jwksOptions(onRefreshError func(error)) keyfunc.Options {
	return keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			if onRefreshError != nil {
				onRefreshError(err)
			}
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	}
}

// MultiVerifier tries verifiers in order. Signature and method mismatches
// move on to the next verifier; any other failure is returned at once.
type MultiVerifier struct {
	verifiers []Verifier
}

// NewMultiVerifier filters nil verifiers and returns a composite verifier.
func NewMultiVerifier(verifiers ...Verifier) *MultiVerifier {
	filtered := make([]Verifier, 0, len(verifiers))
	for _, v := range verifiers {
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	return &MultiVerifier{verifiers: filtered}
}

// Verify satisfies the Verifier interface.
func (m *MultiVerifier) Verify(token string) (*Claims, error) {
	var lastErr error
	for _, v := range m.verifiers {
		claims, err := v.Verify(token)
		if err == nil {
			return claims, nil
		}
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, jwt.ErrTokenUnverifiable
}
