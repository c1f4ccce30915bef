package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	authPath = "/auth/v1"
	restPath = "/rest/v1"

	defaultRefreshMargin = 30 * time.Second
	maxResponseBody      = 1 << 20
)

// OTPType is the kind of one time password being verified or resent.
type OTPType string

const (
	OTPSignup      OTPType = "signup"
	OTPEmail       OTPType = "email"
	OTPRecovery    OTPType = "recovery"
	OTPInvite      OTPType = "invite"
	OTPMagicLink   OTPType = "magiclink"
	OTPEmailChange OTPType = "email_change"
)

// VerifyOTPParams holds the payload of VerifyOTP.
type VerifyOTPParams struct {
	Email string  `json:"email"`
	Token string  `json:"token"`
	Type  OTPType `json:"type"`
}

// ResendParams holds the payload of Resend.
type ResendParams struct {
	Type  OTPType `json:"type"`
	Email string  `json:"email"`
}

// UserAttributes are the mutable attributes of the signed in user.
type UserAttributes struct {
	Email    string         `json:"email,omitempty"`
	Password string         `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Config holds the connection settings of the identity service.
type Config struct {
	// URL is the project URL, e.g. https://project.supabase.co
	URL string
	// APIKey is the publishable key sent with every request.
	APIKey string
	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
	// RefreshMargin is how long before expiry a session gets refreshed.
	RefreshMargin time.Duration
	// EmailRedirectTo is forwarded to sign up and recovery emails.
	EmailRedirectTo string
}

// Observer is notified after every call to the identity service.
type Observer func(op string, elapsed time.Duration, err error)

// Client talks to the identity service on behalf of a single browser
// session. The session lives in Storage and every change is published
// to the listeners registered with OnAuthStateChange.
type Client struct {
	cfg      Config
	baseURL  string
	http     *http.Client
	storage  Storage
	hub      *hub
	observer Observer
	now      func() time.Time

	mu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithStorage sets the session storage. Defaults to MemoryStorage.
func WithStorage(s Storage) Option {
	return func(c *Client) {
		c.storage = s
	}
}

// WithObserver registers a call observer, e.g. a metrics collector.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a client for the given service.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    cfg.HTTPClient,
		hub:     newHub(),
		now:     time.Now,
	}

	if c.http == nil {
		c.http = &http.Client{Timeout: 10 * time.Second}
	}

	if c.cfg.RefreshMargin <= 0 {
		c.cfg.RefreshMargin = defaultRefreshMargin
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.storage == nil {
		c.storage = NewMemoryStorage(nil)
	}

	return c
}

// OnAuthStateChange registers a listener for session changes.
func (c *Client) OnAuthStateChange(fn AuthChangeListener) *Subscription {
	return c.hub.subscribe(fn)
}

// SignUp registers a new account. The response carries a session only
// when the service does not require email confirmation.
func (c *Client) SignUp(ctx context.Context, email, password string) (*AuthResponse, error) {
	raw, err := c.call(ctx, "sign_up", http.MethodPost, authPath+"/signup", c.redirectQuery(), map[string]string{
		"email":    email,
		"password": password,
	}, "")
	if err != nil {
		return nil, err
	}

	resp, err := decodeAuthResponse(raw, c.now())
	if err != nil {
		return nil, err
	}

	if resp.Session != nil {
		if err := c.setSession(resp.Session, EventSignedIn); err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*AuthResponse, error) {
	query := url.Values{"grant_type": {"password"}}
	raw, err := c.call(ctx, "sign_in", http.MethodPost, authPath+"/token", query, map[string]string{
		"email":    email,
		"password": password,
	}, "")
	if err != nil {
		return nil, err
	}

	resp, err := decodeAuthResponse(raw, c.now())
	if err != nil {
		return nil, err
	}

	if resp.Session == nil {
		return nil, fmt.Errorf("identity: sign in response without session")
	}

	if err := c.setSession(resp.Session, EventSignedIn); err != nil {
		return nil, err
	}

	return resp, nil
}

// SignOut revokes the current session. A session the service no longer
// knows about is treated as already signed out. On any other failure the
// stored session is kept.
func (c *Client) SignOut(ctx context.Context) error {
	session, err := c.storage.Load()
	if err != nil {
		session = nil
	}

	if session.valid() {
		_, err := c.call(ctx, "sign_out", http.MethodPost, authPath+"/logout", nil, nil, session.AccessToken)
		if err != nil && !IsStatus(err, http.StatusUnauthorized) &&
			!IsStatus(err, http.StatusForbidden) &&
			!IsStatus(err, http.StatusNotFound) {
			return err
		}
	}

	if err := c.storage.Clear(); err != nil {
		return err
	}

	c.hub.emit(EventSignedOut, nil)
	return nil
}

// GetSession returns the stored session, refreshing it first when it is
// about to expire. It returns nil without error when nobody is signed in.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	session, event, err := c.loadSession(ctx)
	if event != "" {
		c.hub.emit(event, session)
	}
	return session, err
}

// AdoptSession stores a session another client obtained for the same
// browser and announces it as EventSignedIn. The identity service is not
// called.
func (c *Client) AdoptSession(session *Session) error {
	if !session.valid() {
		return fmt.Errorf("identity: adopt session without access token")
	}
	cp := *session
	return c.setSession(&cp, EventSignedIn)
}

func (c *Client) loadSession(ctx context.Context) (*Session, AuthChangeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.storage.Load()
	if err != nil {
		_ = c.storage.Clear()
		return nil, "", nil
	}

	if !session.valid() {
		return nil, "", nil
	}

	if !session.Expired(c.now(), c.cfg.RefreshMargin) {
		return session, "", nil
	}

	refreshed, err := c.refresh(ctx, session.RefreshToken)
	if err != nil {
		if IsAuthError(err) {
			_ = c.storage.Clear()
			return nil, EventSignedOut, err
		}
		return nil, "", err
	}

	if refreshed.User == nil {
		refreshed.User = session.User
	}

	if err := c.storage.Save(refreshed); err != nil {
		return nil, "", err
	}

	return refreshed, EventTokenRefreshed, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, ErrSessionMissing
	}

	query := url.Values{"grant_type": {"refresh_token"}}
	raw, err := c.call(ctx, "refresh", http.MethodPost, authPath+"/token", query, map[string]string{
		"refresh_token": refreshToken,
	}, "")
	if err != nil {
		return nil, err
	}

	resp, err := decodeAuthResponse(raw, c.now())
	if err != nil {
		return nil, err
	}

	if resp.Session == nil {
		return nil, ErrSessionMissing
	}

	return resp.Session, nil
}

// VerifyOTP verifies an emailed one time password. A recovery OTP
// signs the user in and is published as EventPasswordRecovery.
func (c *Client) VerifyOTP(ctx context.Context, params VerifyOTPParams) (*AuthResponse, error) {
	raw, err := c.call(ctx, "verify_otp", http.MethodPost, authPath+"/verify", nil, params, "")
	if err != nil {
		return nil, err
	}

	resp, err := decodeAuthResponse(raw, c.now())
	if err != nil {
		return nil, err
	}

	if resp.Session != nil {
		event := EventSignedIn
		if params.Type == OTPRecovery {
			event = EventPasswordRecovery
		}
		if err := c.setSession(resp.Session, event); err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// Resend sends the one time password email again.
func (c *Client) Resend(ctx context.Context, params ResendParams) error {
	_, err := c.call(ctx, "resend", http.MethodPost, authPath+"/resend", c.redirectQuery(), params, "")
	return err
}

// ResetPasswordForEmail sends a recovery email to the given address.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email string) error {
	_, err := c.call(ctx, "reset_password", http.MethodPost, authPath+"/recover", c.redirectQuery(), map[string]string{
		"email": email,
	}, "")
	return err
}

// UpdateUser changes attributes of the signed in user.
func (c *Client) UpdateUser(ctx context.Context, attrs UserAttributes) (*User, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}

	if session == nil {
		return nil, ErrSessionMissing
	}

	raw, err := c.call(ctx, "update_user", http.MethodPut, authPath+"/user", nil, attrs, session.AccessToken)
	if err != nil {
		return nil, err
	}

	user := &User{}
	if err := json.Unmarshal(raw, user); err != nil {
		return nil, fmt.Errorf("identity: decode user: %w", err)
	}

	session.User = user
	if err := c.setSession(session, EventUserUpdated); err != nil {
		return nil, err
	}

	return user, nil
}

// GetUser asks the service for the user behind an access token.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, ErrSessionMissing
	}

	raw, err := c.call(ctx, "get_user", http.MethodGet, authPath+"/user", nil, nil, accessToken)
	if err != nil {
		return nil, err
	}

	user := &User{}
	if err := json.Unmarshal(raw, user); err != nil {
		return nil, fmt.Errorf("identity: decode user: %w", err)
	}

	return user, nil
}

// GetClaims returns the verified claims of the current session, or nil
// when nobody is signed in. Without a verifier the service is asked.
func (c *Client) GetClaims(ctx context.Context, verifier Verifier) (*Claims, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}

	if session == nil {
		return nil, nil
	}

	if verifier != nil {
		return verifier.Verify(session.AccessToken)
	}

	user, err := c.GetUser(ctx, session.AccessToken)
	if err != nil {
		return nil, err
	}

	return claimsFromUser(user), nil
}

// SelectOne reads at most one row of a table through the REST API.
// It reports false when no row matched.
func (c *Client) SelectOne(ctx context.Context, table, columns string, filters url.Values, dst any) (bool, error) {
	query := url.Values{}
	for k, vs := range filters {
		query[k] = append([]string(nil), vs...)
	}
	query.Set("select", columns)

	token := ""
	if session, err := c.storage.Load(); err == nil && session.valid() {
		token = session.AccessToken
	}

	raw, err := c.call(ctx, "select_"+table, http.MethodGet, restPath+"/"+table, query, nil, token)
	if err != nil {
		return false, err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return false, fmt.Errorf("identity: decode %s rows: %w", table, err)
	}

	switch len(rows) {
	case 0:
		return false, nil
	case 1:
		if err := json.Unmarshal(rows[0], dst); err != nil {
			return false, fmt.Errorf("identity: decode %s row: %w", table, err)
		}
		return true, nil
	default:
		return false, ErrMultipleRows
	}
}

func (c *Client) setSession(session *Session, event AuthChangeEvent) error {
	if err := c.storage.Save(session); err != nil {
		return err
	}
	c.hub.emit(event, session)
	return nil
}

func (c *Client) redirectQuery() url.Values {
	if c.cfg.EmailRedirectTo == "" {
		return nil
	}
	return url.Values{"redirect_to": {c.cfg.EmailRedirectTo}}
}

func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body any, bearer string) ([]byte, error) {
	started := time.Now()
	raw, err := c.do(ctx, method, path, query, body, bearer)
	if c.observer != nil {
		c.observer(op, time.Since(started), err)
	}
	return raw, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, bearer string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("identity: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
	}

	token := bearer
	if token == "" {
		token = c.cfg.APIKey
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("identity: read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, parseError(resp.StatusCode, raw)
	}

	return raw, nil
}

func decodeAuthResponse(raw []byte, now time.Time) (*AuthResponse, error) {
	var probe struct {
		AccessToken string          `json:"access_token"`
		User        json.RawMessage `json:"user"`
		Session     json.RawMessage `json:"session"`
		ID          string          `json:"id"`
	}

	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("identity: decode auth response: %w", err)
	}

	switch {
	case probe.AccessToken != "":
		session := &Session{}
		if err := json.Unmarshal(raw, session); err != nil {
			return nil, fmt.Errorf("identity: decode session: %w", err)
		}
		session.normalize(now)
		return &AuthResponse{User: session.User, Session: session}, nil

	case probe.ID != "":
		user := &User{}
		if err := json.Unmarshal(raw, user); err != nil {
			return nil, fmt.Errorf("identity: decode user: %w", err)
		}
		return &AuthResponse{User: user}, nil

	default:
		var wrapped struct {
			User    *User    `json:"user"`
			Session *Session `json:"session"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("identity: decode auth response: %w", err)
		}
		resp := &AuthResponse{User: wrapped.User}
		if wrapped.Session.valid() {
			resp.Session = wrapped.Session.normalize(now)
			if resp.Session.User == nil {
				resp.Session.User = wrapped.User
			}
		}
		return resp, nil
	}
}
