package identity

import (
	"time"
)

// User is the identity record the provider attaches to a session.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email,omitempty"`
	Role             string         `json:"role,omitempty"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	CreatedAt        *time.Time     `json:"created_at,omitempty"`
}

// Session is the token bundle issued by the provider
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// AuthResponse is returned by operations that may or may not
// produce a session, e.g. sign up with email confirmation enabled.
type AuthResponse struct {
	User    *User
	Session *Session
}

// Expiry returns the absolute expiration time of the access token.
func (s *Session) Expiry() time.Time {
	if s == nil || s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

// Expired reports whether the session is expired or will expire
// within margin of now.
func (s *Session) Expired(now time.Time, margin time.Duration) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt == 0 {
		return false
	}
	return !now.Add(margin).Before(s.Expiry())
}

// UserID returns the id of the session user or an empty string.
func (s *Session) UserID() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}

func (s *Session) normalize(now time.Time) *Session {
	if s == nil {
		return nil
	}
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
	return s
}

func (s *Session) valid() bool {
	return s != nil && s.AccessToken != ""
}
