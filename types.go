package anihive

import (
	"context"
	"fmt"

	"github.com/anihive/anihive/identity"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// SessionSource is the read side of the identity client: the current
// session and a stream of session changes.
type SessionSource interface {
	GetSession(ctx context.Context) (*identity.Session, error)
	OnAuthStateChange(fn identity.AuthChangeListener) *identity.Subscription
}

// SignOuter ends the identity session.
type SignOuter interface {
	SignOut(ctx context.Context) error
}

// IdentityGateway holds every identity operation the form controllers use.
type IdentityGateway interface {
	SessionSource
	SignOuter
	SignInWithPassword(ctx context.Context, email, password string) (*identity.AuthResponse, error)
	SignUp(ctx context.Context, email, password string) (*identity.AuthResponse, error)
	ResetPasswordForEmail(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, params identity.VerifyOTPParams) (*identity.AuthResponse, error)
	Resend(ctx context.Context, params identity.ResendParams) error
	UpdateUser(ctx context.Context, attrs identity.UserAttributes) (*identity.User, error)
	AdoptSession(session *identity.Session) error
}

var _ IdentityGateway = (*identity.Client)(nil)

// ProfileFinder loads the profile of a user. It returns nil and no error
// when the user has no profile.
type ProfileFinder interface {
	FindProfile(ctx context.Context, userID string) (*Profile, error)
}

// ProfileFinderFunc adapts a function into a ProfileFinder.
type ProfileFinderFunc func(ctx context.Context, userID string) (*Profile, error)

// FindProfile satisfies the ProfileFinder interface.
func (f ProfileFinderFunc) FindProfile(ctx context.Context, userID string) (*Profile, error) {
	if f == nil {
		return nil, nil
	}
	return f(ctx, userID)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] HIVE "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] HIVE "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] HIVE "+newline(format), args...)
}

type nopLogger struct{}

func (nopLogger) Error(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
