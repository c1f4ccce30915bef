package anihive

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/anihive/anihive/identity"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/mock"
)

// MockIdentityGateway implements IdentityGateway
type MockIdentityGateway struct {
	mock.Mock
}

var _ IdentityGateway = (*MockIdentityGateway)(nil)

func (m *MockIdentityGateway) GetSession(ctx context.Context) (*identity.Session, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(*identity.Session)
	return session, args.Error(1)
}

func (m *MockIdentityGateway) OnAuthStateChange(fn identity.AuthChangeListener) *identity.Subscription {
	return &identity.Subscription{}
}

func (m *MockIdentityGateway) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentityGateway) SignInWithPassword(ctx context.Context, email, password string) (*identity.AuthResponse, error) {
	args := m.Called(ctx, email, password)
	resp, _ := args.Get(0).(*identity.AuthResponse)
	return resp, args.Error(1)
}

func (m *MockIdentityGateway) SignUp(ctx context.Context, email, password string) (*identity.AuthResponse, error) {
	args := m.Called(ctx, email, password)
	resp, _ := args.Get(0).(*identity.AuthResponse)
	return resp, args.Error(1)
}

func (m *MockIdentityGateway) ResetPasswordForEmail(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockIdentityGateway) VerifyOTP(ctx context.Context, params identity.VerifyOTPParams) (*identity.AuthResponse, error) {
	args := m.Called(ctx, params)
	resp, _ := args.Get(0).(*identity.AuthResponse)
	return resp, args.Error(1)
}

func (m *MockIdentityGateway) Resend(ctx context.Context, params identity.ResendParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *MockIdentityGateway) UpdateUser(ctx context.Context, attrs identity.UserAttributes) (*identity.User, error) {
	args := m.Called(ctx, attrs)
	user, _ := args.Get(0).(*identity.User)
	return user, args.Error(1)
}

func (m *MockIdentityGateway) AdoptSession(session *identity.Session) error {
	args := m.Called(session)
	return args.Error(0)
}

type renderCall struct {
	name    string
	layouts []string
	data    map[string]any
}

// recordingViews implements fiber.Views and keeps every render call.
type recordingViews struct {
	mu    sync.Mutex
	calls []renderCall
}

func (v *recordingViews) Load() error { return nil }

func (v *recordingViews) Render(w io.Writer, name string, data any, layouts ...string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var bind map[string]any
	switch d := data.(type) {
	case fiber.Map:
		bind = d
	case map[string]any:
		bind = d
	}
	v.calls = append(v.calls, renderCall{name: name, layouts: layouts, data: bind})
	_, err := fmt.Fprintf(w, "<rendered %s>", name)
	return err
}

func (v *recordingViews) last() renderCall {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.calls) == 0 {
		return renderCall{}
	}
	return v.calls[len(v.calls)-1]
}

func (v *recordingViews) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}

type recordingSink struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}
