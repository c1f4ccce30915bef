package anihive

import (
	"context"
	"time"

	"github.com/anihive/anihive/identity"
	goerrors "github.com/goliatone/go-errors"
)

type SignInMessage struct {
	Email      string `json:"email"`
	Password   string `json:"-"`
	OnResponse func(resp *identity.AuthResponse)
}

func (e SignInMessage) Type() string { return "auth.sign_in" }

type SignInHandler struct {
	identity IdentityGateway
	activity ActivitySink
	logger   Logger
}

// NewSignInHandler creates a handler with sane defaults.
func NewSignInHandler(gateway IdentityGateway) *SignInHandler {
	return &SignInHandler{
		identity: gateway,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit login events.
func (h *SignInHandler) WithActivitySink(sink ActivitySink) *SignInHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *SignInHandler) WithLogger(logger Logger) *SignInHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *SignInHandler) Execute(ctx context.Context, event SignInMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during sign in",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SignInHandler) execute(ctx context.Context, event SignInMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp, err := h.identity.SignInWithPassword(ctx, event.Email, event.Password)
	if err != nil {
		recordActivity(ctx, h.activity, h.logger, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Email:     event.Email,
			Metadata:  map[string]any{"error": err.Error()},
		})
		return wrapIdentityError(err, OperationSignIn)
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    responseUserID(resp),
		Email:     event.Email,
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func responseUserID(resp *identity.AuthResponse) string {
	if resp == nil {
		return ""
	}
	if resp.User != nil {
		return resp.User.ID
	}
	return resp.Session.UserID()
}

func responseSession(resp *identity.AuthResponse) *identity.Session {
	if resp == nil {
		return nil
	}
	return resp.Session
}
