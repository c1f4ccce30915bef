package anihive

import (
	"context"
	"time"

	"github.com/anihive/anihive/identity"
	goerrors "github.com/goliatone/go-errors"
)

type RegisterUserMessage struct {
	Email      string `json:"email"`
	Password   string `json:"-"`
	OnResponse func(resp *identity.AuthResponse)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

type RegisterUserHandler struct {
	identity IdentityGateway
	activity ActivitySink
	logger   Logger
}

// NewRegisterUserHandler creates a handler with sane defaults.
func NewRegisterUserHandler(gateway IdentityGateway) *RegisterUserHandler {
	return &RegisterUserHandler{
		identity: gateway,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp, err := h.identity.SignUp(ctx, event.Email, event.Password)
	if err != nil {
		return wrapIdentityError(err, OperationSignUp)
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventRegistration,
		UserID:    responseUserID(resp),
		Email:     event.Email,
		Metadata:  map[string]any{"confirmed": resp != nil && resp.Session != nil},
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
