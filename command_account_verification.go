package anihive

import (
	"context"
	"time"

	"github.com/anihive/anihive/identity"
	goerrors "github.com/goliatone/go-errors"
)

type AccountVerificationMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Email being verified"`
	Token      string `json:"token" example:"a1b2c3" doc:"Code sent by email"`
	OnResponse func(resp *identity.AuthResponse)
}

func (e AccountVerificationMessage) Type() string { return "user.verify_email" }

type ResendVerificationMessage struct {
	Email string `json:"email"`
}

func (e ResendVerificationMessage) Type() string { return "user.verify_email.resend" }

// AccountVerificationHandler confirms a sign up with the emailed code and
// resends the code on request.
type AccountVerificationHandler struct {
	identity IdentityGateway
	store    *AuthStore
	activity ActivitySink
	logger   Logger
}

// NewAccountVerificationHandler creates a handler with sane defaults.
// store may be nil.
func NewAccountVerificationHandler(gateway IdentityGateway, store *AuthStore) *AccountVerificationHandler {
	return &AccountVerificationHandler{
		identity: gateway,
		store:    store,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit verification events.
func (h *AccountVerificationHandler) WithActivitySink(sink ActivitySink) *AccountVerificationHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *AccountVerificationHandler) WithLogger(logger Logger) *AccountVerificationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *AccountVerificationHandler) Execute(ctx context.Context, event AccountVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during account verification")
	default:
		return h.execute(ctx, event)
	}
}

func (h *AccountVerificationHandler) execute(ctx context.Context, event AccountVerificationMessage) error {
	if event.Email == "" {
		return ErrPendingEmailMissing
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp, err := h.identity.VerifyOTP(ctx, identity.VerifyOTPParams{
		Email: event.Email,
		Token: event.Token,
		Type:  identity.OTPEmail,
	})
	if err != nil {
		return wrapIdentityError(err, OperationVerifyOTP)
	}

	applyVerifiedSession(h.store, resp)

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventEmailVerified,
		UserID:    responseUserID(resp),
		Email:     event.Email,
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// Resend asks the identity service for a new sign up code.
func (h *AccountVerificationHandler) Resend(ctx context.Context, event ResendVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during verification resend")
	default:
	}

	if event.Email == "" {
		return ErrPendingEmailMissing
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.identity.Resend(ctx, identity.ResendParams{
		Type:  identity.OTPSignup,
		Email: event.Email,
	})
	if err != nil {
		return wrapIdentityError(err, OperationResend)
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventVerificationResent,
		Email:     event.Email,
	})
	return nil
}
