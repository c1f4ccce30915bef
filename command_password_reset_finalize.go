package anihive

import (
	"context"
	"time"

	"github.com/anihive/anihive/identity"
	goerrors "github.com/goliatone/go-errors"
)

type FinalizePasswordResetMessage struct {
	Email    string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	Token    string `json:"token" example:"a1b2c3" doc:"Recovery code sent by email"`
	Password string `json:"-"`
	// OnVerified runs once the recovery code is accepted, before the
	// password is changed.
	OnVerified func()
	// OnResponse receives the recovery session, also when the password
	// update fails afterwards.
	OnResponse func(resp *identity.AuthResponse)
}

func (p FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

type FinalizePasswordResetHandler struct {
	identity IdentityGateway
	store    *AuthStore
	activity ActivitySink
	logger   Logger
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
// store may be nil.
func NewFinalizePasswordResetHandler(gateway IdentityGateway, store *AuthStore) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		identity: gateway,
		store:    store,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if event.Email == "" {
		return ErrPendingEmailMissing
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp, err := h.identity.VerifyOTP(ctx, identity.VerifyOTPParams{
		Email: event.Email,
		Token: event.Token,
		Type:  identity.OTPRecovery,
	})
	if err != nil {
		return wrapIdentityError(err, OperationVerifyOTP)
	}

	if event.OnVerified != nil {
		event.OnVerified()
	}
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
	applyVerifiedSession(h.store, resp)

	user, err := h.identity.UpdateUser(ctx, identity.UserAttributes{Password: event.Password})
	if err != nil {
		return wrapIdentityError(err, OperationUpdateUser)
	}

	userID := responseUserID(resp)
	if user != nil {
		userID = user.ID
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		UserID:    userID,
		Email:     event.Email,
	})

	return nil
}

// applyVerifiedSession writes the session a verification produced. The
// identity client announces the same session as an event, this covers
// stores that are not followed by a mounted Bootstrapper.
func applyVerifiedSession(store *AuthStore, resp *identity.AuthResponse) {
	if store == nil {
		return
	}
	if resp != nil && resp.Session != nil {
		store.SetSession(resp.Session)
	}
	store.SetInitialized(true)
}
