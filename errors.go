package anihive

import (
	"errors"
	"net/http"

	"github.com/anihive/anihive/identity"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodePendingEmailMissing = "pending_email_missing"
	TextCodeAlreadyMounted      = "bootstrap_already_mounted"
	TextCodeIdentityRejected    = "identity_rejected"
	TextCodeIdentityUnavailable = "identity_unavailable"
)

// Identity operations recorded in the metadata of wrapped identity errors.
const (
	OperationSignIn     = "sign_in"
	OperationSignUp     = "sign_up"
	OperationSignOut    = "sign_out"
	OperationRecover    = "recover"
	OperationVerifyOTP  = "verify_otp"
	OperationResend     = "resend"
	OperationUpdateUser = "update_user"
)

// ErrPendingEmailMissing is returned when a verification step runs without
// knowing which email it verifies.
var ErrPendingEmailMissing = goerrors.New("Email address is missing, start again", goerrors.CategoryBadInput).
	WithTextCode(TextCodePendingEmailMissing).
	WithCode(goerrors.CodeBadRequest)

// ErrAlreadyMounted is returned by Bootstrapper.Mount on a mounted bootstrapper.
var ErrAlreadyMounted = goerrors.New("session bootstrapper already mounted", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyMounted).
	WithCode(goerrors.CodeConflict)

// ErrSomethingWentWrong is shown for failures with nothing useful to say.
var ErrSomethingWentWrong = errors.New("Something went wrong")

// wrapIdentityError keeps the provider message as the error message so it
// can be shown verbatim, and records the operation in the metadata.
func wrapIdentityError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var ierr *identity.Error
	if !errors.As(err, &ierr) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "identity service request failed").
			WithTextCode(TextCodeIdentityUnavailable).
			WithMetadata(map[string]any{"operation": operation})
	}

	category := goerrors.CategoryOperation
	switch {
	case ierr.Status == http.StatusTooManyRequests:
		category = goerrors.CategoryRateLimit
	case ierr.Status == http.StatusUnauthorized || ierr.Status == http.StatusForbidden:
		category = goerrors.CategoryAuth
	case ierr.Status == http.StatusBadRequest || ierr.Status == http.StatusUnprocessableEntity:
		category = goerrors.CategoryBadInput
	case ierr.Status >= http.StatusInternalServerError:
		category = goerrors.CategoryInternal
	}

	rich := goerrors.New(ierr.Message, category).
		WithTextCode(TextCodeIdentityRejected).
		WithCode(ierr.Status)

	meta := map[string]any{
		"operation": operation,
		"status":    ierr.Status,
	}
	if ierr.Code != "" {
		meta["code"] = ierr.Code
	}

	return rich.WithMetadata(meta)
}

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var ierr *identity.Error
	if errors.As(err, &ierr) {
		return ierr.Message
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Message != "" {
		if rich.TextCode != TextCodeIdentityRejected && rich.Category == goerrors.CategoryInternal {
			return ErrSomethingWentWrong.Error()
		}
		return rich.Message
	}

	return ErrSomethingWentWrong.Error()
}

// FailedOperation returns the identity operation that produced err, if any.
func FailedOperation(err error) string {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Metadata == nil {
		return ""
	}
	op, _ := rich.Metadata["operation"].(string)
	return op
}

// IsRateLimited reports whether the identity service throttled the request.
func IsRateLimited(err error) bool {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Category == goerrors.CategoryRateLimit
	}
	return identity.IsStatus(err, http.StatusTooManyRequests)
}
