package anihive

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
)

// LoginPayload is the login form
type LoginPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, emailRules()...),
		validation.Field(&r.Password, validation.Required.Error("Password is required")),
	)
}

// RegistrationPayload is the registration form
type RegistrationPayload struct {
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will run validation rules
func (r RegistrationPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, emailRules()...),
		validation.Field(&r.Password, passwordRules()...),
		validation.Field(&r.ConfirmPassword, confirmPasswordRules(r.Password)...),
	)
}

// ForgotPasswordPayload asks for a password reset code.
type ForgotPasswordPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will run validation rules
func (r ForgotPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, emailRules()...),
	)
}

// VerifyEmailPayload carries the one time code sent by email.
type VerifyEmailPayload struct {
	Token string `form:"token" json:"token"`
}

// Validate will run validation rules
func (r VerifyEmailPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, otpTokenRules()...),
	)
}

// ResetPasswordPayload is the second step of a password reset.
type ResetPasswordPayload struct {
	Token           string `form:"token" json:"token"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will run validation rules
func (r ResetPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, otpTokenRules()...),
		validation.Field(&r.Password, passwordRules()...),
		validation.Field(&r.ConfirmPassword, confirmPasswordRules(r.Password)...),
	)
}

// normalizeEmail trims the address. The case is kept, the identity
// service compares addresses case insensitively.
func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}
