package anihive

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anihive/anihive/identity"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type controllerHarness struct {
	app      *fiber.App
	views    *recordingViews
	gateway  *MockIdentityGateway
	activity *recordingSink
	cookies  []*http.Cookie
}

func newControllerHarness(t *testing.T) *controllerHarness {
	t.Helper()

	h := &controllerHarness{
		views:    &recordingViews{},
		gateway:  &MockIdentityGateway{},
		activity: &recordingSink{},
	}
	h.app = fiber.New(fiber.Config{Views: h.views})

	RegisterAuthRoutes(h.app,
		WithSessionStore(session.New()),
		WithControllerLogger(nopLogger{}),
		WithControllerActivitySink(h.activity),
		WithIdentityResolver(func(*fiber.Ctx) (IdentityGateway, bool) {
			return h.gateway, true
		}),
	)

	return h
}

// do sends a request carrying the cookies of earlier responses.
func (h *controllerHarness) do(t *testing.T, method, target string, form url.Values) *http.Response {
	t.Helper()

	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, ck := range h.cookies {
		req.AddCookie(ck)
	}

	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)

	for _, ck := range resp.Cookies() {
		h.cookies = replaceCookie(h.cookies, ck)
	}
	return resp
}

func replaceCookie(list []*http.Cookie, ck *http.Cookie) []*http.Cookie {
	for i, c := range list {
		if c.Name == ck.Name {
			list[i] = ck
			return list
		}
	}
	return append(list, ck)
}

func renderedErrors(t *testing.T, call renderCall) map[string]string {
	t.Helper()
	errs, ok := call.data["errors"].(map[string]string)
	require.True(t, ok, "errors should be a map of field messages")
	return errs
}

func renderedFlash(t *testing.T, call renderCall) Flash {
	t.Helper()
	flash, ok := call.data[TemplateFlashKey].(Flash)
	require.True(t, ok, "expected a flash in the view data")
	return flash
}

func TestRegistrationSubmitsOnceAndAsksForVerification(t *testing.T) {
	h := newControllerHarness(t)
	h.gateway.On("SignUp", mock.Anything, "a@b.com", "Passw0rd!").
		Return(&identity.AuthResponse{User: &identity.User{ID: "user-1", Email: "a@b.com"}}, nil).
		Once()

	resp := h.do(t, http.MethodPost, "/registration", url.Values{
		"email":            {"a@b.com"},
		"password":         {"Passw0rd!"},
		"confirm_password": {"Passw0rd!"},
	})

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/verify-email", resp.Header.Get(fiber.HeaderLocation))
	h.gateway.AssertNumberOfCalls(t, "SignUp", 1)
	assert.Equal(t, []ActivityEventType{ActivityEventRegistration}, h.activity.types())

	resp = h.do(t, http.MethodGet, "/verify-email", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	call := h.views.last()
	assert.Equal(t, "auth/verify_email", call.name)
	assert.Equal(t, []string{"layouts/main"}, call.layouts)
	assert.Equal(t, fiber.Map{"email": "a@b.com"}, call.data["record"])
	assert.Equal(t, Flash{Kind: FlashSuccess, Title: "Check your email to confirm your account"}, renderedFlash(t, call))

	// the flash is shown once
	h.do(t, http.MethodGet, "/verify-email", nil)
	_, hasFlash := h.views.last().data[TemplateFlashKey]
	assert.False(t, hasFlash)
}

func TestRegistrationBlocksInvalidInputLocally(t *testing.T) {
	tests := []struct {
		name  string
		form  url.Values
		field string
		msg   string
	}{
		{
			name:  "password without special character",
			form:  url.Values{"email": {"a@b.com"}, "password": {"password"}, "confirm_password": {"password"}},
			field: "password",
			msg:   "Password must include at least one special character",
		},
		{
			name:  "short password",
			form:  url.Values{"email": {"a@b.com"}, "password": {"P!1"}, "confirm_password": {"P!1"}},
			field: "password",
			msg:   "Password must be at least 8 characters long",
		},
		{
			name:  "mismatched confirmation",
			form:  url.Values{"email": {"a@b.com"}, "password": {"Passw0rd!"}, "confirm_password": {"Passw0rd?"}},
			field: "confirm_password",
			msg:   "Passwords do not match",
		},
		{
			name:  "invalid email",
			form:  url.Values{"email": {"not-an-email"}, "password": {"Passw0rd!"}, "confirm_password": {"Passw0rd!"}},
			field: "email",
			msg:   "Please enter a valid email address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newControllerHarness(t)

			resp := h.do(t, http.MethodPost, "/registration", tt.form)

			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			h.gateway.AssertNotCalled(t, "SignUp", mock.Anything, mock.Anything, mock.Anything)

			call := h.views.last()
			assert.Equal(t, "auth/registration", call.name)
			assert.Equal(t, tt.msg, renderedErrors(t, call)[tt.field])
		})
	}
}

func TestLoginFailureKeepsEmailAndShowsProviderMessage(t *testing.T) {
	h := newControllerHarness(t)
	h.gateway.On("SignInWithPassword", mock.Anything, "a@b.com", "wrong-pass!").
		Return(nil, &identity.Error{Status: http.StatusBadRequest, Code: "invalid_credentials", Message: "Invalid login credentials"}).
		Once()

	resp := h.do(t, http.MethodPost, "/login", url.Values{
		"email":    {" a@b.com "},
		"password": {"wrong-pass!"},
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	h.gateway.AssertNumberOfCalls(t, "SignInWithPassword", 1)

	call := h.views.last()
	assert.Equal(t, "auth/login", call.name)
	assert.Equal(t, fiber.Map{"email": "a@b.com"}, call.data["record"])
	assert.Equal(t, Flash{
		Kind:        FlashError,
		Title:       "Login failed",
		Description: "Invalid login credentials",
	}, renderedFlash(t, call))
	assert.Equal(t, []ActivityEventType{ActivityEventLoginFailure}, h.activity.types())
}

func TestLoginSuccessRedirectsHome(t *testing.T) {
	h := newControllerHarness(t)
	h.gateway.On("SignInWithPassword", mock.Anything, "a@b.com", "Passw0rd!").
		Return(&identity.AuthResponse{User: &identity.User{ID: "user-1"}, Session: &identity.Session{AccessToken: "at"}}, nil).
		Once()

	resp := h.do(t, http.MethodPost, "/login", url.Values{
		"email":    {"a@b.com"},
		"password": {"Passw0rd!"},
	})

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get(fiber.HeaderLocation))
	assert.Equal(t, []ActivityEventType{ActivityEventLoginSuccess}, h.activity.types())
}

func TestLoginStatusFollowsIdentityFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"rate limited", &identity.Error{Status: http.StatusTooManyRequests, Message: "Too many requests"}, http.StatusTooManyRequests},
		{"service down", assert.AnError, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newControllerHarness(t)
			h.gateway.On("SignInWithPassword", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			resp := h.do(t, http.MethodPost, "/login", url.Values{
				"email":    {"a@b.com"},
				"password": {"Passw0rd!"},
			})

			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestLoginEmptyFormIsRejectedBeforeSubmitting(t *testing.T) {
	h := newControllerHarness(t)

	resp := h.do(t, http.MethodPost, "/login", url.Values{})

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	h.gateway.AssertNotCalled(t, "SignInWithPassword", mock.Anything, mock.Anything, mock.Anything)

	errs := renderedErrors(t, h.views.last())
	assert.Equal(t, "Email is required", errs["email"])
	assert.Equal(t, "Password is required", errs["password"])
}

func TestVerifyEmailWithoutPendingEmail(t *testing.T) {
	h := newControllerHarness(t)

	resp := h.do(t, http.MethodPost, "/verify-email", url.Values{"token": {"123456"}})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	h.gateway.AssertNotCalled(t, "VerifyOTP", mock.Anything, mock.Anything)

	call := h.views.last()
	assert.Equal(t, "auth/verify_email", call.name)
	assert.Equal(t, "Email address is missing, start again", renderedFlash(t, call).Title)
	assert.Empty(t, renderedErrors(t, call))
}

func TestVerifyEmailUsesQueryEmail(t *testing.T) {
	h := newControllerHarness(t)
	h.gateway.On("VerifyOTP", mock.Anything, identity.VerifyOTPParams{
		Email: "a@b.com",
		Token: "abc123",
		Type:  identity.OTPEmail,
	}).Return(&identity.AuthResponse{User: &identity.User{ID: "user-1"}}, nil).Once()

	resp := h.do(t, http.MethodPost, "/verify-email?email=a@b.com", url.Values{"token": {"abc123"}})

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get(fiber.HeaderLocation))
	h.gateway.AssertExpectations(t)

	// the pending email is gone after verification
	h.do(t, http.MethodGet, "/verify-email", nil)
	assert.Equal(t, fiber.Map{"email": ""}, h.views.last().data["record"])
}

func TestVerifyEmailRejectedTokenMarksField(t *testing.T) {
	h := newControllerHarness(t)
	h.gateway.On("VerifyOTP", mock.Anything, mock.Anything).
		Return(nil, &identity.Error{Status: http.StatusForbidden, Code: "otp_expired", Message: "Token has expired or is invalid"})

	resp := h.do(t, http.MethodPost, "/verify-email?email=a@b.com", url.Values{"token": {"abc123"}})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	call := h.views.last()
	assert.Equal(t, "Token has expired or is invalid", renderedErrors(t, call)["token"])
	assert.Equal(t, fiber.Map{"email": "a@b.com"}, call.data["record"])
}

func TestVerifyEmailMalformedToken(t *testing.T) {
	h := newControllerHarness(t)

	resp := h.do(t, http.MethodPost, "/verify-email?email=a@b.com", url.Values{"token": {"12 45"}})

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "Verification code must be 6 letters or digits", renderedErrors(t, h.views.last())["token"])
	h.gateway.AssertNotCalled(t, "VerifyOTP", mock.Anything, mock.Anything)
}

func TestVerifyEmailResend(t *testing.T) {
	h := newControllerHarness(t)
	h.gateway.On("Resend", mock.Anything, identity.ResendParams{Type: identity.OTPSignup, Email: "a@b.com"}).
		Return(nil).Once()

	h.do(t, http.MethodGet, "/verify-email?email=a@b.com", nil)
	resp := h.do(t, http.MethodPost, "/verify-email/resend", url.Values{})

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/verify-email", resp.Header.Get(fiber.HeaderLocation))
	h.gateway.AssertExpectations(t)

	h.do(t, http.MethodGet, "/verify-email", nil)
	assert.Equal(t, "Verification email sent", renderedFlash(t, h.views.last()).Title)
}

func TestPasswordResetFlow(t *testing.T) {
	h := newControllerHarness(t)
	h.gateway.On("ResetPasswordForEmail", mock.Anything, "a@b.com").Return(nil).Once()
	h.gateway.On("VerifyOTP", mock.Anything, identity.VerifyOTPParams{
		Email: "a@b.com",
		Token: "654321",
		Type:  identity.OTPRecovery,
	}).Return(&identity.AuthResponse{
		User:    &identity.User{ID: "user-1"},
		Session: &identity.Session{AccessToken: "at"},
	}, nil).Once()
	h.gateway.On("UpdateUser", mock.Anything, identity.UserAttributes{Password: "N3w-pass!"}).
		Return(&identity.User{ID: "user-1"}, nil).Once()

	resp := h.do(t, http.MethodPost, "/forgot-password", url.Values{"email": {"a@b.com"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/reset-password", resp.Header.Get(fiber.HeaderLocation))

	h.do(t, http.MethodGet, "/reset-password", nil)
	assert.Equal(t, fiber.Map{"email": "a@b.com"}, h.views.last().data["record"])

	resp = h.do(t, http.MethodPost, "/reset-password", url.Values{
		"token":            {"654321"},
		"password":         {"N3w-pass!"},
		"confirm_password": {"N3w-pass!"},
	})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get(fiber.HeaderLocation))
	h.gateway.AssertExpectations(t)

	assert.Equal(t, []ActivityEventType{
		ActivityEventPasswordResetRequest,
		ActivityEventPasswordResetSuccess,
	}, h.activity.types())
}

func TestPasswordResetInvalidCodeSkipsUpdate(t *testing.T) {
	h := newControllerHarness(t)
	h.gateway.On("VerifyOTP", mock.Anything, mock.Anything).
		Return(nil, &identity.Error{Status: http.StatusForbidden, Message: "Token has expired or is invalid"})

	resp := h.do(t, http.MethodPost, "/reset-password?email=a@b.com", url.Values{
		"token":            {"654321"},
		"password":         {"N3w-pass!"},
		"confirm_password": {"N3w-pass!"},
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Token has expired or is invalid", renderedErrors(t, h.views.last())["token"])
	h.gateway.AssertNotCalled(t, "UpdateUser", mock.Anything, mock.Anything)
}

func TestLogOut(t *testing.T) {
	h := newControllerHarness(t)
	h.gateway.On("SignOut", mock.Anything).Return(nil).Once()

	resp := h.do(t, http.MethodPost, "/logout", url.Values{})

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get(fiber.HeaderLocation))
	h.gateway.AssertExpectations(t)
	assert.Equal(t, []ActivityEventType{ActivityEventSignOut}, h.activity.types())

	h.do(t, http.MethodGet, "/login", nil)
	assert.Equal(t, Flash{Kind: FlashSuccess, Title: "Signed out successfully"}, renderedFlash(t, h.views.last()))
}

func TestLogOutFailure(t *testing.T) {
	h := newControllerHarness(t)
	h.gateway.On("SignOut", mock.Anything).
		Return(&identity.Error{Status: http.StatusInternalServerError, Message: "Session not found"}).Once()

	resp := h.do(t, http.MethodPost, "/logout", url.Values{})

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get(fiber.HeaderLocation))
	assert.Equal(t, []ActivityEventType{ActivityEventSignOutFailure}, h.activity.types())

	h.do(t, http.MethodGet, "/login", nil)
	flash := renderedFlash(t, h.views.last())
	assert.Equal(t, FlashError, flash.Kind)
	assert.Equal(t, "Sign out failed", flash.Title)
}

func TestPageRendersQueuedFlash(t *testing.T) {
	h := newControllerHarness(t)
	h.gateway.On("SignInWithPassword", mock.Anything, mock.Anything, mock.Anything).
		Return(&identity.AuthResponse{User: &identity.User{ID: "user-1"}}, nil)

	var ctrl *AuthController
	h.app = fiber.New(fiber.Config{Views: h.views})
	ctrl = RegisterAuthRoutes(h.app,
		WithSessionStore(session.New()),
		WithControllerLogger(nopLogger{}),
		WithIdentityResolver(func(*fiber.Ctx) (IdentityGateway, bool) { return h.gateway, true }),
	)
	h.app.Get("/", ctrl.Page("home"))

	h.do(t, http.MethodPost, "/login", url.Values{"email": {"a@b.com"}, "password": {"Passw0rd!"}})
	resp := h.do(t, http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	call := h.views.last()
	assert.Equal(t, "home", call.name)
	assert.Equal(t, "Login successful", renderedFlash(t, call).Title)
	assert.Contains(t, call.data, TemplateHeaderKey)
	assert.Contains(t, call.data, TemplateSiteKey)
}

func TestMissingIdentityClientRendersError(t *testing.T) {
	views := &recordingViews{}
	app := fiber.New(fiber.Config{Views: views})
	RegisterAuthRoutes(app,
		WithSessionStore(session.New()),
		WithControllerLogger(nopLogger{}),
		WithIdentityResolver(func(*fiber.Ctx) (IdentityGateway, bool) { return nil, false }),
	)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("email=a@b.com&password=Passw0rd!"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "errors/500", views.last().name)
	assert.Equal(t, 1, views.count())
}

func TestVerifyEmailDuplicateSubmitAdoptsSharedSession(t *testing.T) {
	h := newControllerHarness(t)
	verified := &identity.Session{AccessToken: "access-1", RefreshToken: "refresh-1", User: &identity.User{ID: "user-1"}}

	entered := make(chan struct{})
	release := make(chan struct{})
	h.gateway.On("VerifyOTP", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(&identity.AuthResponse{User: verified.User, Session: verified}, nil).
		Once()
	h.gateway.On("AdoptSession", verified).Return(nil).Once()

	h.do(t, http.MethodGet, "/verify-email?email=a@b.com", nil)
	require.Len(t, h.cookies, 1)
	browserSession := h.cookies[0]

	submit := func() *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/verify-email",
			strings.NewReader(url.Values{"token": {"abc123"}}.Encode()))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
		req.AddCookie(browserSession)
		resp, err := h.app.Test(req, -1)
		assert.NoError(t, err)
		return resp
	}

	var (
		wg        sync.WaitGroup
		responses [2]*http.Response
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		responses[0] = submit()
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		responses[1] = submit()
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, resp := range responses {
		require.NotNil(t, resp, "response %d", i)
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode, "response %d", i)
		assert.Equal(t, "/", resp.Header.Get(fiber.HeaderLocation))
	}
	h.gateway.AssertNumberOfCalls(t, "VerifyOTP", 1)
	h.gateway.AssertExpectations(t)
}
