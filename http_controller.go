package anihive

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/anihive/anihive/i18n"
	"github.com/anihive/anihive/identity"
	"github.com/anihive/anihive/middleware/proxy"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// RegisterAuthRoutes mounts the auth forms on app.
func RegisterAuthRoutes(app fiber.Router, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	app.Get(controller.Routes.Login, controller.LoginShow).Name("sign-in.get")
	app.Post(controller.Routes.Login, controller.LoginPost).Name("sign-in.post")

	app.Post(controller.Routes.Logout, controller.LogOut).Name("sign-out.post")

	app.Get(controller.Routes.Register, controller.RegistrationShow).Name("register.get")
	app.Post(controller.Routes.Register, controller.RegistrationCreate).Name("register.post")

	app.Get(controller.Routes.ForgotPassword, controller.ForgotPasswordShow).Name("pwd-forgot.get")
	app.Post(controller.Routes.ForgotPassword, controller.ForgotPasswordPost).Name("pwd-forgot.post")

	app.Get(controller.Routes.VerifyEmail, controller.VerifyEmailShow).Name("verify-email.get")
	app.Post(controller.Routes.VerifyEmail, controller.VerifyEmailPost).Name("verify-email.post")
	app.Post(controller.Routes.VerifyEmailResend, controller.VerifyEmailResend).Name("verify-email-resend.post")

	app.Get(controller.Routes.ResetPassword, controller.ResetPasswordShow).Name("pwd-reset.get")
	app.Post(controller.Routes.ResetPassword, controller.ResetPasswordPost).Name("pwd-reset.post")

	return controller
}

type AuthControllerRoutes struct {
	Home              string
	Login             string
	Logout            string
	Register          string
	ForgotPassword    string
	VerifyEmail       string
	VerifyEmailResend string
	ResetPassword     string
}

type AuthControllerViews struct {
	Layout         string
	Login          string
	Register       string
	ForgotPassword string
	VerifyEmail    string
	ResetPassword  string
	Error          string
}

// IdentityResolver returns the identity client of a request.
type IdentityResolver func(c *fiber.Ctx) (IdentityGateway, bool)

type AuthController struct {
	Debug        bool
	Logger       Logger
	Sessions     *session.Store
	Routing      *i18n.Routing
	Translator   *i18n.Translator
	Activity     ActivitySink
	Guard        *SubmitGuard
	Identity     IdentityResolver
	Routes       *AuthControllerRoutes
	Views        *AuthControllerViews
	ErrorHandler fiber.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if logger != nil {
			a.Logger = logger
		}
		return a
	}
}

func WithSessionStore(store *session.Store) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Sessions = store
		return a
	}
}

func WithRouting(routing *i18n.Routing, translator *i18n.Translator) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Routing = routing
		a.Translator = translator
		return a
	}
}

func WithControllerActivitySink(sink ActivitySink) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Activity = normalizeActivitySink(sink)
		return a
	}
}

func WithIdentityResolver(resolver IdentityResolver) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if resolver != nil {
			a.Identity = resolver
		}
		return a
	}
}

func WithDebug(debug bool) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Debug = debug
		return a
	}
}

// FiberIdentity resolves the client attached by identity.Factory.
func FiberIdentity(c *fiber.Ctx) (IdentityGateway, bool) {
	client, ok := identity.FromFiber(c)
	if !ok {
		return nil, false
	}
	return client, true
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	a := &AuthController{
		Logger:   defLogger{},
		Activity: noopActivitySink{},
		Guard:    &SubmitGuard{},
		Identity: FiberIdentity,
		Routes: &AuthControllerRoutes{
			Home:              "/",
			Login:             "/login",
			Logout:            "/logout",
			Register:          "/registration",
			ForgotPassword:    "/forgot-password",
			VerifyEmail:       "/verify-email",
			VerifyEmailResend: "/verify-email/resend",
			ResetPassword:     "/reset-password",
		},
		Views: &AuthControllerViews{
			Layout:         "layouts/main",
			Login:          "auth/login",
			Register:       "auth/registration",
			ForgotPassword: "auth/forgot_password",
			VerifyEmail:    "auth/verify_email",
			ResetPassword:  "auth/reset_password",
			Error:          "errors/500",
		},
	}
	a.ErrorHandler = a.defaultErrHandler

	for _, opt := range opts {
		a = opt(a)
	}

	if a.Sessions == nil {
		panic("Missing session store in auth controller...")
	}

	return a
}

// Page renders view inside the layout with the header and the queued
// flash, for pages outside the auth flow.
func (a *AuthController) Page(view string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return a.show(c, view, fiber.Map{})
	}
}

func (a *AuthController) LoginShow(c *fiber.Ctx) error {
	return a.show(c, a.Views.Login, fiber.Map{"record": fiber.Map{}})
}

func (a *AuthController) LoginPost(c *fiber.Ctx) error {
	fs, gateway, err := a.prepare(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	payload := new(LoginPayload)
	if err := c.BodyParser(payload); err != nil {
		return a.parseFailure(c, fs, a.Views.Login, err)
	}
	payload.Email = normalizeEmail(payload.Email)
	record := fiber.Map{"email": payload.Email}

	if err := payload.Validate(); err != nil {
		return a.invalid(c, fs, a.Views.Login, record, err)
	}

	redacted := *payload
	redacted.Password = "***"
	a.dump("AUTH LOGIN", redacted)

	signedIn, joined, err := a.Guard.Do(submitKey(fs.ID(), "login"), func() (*identity.Session, error) {
		var got *identity.Session
		err := NewSignInHandler(gateway).
			WithActivitySink(a.Activity).
			WithLogger(a.Logger).
			Execute(c.UserContext(), SignInMessage{
				Email:      payload.Email,
				Password:   payload.Password,
				OnResponse: func(resp *identity.AuthResponse) { got = responseSession(resp) },
			})
		return got, err
	})
	if joined {
		a.adoptJoined(c, gateway, signedIn)
	}
	if err != nil {
		a.Logger.Error("sign in failed: %v", err)
		return a.failure(c, fs, a.Views.Login, record, nil, Flash{
			Kind:        FlashError,
			Title:       "Login failed",
			Description: UserMessage(err),
		}, err)
	}

	return a.redirect(c, fs, a.Routes.Home, &Flash{Kind: FlashSuccess, Title: "Login successful"})
}

func (a *AuthController) LogOut(c *fiber.Ctx) error {
	fs, gateway, err := a.prepare(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	store, ok := GetAuthStore(c)
	if !ok {
		store = NewAuthStore(gateway)
	}

	user := store.Snapshot().UserID()
	if err := store.SignOut(c.UserContext()); err != nil {
		a.Logger.Error("sign out failed: %v", err)
		recordActivity(c.UserContext(), a.Activity, a.Logger, ActivityEvent{
			EventType: ActivityEventSignOutFailure,
			UserID:    user,
			Metadata:  map[string]any{"error": err.Error()},
		})
		return a.redirect(c, fs, a.Routes.Home, &Flash{
			Kind:        FlashError,
			Title:       "Sign out failed",
			Description: UserMessage(err),
		})
	}

	recordActivity(c.UserContext(), a.Activity, a.Logger, ActivityEvent{
		EventType: ActivityEventSignOut,
		UserID:    user,
	})

	return a.redirect(c, fs, a.Routes.Login, &Flash{Kind: FlashSuccess, Title: "Signed out successfully"})
}

func (a *AuthController) RegistrationShow(c *fiber.Ctx) error {
	return a.show(c, a.Views.Register, fiber.Map{"record": fiber.Map{}})
}

func (a *AuthController) RegistrationCreate(c *fiber.Ctx) error {
	fs, gateway, err := a.prepare(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	payload := new(RegistrationPayload)
	if err := c.BodyParser(payload); err != nil {
		return a.parseFailure(c, fs, a.Views.Register, err)
	}
	payload.Email = normalizeEmail(payload.Email)
	record := fiber.Map{"email": payload.Email}

	if err := payload.Validate(); err != nil {
		return a.invalid(c, fs, a.Views.Register, record, err)
	}

	a.dump("AUTH REGISTER", fiber.Map{"email": payload.Email})

	signedIn, joined, err := a.Guard.Do(submitKey(fs.ID(), "registration"), func() (*identity.Session, error) {
		var got *identity.Session
		err := NewRegisterUserHandler(gateway).
			WithActivitySink(a.Activity).
			WithLogger(a.Logger).
			Execute(c.UserContext(), RegisterUserMessage{
				Email:      payload.Email,
				Password:   payload.Password,
				OnResponse: func(resp *identity.AuthResponse) { got = responseSession(resp) },
			})
		return got, err
	})
	if joined {
		a.adoptJoined(c, gateway, signedIn)
	}
	if err != nil {
		a.Logger.Error("registration failed: %v", err)
		return a.failure(c, fs, a.Views.Register, record, nil, Flash{
			Kind:        FlashError,
			Title:       "Registration failed",
			Description: UserMessage(err),
		}, err)
	}

	fs.SetPendingEmail(payload.Email)
	return a.redirect(c, fs, a.Routes.VerifyEmail, &Flash{
		Kind:  FlashSuccess,
		Title: "Check your email to confirm your account",
	})
}

func (a *AuthController) ForgotPasswordShow(c *fiber.Ctx) error {
	return a.show(c, a.Views.ForgotPassword, fiber.Map{"record": fiber.Map{}})
}

func (a *AuthController) ForgotPasswordPost(c *fiber.Ctx) error {
	fs, gateway, err := a.prepare(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	payload := new(ForgotPasswordPayload)
	if err := c.BodyParser(payload); err != nil {
		return a.parseFailure(c, fs, a.Views.ForgotPassword, err)
	}
	payload.Email = normalizeEmail(payload.Email)
	record := fiber.Map{"email": payload.Email}

	if err := payload.Validate(); err != nil {
		return a.invalid(c, fs, a.Views.ForgotPassword, record, err)
	}

	_, _, err = a.Guard.Do(submitKey(fs.ID(), "forgot-password"), func() (*identity.Session, error) {
		return nil, NewInitializePasswordResetHandler(gateway).
			WithActivitySink(a.Activity).
			WithLogger(a.Logger).
			Execute(c.UserContext(), InitializePasswordResetMessage{Email: payload.Email})
	})
	if err != nil {
		a.Logger.Error("password reset request failed: %v", err)
		return a.failure(c, fs, a.Views.ForgotPassword, record, nil, Flash{
			Kind:  FlashError,
			Title: UserMessage(err),
		}, err)
	}

	fs.SetPendingEmail(payload.Email)
	return a.redirect(c, fs, a.Routes.ResetPassword, &Flash{
		Kind:  FlashSuccess,
		Title: "Check your email for the reset code",
	})
}

func (a *AuthController) VerifyEmailShow(c *fiber.Ctx) error {
	fs, err := a.formSession(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	email := a.pendingEmail(c, fs)
	return a.render(c, fs, a.Views.VerifyEmail, fiber.Map{
		"record": fiber.Map{"email": email},
	}, nil)
}

func (a *AuthController) VerifyEmailPost(c *fiber.Ctx) error {
	fs, gateway, err := a.prepare(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	email := a.pendingEmail(c, fs)
	record := fiber.Map{"email": email}

	payload := new(VerifyEmailPayload)
	if err := c.BodyParser(payload); err != nil {
		return a.parseFailure(c, fs, a.Views.VerifyEmail, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalid(c, fs, a.Views.VerifyEmail, record, err)
	}

	store, _ := GetAuthStore(c)

	signedIn, joined, err := a.Guard.Do(submitKey(fs.ID(), "verify-email"), func() (*identity.Session, error) {
		var got *identity.Session
		err := NewAccountVerificationHandler(gateway, store).
			WithActivitySink(a.Activity).
			WithLogger(a.Logger).
			Execute(c.UserContext(), AccountVerificationMessage{
				Email:      email,
				Token:      payload.Token,
				OnResponse: func(resp *identity.AuthResponse) { got = responseSession(resp) },
			})
		return got, err
	})
	if joined {
		a.adoptJoined(c, gateway, signedIn)
	}
	if err != nil {
		a.Logger.Error("email verification failed: %v", err)
		fieldErrors := map[string]string{}
		if FailedOperation(err) == OperationVerifyOTP {
			fieldErrors["token"] = UserMessage(err)
		}
		return a.failure(c, fs, a.Views.VerifyEmail, record, fieldErrors, Flash{
			Kind:  FlashError,
			Title: UserMessage(err),
		}, err)
	}

	fs.ClearPendingEmail()
	return a.redirect(c, fs, a.Routes.Home, &Flash{Kind: FlashSuccess, Title: "Email verified"})
}

func (a *AuthController) VerifyEmailResend(c *fiber.Ctx) error {
	fs, gateway, err := a.prepare(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	email := a.pendingEmail(c, fs)

	_, _, err = a.Guard.Do(submitKey(fs.ID(), "verify-email-resend"), func() (*identity.Session, error) {
		return nil, NewAccountVerificationHandler(gateway, nil).
			WithActivitySink(a.Activity).
			WithLogger(a.Logger).
			Resend(c.UserContext(), ResendVerificationMessage{Email: email})
	})
	if err != nil {
		a.Logger.Error("verification resend failed: %v", err)
		return a.redirect(c, fs, a.Routes.VerifyEmail, &Flash{Kind: FlashError, Title: UserMessage(err)})
	}

	return a.redirect(c, fs, a.Routes.VerifyEmail, &Flash{Kind: FlashSuccess, Title: "Verification email sent"})
}

func (a *AuthController) ResetPasswordShow(c *fiber.Ctx) error {
	fs, err := a.formSession(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	email := a.pendingEmail(c, fs)
	return a.render(c, fs, a.Views.ResetPassword, fiber.Map{
		"record": fiber.Map{"email": email},
	}, nil)
}

func (a *AuthController) ResetPasswordPost(c *fiber.Ctx) error {
	fs, gateway, err := a.prepare(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	email := a.pendingEmail(c, fs)
	record := fiber.Map{"email": email}

	payload := new(ResetPasswordPayload)
	if err := c.BodyParser(payload); err != nil {
		return a.parseFailure(c, fs, a.Views.ResetPassword, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalid(c, fs, a.Views.ResetPassword, record, err)
	}

	store, _ := GetAuthStore(c)

	signedIn, joined, err := a.Guard.Do(submitKey(fs.ID(), "reset-password"), func() (*identity.Session, error) {
		var got *identity.Session
		err := NewFinalizePasswordResetHandler(gateway, store).
			WithActivitySink(a.Activity).
			WithLogger(a.Logger).
			Execute(c.UserContext(), FinalizePasswordResetMessage{
				Email:      email,
				Token:      payload.Token,
				Password:   payload.Password,
				OnVerified: fs.ClearPendingEmail,
				OnResponse: func(resp *identity.AuthResponse) { got = responseSession(resp) },
			})
		return got, err
	})
	if joined {
		a.adoptJoined(c, gateway, signedIn)
		if signedIn != nil {
			fs.ClearPendingEmail()
		}
	}
	if err != nil {
		a.Logger.Error("password reset failed: %v", err)
		fieldErrors := map[string]string{}
		if FailedOperation(err) == OperationVerifyOTP {
			fieldErrors["token"] = UserMessage(err)
		}
		return a.failure(c, fs, a.Views.ResetPassword, record, fieldErrors, Flash{
			Kind:  FlashError,
			Title: UserMessage(err),
		}, err)
	}

	return a.redirect(c, fs, a.Routes.Login, &Flash{Kind: FlashSuccess, Title: "Password updated"})
}

// adoptJoined hands the session of a collapsed submit to the identity
// client of this request, so this response sets the session cookie too.
func (a *AuthController) adoptJoined(c *fiber.Ctx, gateway IdentityGateway, shared *identity.Session) {
	if shared == nil {
		return
	}
	if err := gateway.AdoptSession(shared); err != nil {
		a.Logger.Error("adopting shared session failed: %v", err)
		return
	}
	if store, ok := GetAuthStore(c); ok {
		applyVerifiedSession(store, &identity.AuthResponse{Session: shared})
	}
}

func (a *AuthController) prepare(c *fiber.Ctx) (*FormSession, IdentityGateway, error) {
	fs, err := a.formSession(c)
	if err != nil {
		return nil, nil, err
	}

	gateway, ok := a.Identity(c)
	if !ok || gateway == nil {
		return nil, nil, goerrors.New("identity client missing from request", goerrors.CategoryInternal)
	}

	return fs, gateway, nil
}

func (a *AuthController) formSession(c *fiber.Ctx) (*FormSession, error) {
	fs, err := LoadFormSession(a.Sessions, c)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load browser session")
	}
	return fs, nil
}

// pendingEmail prefers the email query parameter and remembers it for the
// rest of the browser session.
func (a *AuthController) pendingEmail(c *fiber.Ctx, fs *FormSession) string {
	if email := normalizeEmail(c.Query("email")); email != "" {
		fs.SetPendingEmail(email)
		return email
	}
	return fs.PendingEmail()
}

func (a *AuthController) show(c *fiber.Ctx, view string, data fiber.Map) error {
	fs, err := a.formSession(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return a.render(c, fs, view, data, nil)
}

func (a *AuthController) parseFailure(c *fiber.Ctx, fs *FormSession, view string, err error) error {
	a.Logger.Error("parse form payload: %v", err)
	c.Status(fiber.StatusBadRequest)
	return a.render(c, fs, view, fiber.Map{
		"record": fiber.Map{},
		"errors": a.translateMap(c, map[string]string{"form": "Something went wrong"}),
	}, &Flash{Kind: FlashError, Title: "Something went wrong"})
}

func (a *AuthController) invalid(c *fiber.Ctx, fs *FormSession, view string, record fiber.Map, err error) error {
	c.Status(fiber.StatusUnprocessableEntity)
	return a.render(c, fs, view, fiber.Map{
		"record": record,
		"errors": a.translateMap(c, FormatValidationErrorToMap(err)),
	}, nil)
}

func (a *AuthController) failure(c *fiber.Ctx, fs *FormSession, view string, record fiber.Map, fieldErrors map[string]string, flash Flash, err error) error {
	c.Status(failureStatus(err))
	if fieldErrors == nil {
		fieldErrors = map[string]string{}
	}
	return a.render(c, fs, view, fiber.Map{
		"record": record,
		"errors": a.translateMap(c, fieldErrors),
	}, &flash)
}

func (a *AuthController) render(c *fiber.Ctx, fs *FormSession, view string, data fiber.Map, flash *Flash) error {
	locale := a.locale(c)

	bind := TemplateHelpers(c, a.Translator.T)
	maps.Copy(bind, data)

	queued := fs.PopFlash()
	if flash == nil {
		flash = queued
	}
	if flash != nil {
		bind[TemplateFlashKey] = a.translateFlash(locale, *flash)
	}

	if err := fs.Save(); err != nil {
		a.Logger.Error("save browser session: %v", err)
	}

	if a.Views.Layout == "" {
		return c.Render(view, bind)
	}
	return c.Render(view, bind, a.Views.Layout)
}

func (a *AuthController) redirect(c *fiber.Ctx, fs *FormSession, path string, flash *Flash) error {
	if flash != nil {
		fs.SetFlash(*flash)
	}
	if err := fs.Save(); err != nil {
		a.Logger.Error("save browser session: %v", err)
	}

	target := path
	if a.Routing != nil {
		target = a.Routing.Localize(a.locale(c), path)
	}
	return c.Redirect(target, fiber.StatusSeeOther)
}

func (a *AuthController) locale(c *fiber.Ctx) string {
	if match, ok := proxy.MatchFromFiber(c); ok && match.Locale != "" {
		return match.Locale
	}
	if locale, ok := LocaleFromContext(c.UserContext()); ok {
		return locale
	}
	if a.Routing != nil {
		return a.Routing.DefaultLocale()
	}
	return ""
}

func (a *AuthController) translateMap(c *fiber.Ctx, m map[string]string) map[string]string {
	return a.Translator.Map(a.locale(c), m)
}

func (a *AuthController) translateFlash(locale string, f Flash) Flash {
	f.Title = a.Translator.T(locale, f.Title)
	f.Description = a.Translator.T(locale, f.Description)
	return f
}

func (a *AuthController) dump(label string, v any) {
	if !a.Debug {
		return
	}
	fmt.Printf("======= %s ======\n", label)
	fmt.Println(print.MaybePrettyJSON(v))
	fmt.Println("=========================")
}

func (a *AuthController) defaultErrHandler(c *fiber.Ctx, err error) error {
	a.Logger.Error("auth controller: %v", err)
	return c.Status(fiber.StatusInternalServerError).Render(a.Views.Error, fiber.Map{
		"message": UserMessage(err),
	})
}

func failureStatus(err error) int {
	if IsRateLimited(err) {
		return fiber.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fiber.StatusGatewayTimeout
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode == TextCodeIdentityUnavailable {
		return fiber.StatusBadGateway
	}
	return fiber.StatusBadRequest
}
