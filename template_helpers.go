package anihive

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/anihive/anihive/middleware/proxy"
	"github.com/gofiber/fiber/v2"
)

const (
	TemplateHeaderKey = "header"
	TemplateFlashKey  = "flash"
	TemplateSiteKey   = "site"
	TemplateCSRFKey   = "csrf_token"
	TemplateLocaleKey = "locale"
)

// CSRFContextKey is the fiber local the csrf middleware stores its token in.
var CSRFContextKey = "csrf"

// SiteMeta is the document metadata of every page.
type SiteMeta struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

var DefaultSiteMeta = SiteMeta{
	Title:       "AniHive",
	Description: "AniHive is a place where you can find and share your favorite anime",
}

// HeaderView is what the header template needs to draw the menu and the
// user area.
type HeaderView struct {
	Locale        string       `json:"locale"`
	Ready         bool         `json:"ready"`
	Authenticated bool         `json:"authenticated"`
	Email         string       `json:"email,omitempty"`
	DisplayName   string       `json:"display_name,omitempty"`
	Initials      string       `json:"initials,omitempty"`
	AvatarURL     string       `json:"avatar_url,omitempty"`
	ProfileError  string       `json:"profile_error,omitempty"`
	Navigation    []NavItem    `json:"navigation"`
	Labels        HeaderLabels `json:"labels"`
}

// HeaderLabels are the translated texts of the user area.
type HeaderLabels struct {
	SignIn             string `json:"sign_in"`
	SignUp             string `json:"sign_up"`
	SignOut            string `json:"sign_out"`
	ProfileUnavailable string `json:"profile_unavailable"`
}

func buildHeaderLabels(tr func(string) string) HeaderLabels {
	if tr == nil {
		tr = func(key string) string { return key }
	}
	return HeaderLabels{
		SignIn:             tr("Sign in"),
		SignUp:             tr("Sign up"),
		SignOut:            tr("Sign out"),
		ProfileUnavailable: tr("Profile unavailable"),
	}
}

// BuildHeaderView derives the header from the auth state of the request.
// Until the state is initialized the proxy's view of the session is used.
func BuildHeaderView(state AuthState, match proxy.NavigationMatch, tr func(string) string) HeaderView {
	view := HeaderView{
		Locale:     match.Locale,
		Ready:      state.Initialized,
		Navigation: BuildNavigation(DefaultNavigation, match.PathnameWithoutLocale, tr),
		Labels:     buildHeaderLabels(tr),
	}

	if !state.Initialized {
		view.Authenticated = match.IsAuthenticated
		return view
	}

	view.Authenticated = state.IsAuthenticated()
	if !view.Authenticated {
		return view
	}

	if state.User != nil {
		view.Email = state.User.Email
	}
	view.DisplayName = state.Profile.DisplayName(view.Email)
	view.Initials = initials(view.DisplayName)
	view.AvatarURL = state.Profile.AvatarURL()
	view.ProfileError = state.ProfileError

	return view
}

// TemplateHelpers returns the data every page template receives: header,
// locale, site metadata and the csrf token when one is set.
//
// In templates:
//
//	{% if header.Authenticated %}
//	<input type="hidden" name="_csrf" value="{{ csrf_token }}">
func TemplateHelpers(c *fiber.Ctx, tr func(locale, key string) string) fiber.Map {
	match, ok := proxy.MatchFromFiber(c)
	if !ok {
		match = proxy.NavigationMatch{PathnameWithoutLocale: c.Path()}
	}
	if locale, ok := LocaleFromContext(c.UserContext()); ok && match.Locale == "" {
		match.Locale = locale
	}

	translate := func(key string) string {
		if tr == nil {
			return key
		}
		return tr(match.Locale, key)
	}

	helpers := fiber.Map{
		TemplateHeaderKey: BuildHeaderView(AuthSnapshot(c), match, translate),
		TemplateLocaleKey: match.Locale,
		TemplateSiteKey:   DefaultSiteMeta,
	}

	if token, ok := c.Locals(CSRFContextKey).(string); ok && token != "" {
		helpers[TemplateCSRFKey] = token
	}

	return helpers
}

func initials(name string) string {
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '_' || r == '-'
	})

	var b strings.Builder
	for _, f := range fields {
		r, _ := utf8.DecodeRuneInString(f)
		b.WriteRune(unicode.ToUpper(r))
		if utf8.RuneCountInString(b.String()) == 2 {
			break
		}
	}
	return b.String()
}
