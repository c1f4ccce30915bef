package proxy

import (
	"github.com/anihive/anihive/i18n"
)

// DefaultAuthPages are the pages only anonymous visitors may open.
var DefaultAuthPages = []string{
	"/login",
	"/registration",
	"/forgot-password",
	"/verify-email",
}

// NavigationMatch describes the current request for the rest of the chain.
type NavigationMatch struct {
	Locale                string
	PathnameWithoutLocale string
	IsAuthPage            bool
	IsAuthenticated       bool
}

// Policy holds the access rules applied by Decide.
type Policy struct {
	AuthPages []string
	// LoginWall sends anonymous visitors of non public pages to LoginPath.
	LoginWall   bool
	LoginPath   string
	PublicPaths []string
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		AuthPages: DefaultAuthPages,
		LoginPath: "/login",
		PublicPaths: []string{
			"/",
		},
	}
}

// IsAuthPage reports whether pathname is one of the auth pages. The match
// is exact.
func (p Policy) IsAuthPage(pathname string) bool {
	return contains(p.AuthPages, pathname)
}

func (p Policy) isPublic(pathname string) bool {
	return contains(p.PublicPaths, pathname)
}

// Action is what the proxy does with a request.
type Action int

const (
	// ActionContinue passes the request down the chain.
	ActionContinue Action = iota
	// ActionRedirect answers with a redirect to Decision.Location.
	ActionRedirect
)

func (a Action) String() string {
	if a == ActionRedirect {
		return "redirect"
	}
	return "continue"
}

// Reasons reported with a Decision.
const (
	ReasonPass          = "pass"
	ReasonLocale        = "locale"
	ReasonAuthenticated = "authenticated"
	ReasonLoginWall     = "login_wall"
)

// Decision is the outcome of Decide.
type Decision struct {
	Action   Action
	Location string
	Reason   string
}

// Decide applies the policy to a request. Locale cookies from res are
// written whatever the decision.
func Decide(match NavigationMatch, res i18n.Resolution, policy Policy) Decision {
	if match.IsAuthenticated && match.IsAuthPage {
		return Decision{
			Action:   ActionRedirect,
			Location: res.Root(),
			Reason:   ReasonAuthenticated,
		}
	}

	if policy.LoginWall && !match.IsAuthenticated && !match.IsAuthPage &&
		!policy.isPublic(match.PathnameWithoutLocale) {
		login := policy.LoginPath
		if login == "" {
			login = "/login"
		}
		return Decision{
			Action:   ActionRedirect,
			Location: res.Localize(login),
			Reason:   ReasonLoginWall,
		}
	}

	if res.Redirect != "" {
		return Decision{
			Action:   ActionRedirect,
			Location: res.Redirect,
			Reason:   ReasonLocale,
		}
	}

	return Decision{Action: ActionContinue, Reason: ReasonPass}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
