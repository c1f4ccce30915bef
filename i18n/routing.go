// Package i18n resolves the locale of a request and the canonical URL it
// should be served from.
package i18n

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// PrefixMode controls whether locales appear as the first path segment.
type PrefixMode string

const (
	// PrefixNever serves every locale from unprefixed URLs and keeps the
	// locale in a cookie.
	PrefixNever PrefixMode = "never"
	// PrefixAlways serves every locale from /<locale>/...
	PrefixAlways PrefixMode = "always"
	// PrefixAsNeeded prefixes every locale but the default one.
	PrefixAsNeeded PrefixMode = "as-needed"
)

// DefaultCookieName stores the locale picked for the browser.
const DefaultCookieName = "HIVE_LOCALE"

// Config describes the supported locales.
type Config struct {
	Locales       []string
	DefaultLocale string
	Mode          PrefixMode
	CookieName    string
	// Aliases maps locale codes that are not BCP 47 tags to one that is,
	// e.g. "ua" to "uk".
	Aliases map[string]string
}

// DefaultConfig returns the AniHive locale setup.
func DefaultConfig() Config {
	return Config{
		Locales:       []string{"en", "ua"},
		DefaultLocale: "ua",
		Mode:          PrefixNever,
		CookieName:    DefaultCookieName,
		Aliases:       map[string]string{"ua": "uk"},
	}
}

// Routing resolves locales for incoming requests.
type Routing struct {
	cfg     Config
	matcher language.Matcher
	known   map[string]string
}

// New validates cfg and builds a Routing.
func New(cfg Config) (*Routing, error) {
	if len(cfg.Locales) == 0 {
		return nil, fmt.Errorf("i18n: at least one locale is required")
	}

	if cfg.Mode == "" {
		cfg.Mode = PrefixNever
	}

	switch cfg.Mode {
	case PrefixNever, PrefixAlways, PrefixAsNeeded:
	default:
		return nil, fmt.Errorf("i18n: unknown prefix mode %q", cfg.Mode)
	}

	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}

	r := &Routing{cfg: cfg, known: make(map[string]string, len(cfg.Locales))}

	tags := make([]language.Tag, 0, len(cfg.Locales))
	for _, code := range cfg.Locales {
		tag, err := language.Parse(r.bcp47(code))
		if err != nil {
			return nil, fmt.Errorf("i18n: locale %q: %w", code, err)
		}
		tags = append(tags, tag)
		r.known[strings.ToLower(code)] = code
	}

	if cfg.DefaultLocale == "" {
		r.cfg.DefaultLocale = cfg.Locales[0]
	}

	if _, ok := r.known[strings.ToLower(r.cfg.DefaultLocale)]; !ok {
		return nil, fmt.Errorf("i18n: default locale %q is not a supported locale", cfg.DefaultLocale)
	}

	r.matcher = language.NewMatcher(tags)
	return r, nil
}

// MustNew is like New but panics on an invalid config.
func MustNew(cfg Config) *Routing {
	r, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return r
}

// Locales returns the supported locale codes.
func (r *Routing) Locales() []string {
	return append([]string(nil), r.cfg.Locales...)
}

// DefaultLocale returns the locale used when nothing else matches.
func (r *Routing) DefaultLocale() string {
	return r.cfg.DefaultLocale
}

// CookieName returns the name of the locale cookie.
func (r *Routing) CookieName() string {
	return r.cfg.CookieName
}

// Tag returns the language tag of a locale code.
func (r *Routing) Tag(locale string) language.Tag {
	tag, err := language.Parse(r.bcp47(locale))
	if err != nil {
		return language.Und
	}
	return tag
}

// IsLocale reports whether code is a supported locale.
func (r *Routing) IsLocale(code string) bool {
	_, ok := r.known[strings.ToLower(code)]
	return ok
}

// Request is the part of an HTTP request locale routing looks at.
type Request struct {
	Path           string
	RawQuery       string
	Cookie         string
	AcceptLanguage string
}

// Cookie is a cookie the response must carry.
type Cookie struct {
	Name   string
	Value  string
	MaxAge int
}

// Resolution is the outcome of locale routing for one request.
type Resolution struct {
	Locale string
	// Prefixed reports whether the request path carried the locale.
	Prefixed bool
	// Pathname is the request path without its locale prefix.
	Pathname string
	// Redirect is set when the request must move to its canonical URL.
	Redirect string
	Cookies  []Cookie

	mode          PrefixMode
	defaultLocale string
}

// Localize returns path as served for the resolved locale.
func (res Resolution) Localize(path string) string {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}

	prefix := false
	switch res.mode {
	case PrefixAlways:
		prefix = true
	case PrefixAsNeeded:
		prefix = res.Locale != res.defaultLocale
	}

	if !prefix {
		return path
	}

	if path == "/" {
		return "/" + res.Locale
	}
	return "/" + res.Locale + path
}

// Root returns the home page of the resolved locale.
func (res Resolution) Root() string {
	return res.Localize("/")
}

// Localize returns path as served for locale.
func (r *Routing) Localize(locale, path string) string {
	if !r.IsLocale(locale) {
		locale = r.cfg.DefaultLocale
	}
	res := Resolution{Locale: locale, mode: r.cfg.Mode, defaultLocale: r.cfg.DefaultLocale}
	return res.Localize(path)
}

const localeCookieMaxAge = 365 * 24 * 60 * 60

// Resolve picks the locale of req. Detection order is path prefix, locale
// cookie, Accept-Language and finally the default locale.
func (r *Routing) Resolve(req Request) Resolution {
	res := Resolution{
		mode:          r.cfg.Mode,
		defaultLocale: r.cfg.DefaultLocale,
	}

	prefix, rest := r.SplitLocale(req.Path)
	res.Pathname = rest

	switch {
	case prefix != "":
		res.Locale = prefix
		res.Prefixed = true
	case r.IsLocale(req.Cookie):
		res.Locale = r.known[strings.ToLower(req.Cookie)]
	default:
		res.Locale = r.negotiate(req.AcceptLanguage)
	}

	if !strings.EqualFold(req.Cookie, res.Locale) {
		res.Cookies = append(res.Cookies, Cookie{
			Name:   r.cfg.CookieName,
			Value:  res.Locale,
			MaxAge: localeCookieMaxAge,
		})
	}

	canonical := res.Localize(res.Pathname)
	current := req.Path
	if current == "" {
		current = "/"
	}

	if canonical != current {
		target := canonical
		if req.RawQuery != "" {
			target += "?" + req.RawQuery
		}
		res.Redirect = target
	}

	return res
}

// SplitLocale separates a leading locale segment from path.
func (r *Routing) SplitLocale(path string) (locale, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	first, tail, _ := strings.Cut(trimmed, "/")

	if !r.IsLocale(first) {
		if path == "" {
			return "", "/"
		}
		return "", path
	}

	return r.known[strings.ToLower(first)], "/" + tail
}

func (r *Routing) negotiate(header string) string {
	if header == "" {
		return r.cfg.DefaultLocale
	}

	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return r.cfg.DefaultLocale
	}

	_, idx, confidence := r.matcher.Match(tags...)
	if confidence == language.No || idx < 0 || idx >= len(r.cfg.Locales) {
		return r.cfg.DefaultLocale
	}

	return r.cfg.Locales[idx]
}

func (r *Routing) bcp47(code string) string {
	if alias, ok := r.cfg.Aliases[strings.ToLower(code)]; ok {
		return alias
	}
	return code
}
