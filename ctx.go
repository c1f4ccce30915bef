package anihive

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

var storeCtxKey = &contextKey{"auth-store"}
var localeCtxKey = &contextKey{"locale"}

// StoreLocalsKey holds the request AuthStore in fiber locals.
const StoreLocalsKey = "auth_store"

type contextKey struct {
	name string
}

// WithAuthStore sets the AuthStore in the given context
func WithAuthStore(ctx context.Context, store *AuthStore) context.Context {
	return context.WithValue(ctx, storeCtxKey, store)
}

// AuthStoreFromContext finds the AuthStore in the context.
func AuthStoreFromContext(ctx context.Context) (*AuthStore, bool) {
	store, ok := ctx.Value(storeCtxKey).(*AuthStore)
	return store, ok && store != nil
}

// WithLocale sets the request locale in the given context
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeCtxKey, locale)
}

// LocaleFromContext returns the locale stored with WithLocale.
func LocaleFromContext(ctx context.Context) (string, bool) {
	locale, ok := ctx.Value(localeCtxKey).(string)
	return locale, ok && locale != ""
}

// GetAuthStore returns the AuthStore mounted for the request.
func GetAuthStore(c *fiber.Ctx) (*AuthStore, bool) {
	store, ok := c.Locals(StoreLocalsKey).(*AuthStore)
	if ok && store != nil {
		return store, true
	}
	return AuthStoreFromContext(c.UserContext())
}

// AuthSnapshot returns the auth state of the request, or the zero state
// when no store was mounted.
func AuthSnapshot(c *fiber.Ctx) AuthState {
	store, ok := GetAuthStore(c)
	if !ok {
		return AuthState{}
	}
	return store.Snapshot()
}
