package anihive

import (
	"github.com/anihive/anihive/identity"
	"golang.org/x/sync/singleflight"
)

// SubmitGuard collapses concurrent submits of the same form from the same
// browser session into one call. Callers that joined an in-flight call get
// its result, including the session it produced.
type SubmitGuard struct {
	group singleflight.Group
}

// Do runs fn unless a call with the same key is in flight. joined reports
// whether the result came from another caller's run. Such a caller runs in
// a different request, so the session has to be adopted by its own
// identity client before the response is written.
func (g *SubmitGuard) Do(key string, fn func() (*identity.Session, error)) (session *identity.Session, joined bool, err error) {
	ran := false
	v, err, _ := g.group.Do(key, func() (any, error) {
		ran = true
		return fn()
	})
	session, _ = v.(*identity.Session)
	return session, !ran, err
}

func submitKey(sessionID, form string) string {
	return form + ":" + sessionID
}
