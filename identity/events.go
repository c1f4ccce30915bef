package identity

import (
	"sync"
)

// AuthChangeEvent names a change of the client session.
type AuthChangeEvent string

const (
	EventSignedIn         AuthChangeEvent = "SIGNED_IN"
	EventSignedOut        AuthChangeEvent = "SIGNED_OUT"
	EventTokenRefreshed   AuthChangeEvent = "TOKEN_REFRESHED"
	EventUserUpdated      AuthChangeEvent = "USER_UPDATED"
	EventPasswordRecovery AuthChangeEvent = "PASSWORD_RECOVERY"
)

// AuthChangeListener receives every session change of a client.
// session is nil after a sign out.
type AuthChangeListener func(event AuthChangeEvent, session *Session)

// Subscription is the handle returned by OnAuthStateChange.
type Subscription struct {
	id   uint64
	hub  *hub
	once sync.Once
}

// Unsubscribe stops event delivery. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.remove(s.id)
	})
}

type hub struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[uint64]AuthChangeListener
}

func newHub() *hub {
	return &hub{listeners: make(map[uint64]AuthChangeListener)}
}

func (h *hub) subscribe(fn AuthChangeListener) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.listeners[h.next] = fn
	return &Subscription{id: h.next, hub: h}
}

func (h *hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, id)
}

func (h *hub) emit(event AuthChangeEvent, session *Session) {
	h.mu.RLock()
	listeners := make([]AuthChangeListener, 0, len(h.listeners))
	for _, fn := range h.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.RUnlock()

	for _, fn := range listeners {
		fn(event, session)
	}
}

func (h *hub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}
