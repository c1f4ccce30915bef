package anihive

import (
	"context"
	"sync"

	"github.com/anihive/anihive/identity"
)

// AuthState is the auth view of one browser session.
//
// User is set exactly when Session is set. At most one of Profile and
// ProfileError is set. Initialized only goes back to false through Reset.
type AuthState struct {
	Initialized  bool
	Session      *identity.Session
	User         *identity.User
	Profile      *Profile
	ProfileError string
}

// IsAuthenticated reports whether a user is signed in.
func (s AuthState) IsAuthenticated() bool {
	return s.User != nil
}

// UserID returns the signed in user id or an empty string.
func (s AuthState) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

// StoreListener is notified after every change with the new and the
// previous state.
type StoreListener func(next, prev AuthState)

// AuthStore holds the AuthState shared by the components of a request.
// Listeners run after the store lock is released and may update the store.
type AuthStore struct {
	signOuter SignOuter

	mu        sync.Mutex
	state     AuthState
	nextID    uint64
	listeners map[uint64]StoreListener
}

// NewAuthStore creates an empty store. signOuter ends the identity session
// on SignOut.
func NewAuthStore(signOuter SignOuter) *AuthStore {
	return &AuthStore{
		signOuter: signOuter,
		listeners: make(map[uint64]StoreListener),
	}
}

// Snapshot returns the current state.
func (s *AuthStore) Snapshot() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn and returns a func removing it.
func (s *AuthStore) Subscribe(fn StoreListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
		})
	}
}

// SetSession stores session and the user it carries. A nil session signs
// the user out locally.
func (s *AuthStore) SetSession(session *identity.Session) {
	s.update(func(st *AuthState) {
		st.Session = session
		st.User = nil
		if session != nil {
			st.User = session.User
			if st.User == nil {
				st.User = &identity.User{}
			}
		}
	})
}

// SetInitialized records that the first session read finished. It never
// moves the flag back to false.
func (s *AuthStore) SetInitialized(v bool) {
	s.update(func(st *AuthState) {
		if v {
			st.Initialized = true
		}
	})
}

// SetProfile stores the profile and clears any profile error.
func (s *AuthStore) SetProfile(profile *Profile) {
	s.update(func(st *AuthState) {
		st.Profile = profile
		st.ProfileError = ""
	})
}

// SetProfileError stores a profile load failure and clears the profile.
func (s *AuthStore) SetProfileError(msg string) {
	s.update(func(st *AuthState) {
		st.ProfileError = msg
		if msg != "" {
			st.Profile = nil
		}
	})
}

// ClearProfileError clears the profile error and keeps the profile.
func (s *AuthStore) ClearProfileError() {
	s.update(func(st *AuthState) {
		st.ProfileError = ""
	})
}

// SignOut ends the identity session. The state is only cleared when the
// identity service accepted the sign out.
func (s *AuthStore) SignOut(ctx context.Context) error {
	if s.signOuter != nil {
		if err := s.signOuter.SignOut(ctx); err != nil {
			return wrapIdentityError(err, OperationSignOut)
		}
	}

	s.update(func(st *AuthState) {
		st.Session = nil
		st.User = nil
		st.Profile = nil
		st.ProfileError = ""
	})
	return nil
}

// Reset returns the store to its initial state.
func (s *AuthStore) Reset() {
	s.update(func(st *AuthState) {
		*st = AuthState{}
	})
}

func (s *AuthStore) update(fn func(st *AuthState)) {
	s.mu.Lock()
	prev := s.state
	next := prev
	fn(&next)

	if next == prev {
		s.mu.Unlock()
		return
	}

	s.state = next
	listeners := make([]StoreListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(next, prev)
	}
}
