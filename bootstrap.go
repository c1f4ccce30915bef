package anihive

import (
	"context"
	"sync"

	"github.com/anihive/anihive/identity"
)

// Profile fetch outcomes reported to a ProfileObserver.
const (
	ProfileFetchOK       = "ok"
	ProfileFetchNotFound = "not_found"
	ProfileFetchError    = "error"
	ProfileFetchStale    = "stale"
)

// ProfileObserver is told how each profile fetch ended.
type ProfileObserver func(outcome string)

// Bootstrapper keeps an AuthStore in sync with the identity session: it
// loads the initial session, follows session change events and loads the
// profile of the signed in user.
type Bootstrapper struct {
	source   SessionSource
	store    *AuthStore
	profiles ProfileFinder
	logger   Logger
	observe  ProfileObserver

	sessionGuard LatestWins
	profileGuard LatestWins

	mu         sync.Mutex
	live       context.Context
	cancel     context.CancelFunc
	sub        *identity.Subscription
	unsubStore func()
	lastUserID string
	pending    int
	idle       chan struct{}
}

// BootstrapOption configures a Bootstrapper.
type BootstrapOption func(*Bootstrapper)

// WithBootstrapLogger sets the logger.
func WithBootstrapLogger(l Logger) BootstrapOption {
	return func(b *Bootstrapper) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithProfileObserver sets the profile fetch observer.
func WithProfileObserver(o ProfileObserver) BootstrapOption {
	return func(b *Bootstrapper) {
		b.observe = o
	}
}

// NewBootstrapper wires source, store and profiles together. profiles may
// be nil, in which case no profile is ever loaded.
func NewBootstrapper(source SessionSource, store *AuthStore, profiles ProfileFinder, opts ...BootstrapOption) *Bootstrapper {
	b := &Bootstrapper{
		source:   source,
		store:    store,
		profiles: profiles,
		logger:   nopLogger{},
		observe:  func(string) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.observe == nil {
		b.observe = func(string) {}
	}
	return b
}

// Mount subscribes to session changes and starts loading the initial
// session. It returns right away; use Wait to block until loading settled.
func (b *Bootstrapper) Mount(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return ErrAlreadyMounted
	}
	b.live, b.cancel = context.WithCancel(ctx)
	b.lastUserID = ""
	live := b.live
	b.mu.Unlock()

	sub := b.source.OnAuthStateChange(b.onAuthChange)
	unsub := b.store.Subscribe(b.onStoreChange)

	b.mu.Lock()
	b.sub, b.unsubStore = sub, unsub
	b.mu.Unlock()

	ticket := b.sessionGuard.Issue()
	b.begin()
	go b.bootstrap(live, ticket)

	return nil
}

// Unmount stops following the session. Results still in flight are
// dropped.
func (b *Bootstrapper) Unmount() {
	b.mu.Lock()
	cancel, sub, unsub := b.cancel, b.sub, b.unsubStore
	b.cancel, b.sub, b.unsubStore = nil, nil, nil
	b.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	sub.Unsubscribe()
	if unsub != nil {
		unsub()
	}
	b.sessionGuard.Invalidate()
	b.profileGuard.Invalidate()
}

// Wait blocks until the initial session and every profile fetch issued so
// far have finished, or ctx is done.
func (b *Bootstrapper) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.pending == 0 {
			b.mu.Unlock()
			return nil
		}
		idle := b.idle
		b.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Bootstrapper) bootstrap(live context.Context, ticket Ticket) {
	defer b.done()

	session, err := b.source.GetSession(live)
	if err != nil {
		b.logger.Debug("bootstrap session read failed: %v", err)
		session = nil
	}

	if live.Err() != nil {
		return
	}

	applied := b.sessionGuard.Commit(ticket, func() {
		b.store.SetSession(session)
		b.store.SetInitialized(true)
	})
	if !applied {
		b.logger.Debug("bootstrap session superseded by a session event")
	}
}

func (b *Bootstrapper) onAuthChange(event identity.AuthChangeEvent, session *identity.Session) {
	if !b.alive() {
		return
	}

	b.logger.Debug("session event %s", event)

	ticket := b.sessionGuard.Issue()
	b.sessionGuard.Commit(ticket, func() {
		b.store.SetSession(session)
		b.store.SetInitialized(true)
	})
}

func (b *Bootstrapper) onStoreChange(next, prev AuthState) {
	if next.Session == prev.Session {
		return
	}
	if !b.alive() {
		return
	}
	b.syncProfile(next)
}

func (b *Bootstrapper) syncProfile(state AuthState) {
	userID := state.UserID()

	if userID == "" {
		b.profileGuard.Invalidate()
		b.mu.Lock()
		b.lastUserID = ""
		b.mu.Unlock()
		if state.Profile != nil || state.ProfileError != "" {
			b.store.SetProfile(nil)
		}
		return
	}

	b.mu.Lock()
	sameUser := b.lastUserID == userID
	if sameUser && state.Profile.BelongsTo(userID) {
		b.mu.Unlock()
		return
	}
	b.lastUserID = userID
	live := b.live
	b.mu.Unlock()

	if b.profiles == nil {
		return
	}

	ticket := b.profileGuard.Issue()
	if state.ProfileError != "" {
		b.store.ClearProfileError()
	}

	b.begin()
	go b.fetchProfile(live, ticket, userID)
}

func (b *Bootstrapper) fetchProfile(live context.Context, ticket Ticket, userID string) {
	defer b.done()

	profile, err := b.profiles.FindProfile(live, userID)
	if live.Err() != nil {
		return
	}

	outcome := ProfileFetchOK
	applied := b.profileGuard.Commit(ticket, func() {
		switch {
		case err != nil:
			outcome = ProfileFetchError
			b.store.SetProfileError(err.Error())
		case profile == nil:
			outcome = ProfileFetchNotFound
			b.store.SetProfile(nil)
		default:
			b.store.SetProfile(profile)
		}
	})

	if !applied {
		b.logger.Debug("dropping stale profile result for user %s", userID)
		outcome = ProfileFetchStale
	} else if err != nil {
		b.logger.Error("profile fetch for user %s failed: %v", userID, err)
	}

	b.observe(outcome)
}

func (b *Bootstrapper) alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live != nil && b.cancel != nil && b.live.Err() == nil
}

func (b *Bootstrapper) begin() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == 0 {
		b.idle = make(chan struct{})
	}
	b.pending++
}

func (b *Bootstrapper) done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending--
	if b.pending == 0 {
		close(b.idle)
	}
}
