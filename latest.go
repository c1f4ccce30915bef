package anihive

import (
	"sync"
)

// Ticket identifies one asynchronous request issued through LatestWins.
type Ticket uint64

// LatestWins orders asynchronous results: only the result of the most
// recently issued ticket may be committed. Earlier tickets are dropped,
// they are not cancelled.
type LatestWins struct {
	mu      sync.Mutex
	current Ticket
}

// Issue starts a new request and supersedes every earlier ticket.
func (l *LatestWins) Issue() Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current++
	return l.current
}

// Invalidate supersedes every issued ticket without starting a request.
func (l *LatestWins) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current++
}

// IsCurrent reports whether t is still the latest ticket.
func (l *LatestWins) IsCurrent(t Ticket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return t == l.current
}

// Commit runs fn if t is still the latest ticket and reports whether it
// did. fn runs with the guard held, so no ticket can be issued between the
// check and the write. fn must not call back into the same LatestWins.
func (l *LatestWins) Commit(t Ticket, fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t != l.current {
		return false
	}
	if fn != nil {
		fn()
	}
	return true
}
