// Package session models the authenticated session the social layer acts for.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/louisbranch/bliss/internal/platform/watch"
)

// Session is the signed-in user.
type Session struct {
	UserID        string
	EmailVerified bool
}

// Event reports a session change. A nil Session means signed out.
type Event struct {
	Session *Session
}

// SignedIn reports whether the event carries a session.
func (e Event) SignedIn() bool {
	return e.Session != nil && e.Session.UserID != ""
}

// RefreshFunc re-reads session state from the identity provider.
type RefreshFunc func(ctx context.Context, current Session) (Session, error)

// ErrSignedOut is returned by Refresh without a current session.
var ErrSignedOut = errors.New("no active session")

// Tracker holds the current session and broadcasts changes. It is passed to
// the components that need it rather than kept as global state.
type Tracker struct {
	refresh RefreshFunc

	mu      sync.Mutex
	current *Session
	feeds   map[string]*watch.Feed[Event]
}

// NewTracker returns a signed-out tracker. refresh may be nil, in which case
// Refresh returns the current session unchanged.
func NewTracker(refresh RefreshFunc) *Tracker {
	return &Tracker{refresh: refresh, feeds: make(map[string]*watch.Feed[Event])}
}

// Current returns the active session.
func (t *Tracker) Current() (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return Session{}, false
	}
	return *t.current, true
}

// SignIn replaces the active session.
func (t *Tracker) SignIn(s Session) {
	s.UserID = strings.TrimSpace(s.UserID)
	if s.UserID == "" {
		t.SignOut()
		return
	}
	t.set(&s)
}

// SignOut clears the active session.
func (t *Tracker) SignOut() {
	t.set(nil)
}

// Refresh forces a re-read of the active session, for example after the
// user verifies their email.
func (t *Tracker) Refresh(ctx context.Context) (Session, error) {
	current, ok := t.Current()
	if !ok {
		return Session{}, ErrSignedOut
	}
	if t.refresh == nil {
		return current, nil
	}
	next, err := t.refresh(ctx, current)
	if err != nil {
		return Session{}, err
	}
	t.SignIn(next)
	return next, nil
}

// Subscribe delivers the current state now and every change after it.
func (t *Tracker) Subscribe(onEvent func(Event)) watch.CancelFunc {
	feed := watch.NewFeed(onEvent, nil)
	t.mu.Lock()
	t.feeds[feed.ID()] = feed
	feed.Publish(eventFor(t.current))
	t.mu.Unlock()
	feed.OnCancel(func() {
		t.mu.Lock()
		delete(t.feeds, feed.ID())
		t.mu.Unlock()
	})
	return feed.Cancel
}

func (t *Tracker) set(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sameSession(t.current, s) {
		return
	}
	t.current = s
	event := eventFor(s)
	for _, feed := range t.feeds {
		feed.Publish(event)
	}
}

func eventFor(s *Session) Event {
	if s == nil {
		return Event{}
	}
	dup := *s
	return Event{Session: &dup}
}

func sameSession(a, b *Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
