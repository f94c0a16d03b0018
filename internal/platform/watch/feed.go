// Package watch provides cancellable live subscriptions.
//
// A Feed delivers full-state snapshots to a consumer on its own goroutine.
// Snapshots replace each other, so a slow consumer only ever sees the newest
// pending one. Cancelling a feed suppresses every delivery that has not yet
// started and releases its backend resources exactly once.
package watch

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
)

// CancelFunc stops a subscription. It is safe to call more than once.
type CancelFunc func()

// Feed is the delivery side of one subscription.
type Feed[T any] struct {
	id      string
	onNext  func(T)
	onError func(error)

	mu         sync.Mutex
	pending    T
	hasPending bool
	err        error
	failed     bool
	stopped    bool
	draining   bool
	releases   []func()
	released   bool
	done       chan struct{}
}

// NewFeed returns a feed that delivers snapshots to onNext and a terminal
// error to onError. Either callback may be nil.
func NewFeed[T any](onNext func(T), onError func(error)) *Feed[T] {
	if onNext == nil {
		onNext = func(T) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Feed[T]{
		id:      ulid.MustNew(ulid.Now(), rand.Reader).String(),
		onNext:  onNext,
		onError: onError,
		done:    make(chan struct{}),
	}
}

// ID identifies the subscription in logs and metrics.
func (f *Feed[T]) ID() string {
	return f.id
}

// Publish queues a snapshot, replacing any snapshot not yet delivered.
func (f *Feed[T]) Publish(value T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped || f.failed {
		return
	}
	f.pending = value
	f.hasPending = true
	f.startDrainLocked()
}

// Fail ends the subscription with err after pending snapshots are delivered.
func (f *Feed[T]) Fail(err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped || f.failed {
		return
	}
	f.failed = true
	f.err = err
	f.startDrainLocked()
}

// Cancel stops delivery and releases resources registered with OnCancel.
func (f *Feed[T]) Cancel() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	var zero T
	f.pending = zero
	f.hasPending = false
	f.mu.Unlock()
	f.release()
}

// OnCancel registers fn to run once when the feed is cancelled or fails.
// If the feed is already finished fn runs immediately.
func (f *Feed[T]) OnCancel(fn func()) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		fn()
		return
	}
	f.releases = append(f.releases, fn)
	f.mu.Unlock()
}

// Done is closed once the feed is cancelled or has delivered its error.
func (f *Feed[T]) Done() <-chan struct{} {
	return f.done
}

// Stopped reports whether Cancel was called.
func (f *Feed[T]) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *Feed[T]) startDrainLocked() {
	if f.draining {
		return
	}
	f.draining = true
	go f.drain()
}

func (f *Feed[T]) drain() {
	for {
		f.mu.Lock()
		switch {
		case f.stopped:
			f.draining = false
			f.mu.Unlock()
			return
		case f.hasPending:
			value := f.pending
			var zero T
			f.pending = zero
			f.hasPending = false
			f.mu.Unlock()
			f.onNext(value)
		case f.failed:
			err := f.err
			f.stopped = true
			f.draining = false
			f.mu.Unlock()
			f.onError(err)
			f.release()
			return
		default:
			f.draining = false
			f.mu.Unlock()
			return
		}
	}
}

func (f *Feed[T]) release() {
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return
	}
	f.released = true
	releases := f.releases
	f.releases = nil
	f.mu.Unlock()

	close(f.done)
	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
}
