package watch

import (
	"context"
	"iter"
	"sync"
)

// SubscribeFunc opens a subscription and returns its cancellation.
type SubscribeFunc[T any] func(onNext func(T), onError func(error)) CancelFunc

// Stream adapts a callback subscription into a lazy sequence. The
// subscription opens on the first iteration and is cancelled when the loop
// exits, ctx ends, or the subscription fails. A failure or context error is
// yielded once as the final element.
func Stream[T any](ctx context.Context, subscribe SubscribeFunc[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if ctx == nil {
			ctx = context.Background()
		}
		var (
			mu      sync.Mutex
			latest  T
			fresh   bool
			failure error
			signal  = make(chan struct{}, 1)
		)
		notify := func() {
			select {
			case signal <- struct{}{}:
			default:
			}
		}
		cancel := subscribe(
			func(value T) {
				mu.Lock()
				latest, fresh = value, true
				mu.Unlock()
				notify()
			},
			func(err error) {
				mu.Lock()
				failure = err
				mu.Unlock()
				notify()
			},
		)
		if cancel != nil {
			defer cancel()
		}

		var zero T
		for {
			select {
			case <-ctx.Done():
				yield(zero, ctx.Err())
				return
			case <-signal:
			}

			mu.Lock()
			value, ok, err := latest, fresh, failure
			latest, fresh = zero, false
			mu.Unlock()

			if ok && !yield(value, nil) {
				return
			}
			if err != nil {
				yield(zero, err)
				return
			}
		}
	}
}
