package engine

import (
	"context"
	"sync"

	"github.com/louisbranch/bliss/internal/services/social/storage"
)

type watcher struct {
	matches func(storage.DocumentRef) bool
	refresh func(context.Context)
	cancel  func()
}

// hub re-reads and republishes watched state after each commit. Notifications
// are serialized so every watcher observes commits in apply order.
type hub struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	watchers map[string]watcher
}

func newHub() *hub {
	return &hub{watchers: make(map[string]watcher)}
}

func (h *hub) watch(id string, matches func(storage.DocumentRef) bool, refresh func(context.Context), cancel func()) {
	h.mu.Lock()
	h.watchers[id] = watcher{matches: matches, refresh: refresh, cancel: cancel}
	h.mu.Unlock()
}

func (h *hub) unwatch(id string) {
	h.mu.Lock()
	delete(h.watchers, id)
	h.mu.Unlock()
}

// prime delivers the initial snapshot without racing a concurrent notify.
func (h *hub) prime(refresh func(context.Context)) {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()
	refresh(context.Background())
}

func (h *hub) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.Lock()
	var targets []watcher
	for _, w := range h.watchers {
		for _, change := range changes {
			if w.matches(change.Doc.Ref) {
				targets = append(targets, w)
				break
			}
		}
	}
	h.mu.Unlock()

	for _, w := range targets {
		w.refresh(context.Background())
	}
}

func (h *hub) cancelAll() {
	h.mu.Lock()
	cancels := make([]func(), 0, len(h.watchers))
	for _, w := range h.watchers {
		cancels = append(cancels, w.cancel)
	}
	h.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
