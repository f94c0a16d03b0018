package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/louisbranch/bliss/internal/platform/metrics"
	"github.com/louisbranch/bliss/internal/platform/timeouts"
	"github.com/louisbranch/bliss/internal/platform/watch"
	"github.com/louisbranch/bliss/internal/services/social/session"
)

// Interval is the heartbeat period while the app is in the foreground.
const Interval = 60 * time.Second

// State is the heartbeat lifecycle state of a session.
type State int

const (
	StateUnauthenticated State = iota
	StateOnline
	StateBackground
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateBackground:
		return "background"
	default:
		return "unauthenticated"
	}
}

// Writer persists one presence update.
type Writer interface {
	SetPresence(ctx context.Context, uid string, online bool) error
}

// Ticker is the part of time.Ticker the heartbeat uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.Ticker.C }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }

// SessionSource broadcasts session changes.
type SessionSource interface {
	Subscribe(onEvent func(session.Event)) watch.CancelFunc
}

// Option configures a Heartbeat.
type Option func(*Heartbeat)

// WithInterval overrides the heartbeat period.
func WithInterval(d time.Duration) Option {
	return func(h *Heartbeat) {
		if d > 0 {
			h.interval = d
		}
	}
}

// WithTicker replaces the ticker constructor.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(h *Heartbeat) {
		if newTicker != nil {
			h.newTicker = newTicker
		}
	}
}

// WithMetrics records every write outcome.
func WithMetrics(m *metrics.Recorder) Option {
	return func(h *Heartbeat) { h.metrics = m }
}

// WithWriteTimeout bounds each write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Heartbeat) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// Heartbeat marks one session online while it is in the foreground.
//
// Writes are best effort: failures are logged and counted, never returned
// and never retried. State transitions and their writes are serialized, so a
// tick can never overwrite a later offline write.
type Heartbeat struct {
	writer       Writer
	interval     time.Duration
	writeTimeout time.Duration
	newTicker    func(time.Duration) Ticker
	metrics      *metrics.Recorder

	mu       sync.Mutex
	state    State
	uid      string
	stopTick func()
}

// NewHeartbeat returns a heartbeat in StateUnauthenticated.
func NewHeartbeat(writer Writer, opts ...Option) *Heartbeat {
	h := &Heartbeat{
		writer:       writer,
		interval:     Interval,
		writeTimeout: timeouts.PresenceWrite,
		newTicker:    newTimeTicker,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// State returns the current lifecycle state.
func (h *Heartbeat) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SignIn starts a session for uid: write online now, then on every tick.
// Signing in as another user first signs the previous one out.
func (h *Heartbeat) SignIn(uid string) {
	if uid == "" {
		h.SignOut()
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateUnauthenticated && h.uid == uid {
		return
	}
	if h.state != StateUnauthenticated {
		h.stopTickerLocked()
		h.writeLocked(false)
	}
	h.uid = uid
	h.state = StateOnline
	h.writeLocked(true)
	h.startTickerLocked()
}

// Foreground writes online immediately and resumes ticking.
func (h *Heartbeat) Foreground() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateUnauthenticated {
		return
	}
	h.state = StateOnline
	h.writeLocked(true)
	h.startTickerLocked()
}

// Background pauses ticking and writes offline.
func (h *Heartbeat) Background() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateOnline {
		return
	}
	h.state = StateBackground
	h.stopTickerLocked()
	h.writeLocked(false)
}

// SignOut ends the session with a best-effort offline write.
func (h *Heartbeat) SignOut() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateUnauthenticated {
		return
	}
	h.stopTickerLocked()
	h.writeLocked(false)
	h.state = StateUnauthenticated
	h.uid = ""
}

// Run follows session changes from source until ctx ends, then signs out.
func (h *Heartbeat) Run(ctx context.Context, source SessionSource) error {
	cancel := source.Subscribe(func(e session.Event) {
		if e.SignedIn() {
			h.SignIn(e.Session.UserID)
			return
		}
		h.SignOut()
	})
	<-ctx.Done()
	cancel()
	h.SignOut()
	return nil
}

func (h *Heartbeat) tick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateOnline {
		return
	}
	h.writeLocked(true)
}

func (h *Heartbeat) startTickerLocked() {
	if h.stopTick != nil {
		return
	}
	ticker := h.newTicker(h.interval)
	done := make(chan struct{})
	h.stopTick = func() {
		ticker.Stop()
		close(done)
	}
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C():
				h.tick()
			}
		}
	}()
}

func (h *Heartbeat) stopTickerLocked() {
	if h.stopTick == nil {
		return
	}
	h.stopTick()
	h.stopTick = nil
}

func (h *Heartbeat) writeLocked(online bool) {
	if h.writer == nil || h.uid == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	defer cancel()
	err := h.writer.SetPresence(ctx, h.uid, online)
	h.metrics.PresenceWrite(online, err)
	if err != nil {
		log.Printf("presence: write %s online=%t: %v", h.uid, online, err)
	}
}
