// Package engine implements the document store contract over a simple
// persistence backend. It owns transactions, sentinel resolution, and live
// fanout, so in-process backends only load and apply resolved documents.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/louisbranch/bliss/internal/platform/watch"
	"github.com/louisbranch/bliss/internal/services/social/storage"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("document store is closed")

// Change is the resolved state of one document after a commit. A change with
// Doc.Exists false deletes the document.
type Change struct {
	Doc storage.Document
}

// Backend persists resolved documents.
type Backend interface {
	// Load returns the document with Exists false when it is absent.
	Load(ctx context.Context, ref storage.DocumentRef) (storage.Document, error)
	// LoadMany returns the existing documents among ids.
	LoadMany(ctx context.Context, coll storage.CollectionRef, ids []string) ([]storage.Document, error)
	// LoadCollection returns every document of coll ordered by id.
	LoadCollection(ctx context.Context, coll storage.CollectionRef) ([]storage.Document, error)
	// Apply persists all changes or none.
	Apply(ctx context.Context, changes []Change) error
	Close() error
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to resolve server timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Store serializes every commit and transaction, then fans the committed
// state out to watchers.
type Store struct {
	backend  Backend
	clock    func() time.Time
	commitMu sync.Mutex
	hub      *hub
	closed   atomic.Bool
}

var _ storage.DocumentStore = (*Store)(nil)

// New wraps backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		clock:   time.Now,
		hub:     newHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns one document.
func (s *Store) Get(ctx context.Context, ref storage.DocumentRef) (storage.Document, error) {
	if err := s.check(ctx, ref); err != nil {
		return storage.Document{}, err
	}
	doc, err := s.backend.Load(ctx, ref)
	if err != nil {
		return storage.Document{}, err
	}
	if !doc.Exists {
		return storage.Document{}, fmt.Errorf("%s: %w", ref.Path(), storage.ErrNotFound)
	}
	return doc, nil
}

// GetMany returns the existing documents among ids.
func (s *Store) GetMany(ctx context.Context, coll storage.CollectionRef, ids []string) ([]storage.Document, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	if len(ids) > storage.MaxGetManyIDs {
		return nil, fmt.Errorf("%d ids: %w", len(ids), storage.ErrTooManyIDs)
	}
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if !coll.Doc(id).Valid() {
			return nil, fmt.Errorf("invalid document id %q", id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, nil
	}
	return s.backend.LoadMany(ctx, coll, unique)
}

// List returns every document of coll.
func (s *Store) List(ctx context.Context, coll storage.CollectionRef) ([]storage.Document, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	return s.backend.LoadCollection(ctx, coll)
}

// Commit applies writes atomically.
func (s *Store) Commit(ctx context.Context, writes ...storage.Write) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	for _, w := range writes {
		if !w.Ref.Valid() {
			return fmt.Errorf("invalid document ref %q", w.Ref.Path())
		}
	}
	if len(writes) == 0 {
		return nil
	}
	changes, err := s.commit(ctx, func(context.Context) ([]storage.Write, error) { return writes, nil })
	if err != nil {
		return err
	}
	s.hub.notify(changes)
	return nil
}

// Update merges fields into an existing document.
func (s *Store) Update(ctx context.Context, ref storage.DocumentRef, fields storage.Fields) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Set(ref, fields, true)
	})
}

// RunTransaction runs fn with exclusive access to the store.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Transaction) error) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if fn == nil {
		return errors.New("transaction function is required")
	}
	changes, err := s.commit(ctx, func(ctx context.Context) ([]storage.Write, error) {
		tx := &transaction{ctx: ctx, backend: s.backend}
		if err := fn(ctx, tx); err != nil {
			return nil, err
		}
		return tx.writes, nil
	})
	if err != nil {
		return err
	}
	s.hub.notify(changes)
	return nil
}

// commit holds the commit lock while build produces the writes and their
// resolved state is applied.
func (s *Store) commit(ctx context.Context, build func(context.Context) ([]storage.Write, error)) ([]Change, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	writes, err := build(ctx)
	if err != nil {
		return nil, err
	}
	if len(writes) == 0 {
		return nil, nil
	}
	changes, err := s.resolve(ctx, writes)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.backend.Apply(ctx, changes); err != nil {
		return nil, err
	}
	return changes, nil
}

// resolve folds writes in order into the final state of each touched document.
func (s *Store) resolve(ctx context.Context, writes []storage.Write) ([]Change, error) {
	now := s.clock().UTC()
	staged := make(map[string]int, len(writes))
	var changes []Change
	for _, w := range writes {
		path := w.Ref.Path()
		idx, ok := staged[path]
		var current storage.Document
		if ok {
			current = changes[idx].Doc
		} else {
			loaded, err := s.backend.Load(ctx, w.Ref)
			if err != nil {
				return nil, err
			}
			current = loaded
			idx = len(changes)
			staged[path] = idx
			changes = append(changes, Change{})
		}

		next := storage.Document{Ref: w.Ref}
		if w.Kind == storage.WriteSet {
			fields, err := storage.ResolveWrite(current.Fields, current.Exists, w, now)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			next.Exists = true
			next.Fields = fields
			next.CreateTime = current.CreateTime
			if !current.Exists {
				next.CreateTime = now
			}
			next.UpdateTime = now
		}
		changes[idx] = Change{Doc: next}
	}
	return changes, nil
}

// WatchDocument streams ref.
func (s *Store) WatchDocument(ref storage.DocumentRef, onSnapshot func(storage.Document), onError func(error)) watch.CancelFunc {
	feed := watch.NewFeed(onSnapshot, onError)
	if err := s.check(context.Background(), ref); err != nil {
		feed.Fail(err)
		return feed.Cancel
	}
	refresh := func(ctx context.Context) {
		doc, err := s.backend.Load(ctx, ref)
		if err != nil {
			feed.Fail(err)
			return
		}
		feed.Publish(doc)
	}
	s.hub.watch(feed.ID(), func(r storage.DocumentRef) bool { return r == ref }, refresh, feed.Cancel)
	feed.OnCancel(func() { s.hub.unwatch(feed.ID()) })
	s.hub.prime(refresh)
	return feed.Cancel
}

// WatchCollection streams coll.
func (s *Store) WatchCollection(coll storage.CollectionRef, onSnapshot func([]storage.Document), onError func(error)) watch.CancelFunc {
	feed := watch.NewFeed(onSnapshot, onError)
	if err := s.checkOpen(context.Background()); err != nil {
		feed.Fail(err)
		return feed.Cancel
	}
	refresh := func(ctx context.Context) {
		docs, err := s.backend.LoadCollection(ctx, coll)
		if err != nil {
			feed.Fail(err)
			return
		}
		feed.Publish(docs)
	}
	s.hub.watch(feed.ID(), func(r storage.DocumentRef) bool { return r.Collection == coll }, refresh, feed.Cancel)
	feed.OnCancel(func() { s.hub.unwatch(feed.ID()) })
	s.hub.prime(refresh)
	return feed.Cancel
}

// Close cancels every watcher and closes the backend.
func (s *Store) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.hub.cancelAll()
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func (s *Store) check(ctx context.Context, ref storage.DocumentRef) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if !ref.Valid() {
		return fmt.Errorf("invalid document ref %q", ref.Path())
	}
	return nil
}

func (s *Store) checkOpen(ctx context.Context) error {
	if s == nil || s.backend == nil {
		return errors.New("document store is not configured")
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

type transaction struct {
	ctx     context.Context
	backend Backend
	writes  []storage.Write
}

func (t *transaction) Get(ref storage.DocumentRef) (storage.Document, error) {
	if len(t.writes) > 0 {
		return storage.Document{}, storage.ErrReadAfterWrite
	}
	if !ref.Valid() {
		return storage.Document{}, fmt.Errorf("invalid document ref %q", ref.Path())
	}
	doc, err := t.backend.Load(t.ctx, ref)
	if err != nil {
		return storage.Document{}, err
	}
	if !doc.Exists {
		return doc, fmt.Errorf("%s: %w", ref.Path(), storage.ErrNotFound)
	}
	return doc, nil
}

func (t *transaction) List(coll storage.CollectionRef) ([]storage.Document, error) {
	if len(t.writes) > 0 {
		return nil, storage.ErrReadAfterWrite
	}
	return t.backend.LoadCollection(t.ctx, coll)
}

func (t *transaction) Set(ref storage.DocumentRef, fields storage.Fields, merge bool) error {
	if !ref.Valid() {
		return fmt.Errorf("invalid document ref %q", ref.Path())
	}
	t.writes = append(t.writes, storage.Set(ref, fields, merge))
	return nil
}

func (t *transaction) Delete(ref storage.DocumentRef) error {
	if !ref.Valid() {
		return fmt.Errorf("invalid document ref %q", ref.Path())
	}
	t.writes = append(t.writes, storage.Delete(ref))
	return nil
}
