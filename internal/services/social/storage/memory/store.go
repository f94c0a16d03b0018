// Package memory provides an in-process document store for tests and local runs.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/louisbranch/bliss/internal/services/social/storage"
	"github.com/louisbranch/bliss/internal/services/social/storage/engine"
)

// ApplyHook observes the i-th resolved change of a commit before it becomes
// visible. Returning an error aborts the whole commit.
type ApplyHook func(i int, change engine.Change) error

// Store is a document store held in memory.
type Store struct {
	*engine.Store
	backend *backend
}

// Option configures a Store.
type Option func(*config)

type config struct {
	clock func() time.Time
}

// WithClock sets the clock server timestamps resolve to.
func WithClock(clock func() time.Time) Option {
	return func(c *config) { c.clock = clock }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	b := &backend{docs: make(map[string]storage.Document)}
	return &Store{
		Store:   engine.New(b, engine.WithClock(cfg.clock)),
		backend: b,
	}
}

// OnApply installs a hook run for every change of every commit.
func (s *Store) OnApply(hook ApplyHook) {
	s.backend.mu.Lock()
	s.backend.hook = hook
	s.backend.mu.Unlock()
}

// Len reports how many documents exist in coll.
func (s *Store) Len(coll storage.CollectionRef) int {
	docs, _ := s.backend.LoadCollection(context.Background(), coll)
	return len(docs)
}

type backend struct {
	mu   sync.RWMutex
	docs map[string]storage.Document
	hook ApplyHook
}

func (b *backend) Load(_ context.Context, ref storage.DocumentRef) (storage.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	doc, ok := b.docs[ref.Path()]
	if !ok {
		return storage.Document{Ref: ref}, nil
	}
	return copyDoc(doc), nil
}

func (b *backend) LoadMany(_ context.Context, coll storage.CollectionRef, ids []string) ([]storage.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]storage.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := b.docs[coll.Doc(id).Path()]; ok {
			out = append(out, copyDoc(doc))
		}
	}
	return out, nil
}

func (b *backend) LoadCollection(_ context.Context, coll storage.CollectionRef) ([]storage.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []storage.Document
	for _, doc := range b.docs {
		if doc.Ref.Collection == coll {
			out = append(out, copyDoc(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.ID < out[j].Ref.ID })
	return out, nil
}

// Apply builds the next generation of the map and swaps it in only when
// every change was accepted.
func (b *backend) Apply(_ context.Context, changes []engine.Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := maps.Clone(b.docs)
	for i, change := range changes {
		if b.hook != nil {
			if err := b.hook(i, change); err != nil {
				return err
			}
		}
		path := change.Doc.Ref.Path()
		if !change.Doc.Exists {
			delete(next, path)
			continue
		}
		next[path] = copyDoc(change.Doc)
	}
	b.docs = next
	return nil
}

func (b *backend) Close() error { return nil }

func copyDoc(doc storage.Document) storage.Document {
	doc.Fields = storage.CloneFields(doc.Fields)
	return doc
}
