// Package firestore provides the production social document store on
// Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/louisbranch/bliss/internal/platform/watch"
	"github.com/louisbranch/bliss/internal/services/social/storage"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Store adapts a Firestore client to the document store contract.
type Store struct {
	client *firestore.Client

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

var _ storage.DocumentStore = (*Store)(nil)

// Open connects to projectID. With FIRESTORE_EMULATOR_HOST set the client
// talks to the emulator.
func Open(ctx context.Context, projectID string, opts ...option.ClientOption) (*Store, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("firestore project is required")
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("open firestore: %w", err)
	}
	return New(client), nil
}

// New wraps an existing client.
func New(client *firestore.Client) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{client: client, ctx: ctx, cancel: cancel}
}

// Get returns one document.
func (s *Store) Get(ctx context.Context, ref storage.DocumentRef) (storage.Document, error) {
	if err := checkRef(ref); err != nil {
		return storage.Document{}, err
	}
	snap, err := s.client.Doc(ref.Path()).Get(ctx)
	if err != nil {
		return storage.Document{}, mapError(ref, err)
	}
	return fromSnapshot(ref.Collection, snap), nil
}

// GetMany returns the existing documents among ids with one "in" query.
func (s *Store) GetMany(ctx context.Context, coll storage.CollectionRef, ids []string) ([]storage.Document, error) {
	if len(ids) > storage.MaxGetManyIDs {
		return nil, fmt.Errorf("%d ids: %w", len(ids), storage.ErrTooManyIDs)
	}
	collection := s.client.Collection(coll.Path())
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if err := checkRef(coll.Doc(id)); err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, collection.Doc(id))
	}
	if len(refs) == 0 {
		return nil, nil
	}
	snaps, err := collection.Where(firestore.DocumentID, "in", refs).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("get many %s: %w", coll.Path(), err)
	}
	return fromSnapshots(coll, snaps), nil
}

// List returns every document of coll ordered by id.
func (s *Store) List(ctx context.Context, coll storage.CollectionRef) ([]storage.Document, error) {
	snaps, err := s.client.Collection(coll.Path()).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", coll.Path(), err)
	}
	return fromSnapshots(coll, snaps), nil
}

// Commit applies writes in one transaction.
func (s *Store) Commit(ctx context.Context, writes ...storage.Write) error {
	if len(writes) == 0 {
		return nil
	}
	return s.RunTransaction(ctx, func(_ context.Context, tx storage.Transaction) error {
		for _, w := range writes {
			var err error
			if w.Kind == storage.WriteDelete {
				err = tx.Delete(w.Ref)
			} else {
				err = tx.Set(w.Ref, w.Fields, w.Merge)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Update merges fields into an existing document.
func (s *Store) Update(ctx context.Context, ref storage.DocumentRef, fields storage.Fields) error {
	if err := checkRef(ref); err != nil {
		return err
	}
	updates := make([]firestore.Update, 0, len(fields))
	for key, value := range fields {
		updates = append(updates, firestore.Update{Path: key, Value: toFirestoreValue(value)})
	}
	if _, err := s.client.Doc(ref.Path()).Update(ctx, updates); err != nil {
		return mapError(ref, err)
	}
	return nil
}

// RunTransaction runs fn in a Firestore transaction. Firestore retries fn on
// contention, so fn must not have side effects outside tx.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Transaction) error) error {
	if fn == nil {
		return errors.New("transaction function is required")
	}
	return s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		return fn(ctx, &transaction{client: s.client, tx: ftx})
	})
}

// WatchDocument streams ref until cancelled.
func (s *Store) WatchDocument(ref storage.DocumentRef, onSnapshot func(storage.Document), onError func(error)) watch.CancelFunc {
	feed := watch.NewFeed(onSnapshot, onError)
	if err := checkRef(ref); err != nil {
		feed.Fail(err)
		return feed.Cancel
	}
	ctx, cancel := context.WithCancel(s.ctx)
	it := s.client.Doc(ref.Path()).Snapshots(ctx)
	feed.OnCancel(func() {
		cancel()
		it.Stop()
	})
	go func() {
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					feed.Fail(fmt.Errorf("watch %s: %w", ref.Path(), err))
				}
				return
			}
			feed.Publish(fromSnapshot(ref.Collection, snap))
		}
	}()
	return feed.Cancel
}

// WatchCollection streams coll until cancelled.
func (s *Store) WatchCollection(coll storage.CollectionRef, onSnapshot func([]storage.Document), onError func(error)) watch.CancelFunc {
	feed := watch.NewFeed(onSnapshot, onError)
	ctx, cancel := context.WithCancel(s.ctx)
	it := s.client.Collection(coll.Path()).OrderBy(firestore.DocumentID, firestore.Asc).Snapshots(ctx)
	feed.OnCancel(func() {
		cancel()
		it.Stop()
	})
	go func() {
		for {
			qs, err := it.Next()
			if err == nil {
				var snaps []*firestore.DocumentSnapshot
				snaps, err = qs.Documents.GetAll()
				if err == nil {
					feed.Publish(fromSnapshots(coll, snaps))
					continue
				}
			}
			if ctx.Err() == nil && status.Code(err) != codes.Canceled {
				feed.Fail(fmt.Errorf("watch %s: %w", coll.Path(), err))
			}
			return
		}
	}()
	return feed.Cancel
}

// Close stops every watcher and closes the client.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		if s.client != nil {
			err = s.client.Close()
		}
	})
	return err
}

type transaction struct {
	client *firestore.Client
	tx     *firestore.Transaction
	wrote  bool
}

func (t *transaction) Get(ref storage.DocumentRef) (storage.Document, error) {
	if t.wrote {
		return storage.Document{}, storage.ErrReadAfterWrite
	}
	if err := checkRef(ref); err != nil {
		return storage.Document{}, err
	}
	snap, err := t.tx.Get(t.client.Doc(ref.Path()))
	if err != nil {
		return storage.Document{Ref: ref}, mapError(ref, err)
	}
	return fromSnapshot(ref.Collection, snap), nil
}

func (t *transaction) List(coll storage.CollectionRef) ([]storage.Document, error) {
	if t.wrote {
		return nil, storage.ErrReadAfterWrite
	}
	query := t.client.Collection(coll.Path()).OrderBy(firestore.DocumentID, firestore.Asc)
	snaps, err := t.tx.Documents(query).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", coll.Path(), err)
	}
	return fromSnapshots(coll, snaps), nil
}

func (t *transaction) Set(ref storage.DocumentRef, fields storage.Fields, merge bool) error {
	if err := checkRef(ref); err != nil {
		return err
	}
	t.wrote = true
	var opts []firestore.SetOption
	if merge {
		opts = append(opts, firestore.MergeAll)
	}
	return t.tx.Set(t.client.Doc(ref.Path()), toFirestoreFields(fields), opts...)
}

func (t *transaction) Delete(ref storage.DocumentRef) error {
	if err := checkRef(ref); err != nil {
		return err
	}
	t.wrote = true
	return t.tx.Delete(t.client.Doc(ref.Path()))
}

func checkRef(ref storage.DocumentRef) error {
	if !ref.Valid() {
		return fmt.Errorf("invalid document ref %q", ref.Path())
	}
	return nil
}

func mapError(ref storage.DocumentRef, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s: %w", ref.Path(), storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", ref.Path(), err)
}
