package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/louisbranch/bliss/internal/services/social/storage"
	"github.com/louisbranch/bliss/internal/services/social/storage/engine"
)

var fixedNow = time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(WithClock(func() time.Time { return fixedNow }))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), storage.UserDoc("ghost"))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCommitResolvesSentinels(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref := storage.UserDoc("u1")

	if err := s.Commit(ctx, storage.Set(ref, storage.Fields{"username": "ana", "followersCount": 0}, false)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.Commit(ctx,
		storage.Set(ref, storage.Fields{"followersCount": storage.Increment(1)}, true),
		storage.Set(ref, storage.Fields{"followersCount": storage.Increment(1), "lastSeenAt": storage.ServerTimestamp}, true),
	); err != nil {
		t.Fatalf("commit: %v", err)
	}

	doc, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := doc.Fields["followersCount"]; got != int64(2) {
		t.Fatalf("followersCount = %v, want 2", got)
	}
	if got, ok := doc.Fields["lastSeenAt"].(time.Time); !ok || !got.Equal(fixedNow) {
		t.Fatalf("lastSeenAt = %v, want %v", doc.Fields["lastSeenAt"], fixedNow)
	}
	if doc.Fields["username"] != "ana" {
		t.Fatalf("username = %v, want ana", doc.Fields["username"])
	}
	if !doc.CreateTime.Equal(fixedNow) || !doc.UpdateTime.Equal(fixedNow) {
		t.Fatalf("times = %v/%v", doc.CreateTime, doc.UpdateTime)
	}
}

func TestCommitIsAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("disk full")
	s.OnApply(func(i int, _ engine.Change) error {
		if i == 1 {
			return boom
		}
		return nil
	})

	err := s.Commit(ctx,
		storage.Set(storage.Following("a").Doc("b"), storage.Fields{"uid": "b"}, true),
		storage.Set(storage.Followers("b").Doc("a"), storage.Fields{"uid": "a"}, true),
	)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if s.Len(storage.Following("a")) != 0 || s.Len(storage.Followers("b")) != 0 {
		t.Fatal("expected no edge after failed commit")
	}
}

func TestReturnedDocumentsAreCopies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref := storage.UserDoc("u1")
	if err := s.Commit(ctx, storage.Set(ref, storage.Fields{"hobbies": []string{"music"}}, false)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	doc, _ := s.Get(ctx, ref)
	doc.Fields["hobbies"].([]any)[0] = "mutated"

	again, _ := s.Get(ctx, ref)
	if again.Fields["hobbies"].([]any)[0] != "music" {
		t.Fatalf("stored document mutated: %v", again.Fields)
	}
}

func TestTransactionRejectsReadAfterWrite(t *testing.T) {
	s := newTestStore(t)
	err := s.RunTransaction(context.Background(), func(_ context.Context, tx storage.Transaction) error {
		if err := tx.Set(storage.UserDoc("u1"), storage.Fields{"a": 1}, true); err != nil {
			return err
		}
		_, err := tx.Get(storage.UserDoc("u1"))
		return err
	})
	if !errors.Is(err, storage.ErrReadAfterWrite) {
		t.Fatalf("err = %v, want ErrReadAfterWrite", err)
	}
	if _, err := s.Get(context.Background(), storage.UserDoc("u1")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected aborted transaction to write nothing, got %v", err)
	}
}

func TestTransactionSerializesReadModifyWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref := storage.UserDoc("counter")
	if err := s.Commit(ctx, storage.Set(ref, storage.Fields{"n": 0}, false)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const workers = 20
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			errs <- s.RunTransaction(ctx, func(_ context.Context, tx storage.Transaction) error {
				doc, err := tx.Get(ref)
				if err != nil {
					return err
				}
				return tx.Set(ref, storage.Fields{"n": doc.Fields["n"].(int64) + 1}, true)
			})
		}()
	}
	for i := 0; i < workers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("transaction: %v", err)
		}
	}
	doc, _ := s.Get(ctx, ref)
	if doc.Fields["n"] != int64(workers) {
		t.Fatalf("n = %v, want %d", doc.Fields["n"], workers)
	}
}

func TestUpdateRequiresExistingDocument(t *testing.T) {
	s := newTestStore(t)
	err := s.Update(context.Background(), storage.UserDoc("ghost"), storage.Fields{"isOnline": true})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetManyCapsAndDedupes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("u%d", i)
		if err := s.Commit(ctx, storage.Set(storage.UserDoc(id), storage.Fields{"uid": id}, false)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	docs, err := s.GetMany(ctx, storage.Users(), []string{"u0", "u2", "u0", "missing"})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len = %d, want 2", len(docs))
	}

	tooMany := make([]string, storage.MaxGetManyIDs+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("x%d", i)
	}
	if _, err := s.GetMany(ctx, storage.Users(), tooMany); !errors.Is(err, storage.ErrTooManyIDs) {
		t.Fatalf("err = %v, want ErrTooManyIDs", err)
	}
}

func TestWatchCollectionDeliversInitialAndChanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	snapshots := make(chan []storage.Document, 10)

	cancel := s.WatchCollection(storage.Following("a"), func(docs []storage.Document) { snapshots <- docs }, nil)
	defer cancel()

	if got := next(t, snapshots); len(got) != 0 {
		t.Fatalf("initial = %d docs, want 0", len(got))
	}
	if err := s.Commit(ctx, storage.Set(storage.Following("a").Doc("b"), storage.Fields{"uid": "b"}, true)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := next(t, snapshots); len(got) != 1 || got[0].ID() != "b" {
		t.Fatalf("after add = %v", got)
	}
	// Unrelated collections do not trigger the watcher.
	if err := s.Commit(ctx, storage.Set(storage.Followers("a").Doc("c"), storage.Fields{"uid": "c"}, true)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.Commit(ctx, storage.Delete(storage.Following("a").Doc("b"))); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := next(t, snapshots); len(got) != 0 {
		t.Fatalf("after delete = %v, want empty", got)
	}
}

func TestWatchDocumentStopsAfterCancel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref := storage.UserDoc("u1")
	snapshots := make(chan storage.Document, 10)

	cancel := s.WatchDocument(ref, func(doc storage.Document) { snapshots <- doc }, nil)
	if got := next(t, snapshots); got.Exists {
		t.Fatal("expected initial snapshot of a missing document")
	}
	cancel()
	cancel()

	if err := s.Commit(ctx, storage.Set(ref, storage.Fields{"uid": "u1"}, false)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	select {
	case doc := <-snapshots:
		t.Fatalf("unexpected delivery after cancel: %v", doc)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseCancelsWatchersAndRejectsCalls(t *testing.T) {
	s := New()
	snapshots := make(chan []storage.Document, 10)
	s.WatchCollection(storage.Users(), func(docs []storage.Document) { snapshots <- docs }, nil)
	next(t, snapshots)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Commit(context.Background(), storage.Set(storage.UserDoc("u1"), storage.Fields{}, false)); !errors.Is(err, engine.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestCommitRejectsInvalidRef(t *testing.T) {
	s := newTestStore(t)
	if err := s.Commit(context.Background(), storage.Set(storage.UserDoc(""), storage.Fields{}, false)); err == nil {
		t.Fatal("expected invalid ref error")
	}
}

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	var zero T
	return zero
}
