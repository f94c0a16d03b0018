package graph

import (
	"context"
	"testing"

	"github.com/louisbranch/bliss/internal/platform/metrics"
	"github.com/louisbranch/bliss/internal/services/social/profile"
	"github.com/louisbranch/bliss/internal/services/social/storage"
)

func TestReconcileCountersFixesDrift(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedProfile(t, store, "a", storage.Fields{profile.FieldFollowingCount: int64(7), profile.FieldFollowersCount: int64(-1)})
	seedProfile(t, store, "b", nil)
	if err := store.Commit(ctx,
		storage.Set(storage.Following("a").Doc("b"), edgeFields("b"), false),
		storage.Set(storage.Followers("a").Doc("b"), edgeFields("b"), false),
	); err != nil {
		t.Fatalf("seed edges: %v", err)
	}

	n, err := svc.ReconcileCounters(ctx, "a")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n != 2 {
		t.Fatalf("adjusted = %d, want 2", n)
	}
	if following, followers := counts(t, store, "a"); following != 1 || followers != 1 {
		t.Fatalf("a counters = %d/%d, want 1/1", following, followers)
	}

	n, err = svc.ReconcileCounters(ctx, "a")
	if err != nil || n != 0 {
		t.Fatalf("second reconcile = %d, %v; want 0, nil", n, err)
	}
}

func TestReconcileAll(t *testing.T) {
	_, store := newTestService(t)
	recorder := metrics.New()
	svc := NewService(store, WithMetrics(recorder))
	ctx := context.Background()
	seedProfile(t, store, "a", nil)
	seedProfile(t, store, "b", storage.Fields{profile.FieldFollowersCount: int64(3)})
	seedProfile(t, store, "c", nil)
	if err := svc.Follow(ctx, "a", "c"); err != nil {
		t.Fatalf("follow: %v", err)
	}

	n, err := svc.ReconcileAll(ctx)
	if err != nil {
		t.Fatalf("reconcile all: %v", err)
	}
	if n != 1 {
		t.Fatalf("adjusted = %d, want 1", n)
	}
	if _, followers := counts(t, store, "b"); followers != 0 {
		t.Fatalf("b.followersCount = %d, want 0", followers)
	}
	if _, followers := counts(t, store, "c"); followers != 1 {
		t.Fatalf("c.followersCount = %d, want 1", followers)
	}
}
