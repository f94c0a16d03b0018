package graph

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/louisbranch/bliss/internal/services/social/profile"
	"github.com/louisbranch/bliss/internal/services/social/storage"
	"go.opentelemetry.io/otel/attribute"
)

// ReconcileCounters recomputes uid's counters from its edge sets and returns
// how many counters were corrected.
func (s *Service) ReconcileCounters(ctx context.Context, uid string) (adjusted int, err error) {
	uid, err = requireUserID(uid)
	if err != nil {
		return 0, fmt.Errorf("reconcile counters: %w", err)
	}
	ctx, end := s.begin(ctx, "reconcile", attribute.String("uid", uid))
	defer end(&err)

	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		adjusted = 0
		doc, err := getProfile(tx, uid)
		if err != nil {
			return err
		}
		following, err := tx.List(storage.Following(uid))
		if err != nil {
			return err
		}
		followers, err := tx.List(storage.Followers(uid))
		if err != nil {
			return err
		}

		fix := storage.Fields{}
		want := map[string]int64{
			profile.FieldFollowingCount: int64(len(docIDs(following))),
			profile.FieldFollowersCount: int64(len(docIDs(followers))),
		}
		for key, n := range want {
			if got, ok := storedCount(doc.Fields, key); !ok || got != n {
				fix[key] = n
			}
		}
		if len(fix) == 0 {
			return nil
		}
		adjusted = len(fix)
		return tx.Set(doc.Ref, fix, true)
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile counters: %w", err)
	}
	s.metrics.ReconcileAdjusted(adjusted)
	return adjusted, nil
}

// ReconcileAll reconciles every profile. A failure on one user is logged and
// does not stop the others; all failures are returned joined.
func (s *Service) ReconcileAll(ctx context.Context) (int, error) {
	uids, err := s.listIDs(ctx, storage.Users())
	if err != nil {
		return 0, fmt.Errorf("reconcile all: %w", err)
	}
	var (
		total int
		errs  []error
	)
	for _, uid := range uids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		n, err := s.ReconcileCounters(ctx, uid)
		if err != nil {
			log.Printf("graph: reconcile %s: %v", uid, err)
			errs = append(errs, err)
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}
