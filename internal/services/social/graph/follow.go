package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/bliss/internal/services/social/profile"
	"github.com/louisbranch/bliss/internal/services/social/storage"
	"go.opentelemetry.io/otel/attribute"
)

const fieldEdgeUID = "uid"
const fieldEdgeCreatedAt = "createdAt"

type edgeState struct {
	following bool
	follower  bool
}

// Follow records that actor follows target.
//
// Both edges and both counters change in one transaction. Each counter moves
// only for the edge the call actually creates, so retries never double count
// and a one-sided edge left by an older client is repaired.
func (s *Service) Follow(ctx context.Context, actor, target string) (err error) {
	actor, target, err = requirePair(actor, target)
	if err != nil {
		return fmt.Errorf("follow: %w", err)
	}
	ctx, end := s.begin(ctx, "follow", attribute.String("actor", actor), attribute.String("target", target))
	defer end(&err)

	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		if _, err := getProfile(tx, actor); err != nil {
			return err
		}
		if _, err := getProfile(tx, target); err != nil {
			return err
		}
		edges, err := readEdges(tx, actor, target)
		if err != nil {
			return err
		}
		if !edges.following {
			if err := tx.Set(storage.Following(actor).Doc(target), edgeFields(target), false); err != nil {
				return err
			}
			if err := tx.Set(storage.UserDoc(actor), storage.Fields{profile.FieldFollowingCount: storage.Increment(1)}, true); err != nil {
				return err
			}
		}
		if !edges.follower {
			if err := tx.Set(storage.Followers(target).Doc(actor), edgeFields(actor), false); err != nil {
				return err
			}
			if err := tx.Set(storage.UserDoc(target), storage.Fields{profile.FieldFollowersCount: storage.Increment(1)}, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("follow: %w", err)
	}
	return nil
}

// Unfollow removes the follow relationship from actor to target.
//
// Unfollowing a user that is not followed changes nothing. Counters are
// decremented only for edges that existed and never drop below zero.
func (s *Service) Unfollow(ctx context.Context, actor, target string) (err error) {
	actor, target, err = requirePair(actor, target)
	if err != nil {
		return fmt.Errorf("unfollow: %w", err)
	}
	ctx, end := s.begin(ctx, "unfollow", attribute.String("actor", actor), attribute.String("target", target))
	defer end(&err)

	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		edges, err := readEdges(tx, actor, target)
		if err != nil {
			return err
		}
		if !edges.following && !edges.follower {
			return nil
		}
		actorDoc, err := getProfile(tx, actor)
		if err != nil && !errors.Is(err, ErrProfileNotFound) {
			return err
		}
		targetDoc, err := getProfile(tx, target)
		if err != nil && !errors.Is(err, ErrProfileNotFound) {
			return err
		}

		if edges.following {
			if err := tx.Delete(storage.Following(actor).Doc(target)); err != nil {
				return err
			}
			if actorDoc.Exists {
				if err := tx.Set(actorDoc.Ref, decrement(actorDoc.Fields, profile.FieldFollowingCount), true); err != nil {
					return err
				}
			}
		}
		if edges.follower {
			if err := tx.Delete(storage.Followers(target).Doc(actor)); err != nil {
				return err
			}
			if targetDoc.Exists {
				if err := tx.Set(targetDoc.Ref, decrement(targetDoc.Fields, profile.FieldFollowersCount), true); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unfollow: %w", err)
	}
	return nil
}

// IsFollowing reports whether actor follows target.
func (s *Service) IsFollowing(ctx context.Context, actor, target string) (following bool, err error) {
	actor, target, err = requirePair(actor, target)
	if err != nil {
		return false, fmt.Errorf("is following: %w", err)
	}
	ctx, end := s.begin(ctx, "is_following", attribute.String("actor", actor), attribute.String("target", target))
	defer end(&err)

	_, err = s.store.Get(ctx, storage.Following(actor).Doc(target))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is following: %w", err)
	}
	return true, nil
}

func getProfile(tx storage.Transaction, uid string) (storage.Document, error) {
	doc, err := tx.Get(storage.UserDoc(uid))
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Document{}, profileNotFound(uid, err)
	}
	return doc, err
}

func readEdges(tx storage.Transaction, actor, target string) (edgeState, error) {
	var state edgeState
	var err error
	if state.following, err = edgeExists(tx, storage.Following(actor).Doc(target)); err != nil {
		return state, err
	}
	if state.follower, err = edgeExists(tx, storage.Followers(target).Doc(actor)); err != nil {
		return state, err
	}
	return state, nil
}

func edgeExists(tx storage.Transaction, ref storage.DocumentRef) (bool, error) {
	_, err := tx.Get(ref)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func edgeFields(uid string) storage.Fields {
	return storage.Fields{
		fieldEdgeUID:       uid,
		fieldEdgeCreatedAt: storage.ServerTimestamp,
	}
}

func decrement(fields storage.Fields, key string) storage.Fields {
	if n, ok := storedCount(fields, key); ok && n > 0 {
		return storage.Fields{key: storage.Increment(-1)}
	}
	return storage.Fields{key: int64(0)}
}

// storedCount reads an integral counter as stored, without clamping.
func storedCount(fields storage.Fields, key string) (int64, bool) {
	switch v := fields[key].(type) {
	case int64:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}
