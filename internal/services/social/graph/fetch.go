package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/bliss/internal/platform/errors"
	"github.com/louisbranch/bliss/internal/services/social/profile"
	"github.com/louisbranch/bliss/internal/services/social/storage"
	"go.opentelemetry.io/otel/attribute"
)

// Direction selects one side of a user's follow edges.
type Direction string

const (
	// DirectionFollowing lists the users uid follows.
	DirectionFollowing Direction = "following"
	// DirectionFollowers lists the users following uid.
	DirectionFollowers Direction = "followers"
)

func (d Direction) collection(uid string) (storage.CollectionRef, error) {
	switch d {
	case DirectionFollowing:
		return storage.Following(uid), nil
	case DirectionFollowers:
		return storage.Followers(uid), nil
	default:
		return "", apperrors.New(apperrors.CodeInvalidOperation, fmt.Sprintf("unknown follow direction %q", string(d)))
	}
}

// FetchProfile returns the normalized profile of uid.
func (s *Service) FetchProfile(ctx context.Context, uid string) (p profile.UserProfile, err error) {
	uid, err = requireUserID(uid)
	if err != nil {
		return profile.UserProfile{}, fmt.Errorf("fetch profile: %w", err)
	}
	ctx, end := s.begin(ctx, "fetch_profile", attribute.String("uid", uid))
	defer end(&err)

	doc, err := s.store.Get(ctx, storage.UserDoc(uid))
	if errors.Is(err, storage.ErrNotFound) {
		return profile.UserProfile{}, fmt.Errorf("fetch profile: %w", profileNotFound(uid, err))
	}
	if err != nil {
		return profile.UserProfile{}, fmt.Errorf("fetch profile: %w", err)
	}
	return profile.Normalize(doc.ID(), doc.Fields), nil
}

// FetchProfilesByIDs returns the profiles among ids that exist, each once, in
// the order they were first requested. Lookups are issued in chunks no larger
// than the store's id-list cap.
func (s *Service) FetchProfilesByIDs(ctx context.Context, ids []string) (profiles []profile.UserProfile, err error) {
	wanted := uniqueIDs(ids)
	if len(wanted) == 0 {
		return []profile.UserProfile{}, nil
	}
	ctx, end := s.begin(ctx, "fetch_profiles", attribute.Int("ids", len(wanted)))
	defer end(&err)

	found := make(map[string]profile.UserProfile, len(wanted))
	for start := 0; start < len(wanted); start += storage.MaxGetManyIDs {
		chunk := wanted[start:min(start+storage.MaxGetManyIDs, len(wanted))]
		docs, err := s.store.GetMany(ctx, storage.Users(), chunk)
		s.metrics.FetchChunk()
		if err != nil {
			return nil, fmt.Errorf("fetch profiles: %w", err)
		}
		for _, doc := range docs {
			if !doc.Exists {
				continue
			}
			if _, seen := found[doc.ID()]; seen {
				continue
			}
			found[doc.ID()] = profile.Normalize(doc.ID(), doc.Fields)
		}
	}

	profiles = make([]profile.UserProfile, 0, len(found))
	for _, id := range wanted {
		if p, ok := found[id]; ok {
			profiles = append(profiles, p)
		}
	}
	return profiles, nil
}

// ListFollowProfiles returns the profiles on one side of uid's follow edges,
// in edge listing order. Edges pointing at missing profiles are skipped.
func (s *Service) ListFollowProfiles(ctx context.Context, uid string, direction Direction) ([]profile.UserProfile, error) {
	uid, err := requireUserID(uid)
	if err != nil {
		return nil, fmt.Errorf("list follows: %w", err)
	}
	coll, err := direction.collection(uid)
	if err != nil {
		return nil, fmt.Errorf("list follows: %w", err)
	}
	ids, err := s.listIDs(ctx, coll)
	if err != nil {
		return nil, fmt.Errorf("list follows: %w", err)
	}
	return s.FetchProfilesByIDs(ctx, ids)
}

func (s *Service) listIDs(ctx context.Context, coll storage.CollectionRef) (ids []string, err error) {
	ctx, end := s.begin(ctx, "list_ids", attribute.String("collection", coll.Path()))
	defer end(&err)

	docs, err := s.store.List(ctx, coll)
	if err != nil {
		return nil, err
	}
	return docIDs(docs), nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || strings.Contains(id, "/") {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func docIDs(docs []storage.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.Exists {
			ids = append(ids, doc.ID())
		}
	}
	return ids
}
