package graph

import (
	"fmt"
	"slices"
	"sync"

	"github.com/louisbranch/bliss/internal/platform/watch"
	"github.com/louisbranch/bliss/internal/services/social/profile"
	"github.com/louisbranch/bliss/internal/services/social/storage"
)

// Subscription kinds, used as metric labels.
const (
	kindFollowing = "following"
	kindFollowers = "followers"
	kindProfile   = "profile"
	kindProfiles  = "profiles"
	kindDiscovery = "discovery"
)

// SubscribeToFollowing delivers the sorted ids uid follows, now and after
// every change. A user with no edges yields an empty set.
func (s *Service) SubscribeToFollowing(uid string, onChange func([]string), onError func(error)) watch.CancelFunc {
	return s.subscribeEdges(kindFollowing, uid, storage.Following, onChange, onError)
}

// SubscribeToFollowers delivers the sorted ids following uid.
func (s *Service) SubscribeToFollowers(uid string, onChange func([]string), onError func(error)) watch.CancelFunc {
	return s.subscribeEdges(kindFollowers, uid, storage.Followers, onChange, onError)
}

func (s *Service) subscribeEdges(kind, uid string, coll func(string) storage.CollectionRef, onChange func([]string), onError func(error)) watch.CancelFunc {
	uid, err := requireUserID(uid)
	if err != nil {
		return failed(onChange, onError, fmt.Errorf("subscribe %s: %w", kind, err))
	}
	return s.subscribe(kind, onError, func(onError func(error)) watch.CancelFunc {
		return s.store.WatchCollection(coll(uid), func(docs []storage.Document) {
			ids := docIDs(docs)
			slices.Sort(ids)
			onChange(ids)
		}, onError)
	})
}

// SubscribeToProfile delivers uid's profile, with ok false while the document
// does not exist.
func (s *Service) SubscribeToProfile(uid string, onChange func(p profile.UserProfile, ok bool), onError func(error)) watch.CancelFunc {
	uid, err := requireUserID(uid)
	if err != nil {
		return failed(func(profile.UserProfile) {}, onError, fmt.Errorf("subscribe profile: %w", err))
	}
	return s.subscribe(kindProfile, onError, func(onError func(error)) watch.CancelFunc {
		return s.store.WatchDocument(storage.UserDoc(uid), func(doc storage.Document) {
			if !doc.Exists {
				onChange(profile.UserProfile{}, false)
				return
			}
			onChange(profile.Normalize(doc.ID(), doc.Fields), true)
		}, onError)
	})
}

// SubscribeToAllProfiles delivers every profile on every change to any of
// them. It streams the whole collection and suits small deployments only.
func (s *Service) SubscribeToAllProfiles(onChange func([]profile.UserProfile), onError func(error)) watch.CancelFunc {
	return s.subscribe(kindProfiles, onError, func(onError func(error)) watch.CancelFunc {
		return s.store.WatchCollection(storage.Users(), func(docs []storage.Document) {
			onChange(normalizeAll(docs))
		}, onError)
	})
}

// SubscribeToDiscovery delivers the ranked discovery feed for viewer.
func (s *Service) SubscribeToDiscovery(viewer string, onChange func([]profile.UserProfile), onError func(error)) watch.CancelFunc {
	viewer, err := requireUserID(viewer)
	if err != nil {
		return failed(onChange, onError, fmt.Errorf("subscribe discovery: %w", err))
	}
	return s.subscribe(kindDiscovery, onError, func(onError func(error)) watch.CancelFunc {
		return s.store.WatchCollection(storage.Users(), func(docs []storage.Document) {
			onChange(RankDiscovery(normalizeAll(docs), viewer, s.now()))
		}, onError)
	})
}

// subscribe opens a store watch and keeps the open subscription gauge in step
// with its lifetime. Store errors reach onError prefixed with kind.
func (s *Service) subscribe(kind string, onError func(error), open func(onError func(error)) watch.CancelFunc) watch.CancelFunc {
	release := s.metrics.SubscriptionOpened(kind)
	var once sync.Once
	finish := func() { once.Do(release) }

	cancel := open(func(err error) {
		finish()
		if onError != nil {
			onError(fmt.Errorf("subscribe %s: %w", kind, err))
		}
	})
	return func() {
		cancel()
		finish()
	}
}

func failed[T any](onChange func(T), onError func(error), err error) watch.CancelFunc {
	feed := watch.NewFeed(onChange, onError)
	feed.Fail(err)
	return feed.Cancel
}

func normalizeAll(docs []storage.Document) []profile.UserProfile {
	profiles := make([]profile.UserProfile, 0, len(docs))
	for _, doc := range docs {
		if doc.Exists {
			profiles = append(profiles, profile.Normalize(doc.ID(), doc.Fields))
		}
	}
	return profiles
}
