package graph

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/louisbranch/bliss/internal/services/social/presence"
	"github.com/louisbranch/bliss/internal/services/social/profile"
)

// RankDiscovery orders profiles for viewer's discovery feed. The viewer is
// excluded. Online users come first, then more followers, then the most
// recent presence write; uid breaks the remaining ties.
func RankDiscovery(profiles []profile.UserProfile, viewer string, now time.Time) []profile.UserProfile {
	viewer = strings.TrimSpace(viewer)
	ranked := make([]profile.UserProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.UID == viewer {
			continue
		}
		ranked = append(ranked, p)
	}

	online := make(map[string]bool, len(ranked))
	for _, p := range ranked {
		online[p.UID] = presence.IsOnline(p.IsOnline, p.LastSeenAt, now)
	}
	slices.SortStableFunc(ranked, func(a, b profile.UserProfile) int {
		if online[a.UID] != online[b.UID] {
			if online[a.UID] {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.FollowersCount, a.FollowersCount); c != 0 {
			return c
		}
		if c := lastSeen(b).Compare(lastSeen(a)); c != 0 {
			return c
		}
		return strings.Compare(a.UID, b.UID)
	})
	return ranked
}

func lastSeen(p profile.UserProfile) time.Time {
	if p.LastSeenAt == nil {
		return time.Time{}
	}
	return *p.LastSeenAt
}
