// Package presence keeps a session's online flag fresh and derives liveness
// for readers.
package presence

import (
	"strconv"
	"time"
)

// OnlineWindow is how long after its last write a user still reads as online.
const OnlineWindow = 5 * time.Minute

// IsOnline reports whether a user reads as online: the stored flag is set, or
// the last presence write is within OnlineWindow of now.
func IsOnline(flag bool, lastSeenAt *time.Time, now time.Time) bool {
	if flag {
		return true
	}
	return lastSeenAt != nil && now.Sub(*lastSeenAt) <= OnlineWindow
}

// LastSeenLabel renders the presence line of a user card.
func LastSeenLabel(flag bool, lastSeenAt *time.Time, now time.Time) string {
	if IsOnline(flag, lastSeenAt, now) {
		return "Online now"
	}
	if lastSeenAt == nil {
		return "Recently joined"
	}
	minutes := int(now.Sub(*lastSeenAt) / time.Minute)
	if minutes < 60 {
		return "Last seen " + strconv.Itoa(minutes) + "m ago"
	}
	hours := minutes / 60
	if hours < 24 {
		return "Last seen " + strconv.Itoa(hours) + "h ago"
	}
	return "Last seen " + strconv.Itoa(hours/24) + "d ago"
}
