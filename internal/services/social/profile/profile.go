// Package profile normalizes stored user records into canonical profiles and
// validates profile writes.
package profile

import (
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stored field names of a users/{uid} document.
const (
	FieldUID            = "uid"
	FieldEmail          = "email"
	FieldUsername       = "username"
	FieldDisplayName    = "displayName"
	FieldAvatarURL      = "avatarUrl"
	FieldBio            = "bio"
	FieldGender         = "gender"
	FieldStarSign       = "starSign"
	FieldAge            = "age"
	FieldLocation       = "location"
	FieldHobbies        = "hobbies"
	FieldFollowersCount = "followersCount"
	FieldFollowingCount = "followingCount"
	FieldIsOnline       = "isOnline"
	FieldLastSeenAt     = "lastSeenAt"
	FieldCreatedAt      = "createdAt"
)

// DefaultName is shown when a record carries no usable name or email.
const DefaultName = "New user"

// UserProfile is the canonical snapshot of one user record. Optional
// attributes are nil when unset. Hobbies is nil when never set and empty when
// explicitly cleared.
type UserProfile struct {
	UID            string
	Email          *string
	Username       string
	DisplayName    string
	AvatarURL      *string
	Bio            *string
	Gender         *string
	StarSign       *string
	Age            *int
	Location       *string
	Hobbies        []string
	FollowersCount int
	FollowingCount int
	IsOnline       bool
	LastSeenAt     *time.Time
	CreatedAt      *time.Time
}

// Name returns the effective display name.
func (p UserProfile) Name() string {
	if p.Username != "" {
		return p.Username
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return DefaultName
}

// Normalize maps a raw stored record into a canonical profile. It never fails:
// missing or wrongly typed fields fall back to their zero representation.
func Normalize(id string, raw map[string]any) UserProfile {
	username := stringField(raw, FieldUsername)
	displayName := stringField(raw, FieldDisplayName)
	email := stringField(raw, FieldEmail)

	fallback := firstNonEmpty(username, displayName, NameFromEmail(email), DefaultName)

	uid := stringField(raw, FieldUID)
	if uid == "" {
		uid = id
	}

	return UserProfile{
		UID:            uid,
		Email:          optional(email),
		Username:       firstNonEmpty(username, fallback),
		DisplayName:    firstNonEmpty(displayName, fallback),
		AvatarURL:      optional(stringField(raw, FieldAvatarURL)),
		Bio:            optional(stringField(raw, FieldBio)),
		Gender:         optional(stringField(raw, FieldGender)),
		StarSign:       optional(stringField(raw, FieldStarSign)),
		Age:            ageField(raw[FieldAge]),
		Location:       optional(stringField(raw, FieldLocation)),
		Hobbies:        hobbiesField(raw[FieldHobbies]),
		FollowersCount: counterField(raw[FieldFollowersCount]),
		FollowingCount: counterField(raw[FieldFollowingCount]),
		IsOnline:       raw[FieldIsOnline] == true,
		LastSeenAt:     timeField(raw[FieldLastSeenAt]),
		CreatedAt:      timeField(raw[FieldCreatedAt]),
	}
}

// NameFromEmail derives a display name from the local part of email, with its
// first letter upper-cased.
func NameFromEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return email
	}
	first, size := utf8.DecodeRuneInString(local)
	// Casers carry state, so each call gets its own.
	return cases.Upper(language.Und).String(string(first)) + local[size:]
}

// SplitHobbies splits a comma-joined list, trimming entries and dropping
// empty ones. The result is never nil.
func SplitHobbies(value string) []string {
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func stringField(raw map[string]any, key string) string {
	value, _ := raw[key].(string)
	return strings.TrimSpace(value)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func hobbiesField(value any) []string {
	switch v := value.(type) {
	case string:
		return SplitHobbies(v)
	case []string:
		return append([]string{}, v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// number reads a finite float from numeric kinds and numeric strings.
func number(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case nil, bool:
		return 0, false
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f = float64(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			f = float64(rv.Uint())
		case reflect.Float32, reflect.Float64:
			f = rv.Float()
		default:
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func ageField(value any) *int {
	f, ok := number(value)
	if !ok {
		return nil
	}
	age := int(math.Round(f))
	return &age
}

func counterField(value any) int {
	f, ok := number(value)
	if !ok || f < 0 {
		return 0
	}
	return int(f)
}

func timeField(value any) *time.Time {
	var t time.Time
	switch v := value.(type) {
	case time.Time:
		t = v
	case *time.Time:
		if v == nil {
			return nil
		}
		t = *v
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		t = parsed
	default:
		return nil
	}
	if t.IsZero() {
		return nil
	}
	t = t.Local()
	return &t
}
