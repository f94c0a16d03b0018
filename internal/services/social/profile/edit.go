package profile

import (
	"math"
	"net/mail"
	"strconv"
	"strings"
	"unicode/utf8"

	apperrors "github.com/louisbranch/bliss/internal/platform/errors"
)

const (
	maxNameLength = 64
	maxBioLength  = 280
	minAge        = 0
	maxAge        = 130
)

// Edit is a profile form submission. All values are raw user input.
type Edit struct {
	DisplayName string
	Bio         string
	Gender      string
	Age         string
	StarSign    string
	Location    string
	Hobbies     string
}

// Fields validates the edit and returns the stored fields it writes.
// Cleared optional attributes are written as null; cleared hobbies as [].
func (e Edit) Fields() (map[string]any, error) {
	name := strings.TrimSpace(e.DisplayName)
	if name == "" {
		return nil, apperrors.New(apperrors.CodeProfileInvalid, "display name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, apperrors.New(apperrors.CodeProfileInvalid, "display name must be at most "+strconv.Itoa(maxNameLength)+" characters")
	}
	bio := strings.TrimSpace(e.Bio)
	if utf8.RuneCountInString(bio) > maxBioLength {
		return nil, apperrors.New(apperrors.CodeProfileInvalid, "bio must be at most "+strconv.Itoa(maxBioLength)+" characters")
	}

	var age any
	if raw := strings.TrimSpace(e.Age); raw != "" {
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(n) || n <= minAge || n >= maxAge {
			return nil, apperrors.New(apperrors.CodeProfileInvalid, "age must be between 1 and 129")
		}
		age = int64(math.Round(n))
	}

	return map[string]any{
		FieldUsername: name,
		FieldBio:      bio,
		FieldGender:   nullable(e.Gender),
		FieldAge:      age,
		FieldStarSign: nullable(e.StarSign),
		FieldLocation: nullable(e.Location),
		FieldHobbies:  SplitHobbies(e.Hobbies),
	}, nil
}

// Registration is the record created once at sign-up.
type Registration struct {
	UID      string
	Email    string
	Username string
}

// Fields validates the registration and returns the initial document.
// createdAt and lastSeenAt hold the given server timestamp value.
func (r Registration) Fields(serverTime any) (map[string]any, error) {
	uid := strings.TrimSpace(r.UID)
	if uid == "" {
		return nil, apperrors.New(apperrors.CodeProfileInvalid, "user id is required")
	}
	username := strings.TrimSpace(r.Username)
	if username == "" {
		return nil, apperrors.New(apperrors.CodeProfileInvalid, "username is required")
	}
	if utf8.RuneCountInString(username) > maxNameLength {
		return nil, apperrors.New(apperrors.CodeProfileInvalid, "username must be at most "+strconv.Itoa(maxNameLength)+" characters")
	}
	email := strings.ToLower(strings.TrimSpace(r.Email))
	if email == "" {
		return nil, apperrors.New(apperrors.CodeProfileInvalid, "email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeProfileInvalid, "email is invalid", err)
	}

	return map[string]any{
		FieldUID:            uid,
		FieldEmail:          email,
		FieldUsername:       username,
		FieldDisplayName:    username,
		FieldCreatedAt:      serverTime,
		FieldBio:            "",
		FieldGender:         nil,
		FieldAge:            nil,
		FieldStarSign:       nil,
		FieldLocation:       "",
		FieldHobbies:        []string{},
		FieldFollowersCount: int64(0),
		FieldFollowingCount: int64(0),
		FieldIsOnline:       true,
		FieldLastSeenAt:     serverTime,
	}, nil
}

func nullable(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}
