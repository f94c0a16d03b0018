package social

import (
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/bliss/internal/services/social/presence"
	"github.com/louisbranch/bliss/internal/services/social/profile"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request and response keys.
const (
	keyUID      = "uid"
	keyUIDs     = "uids"
	keyTarget   = "target"
	keyEmail    = "email"
	keyUsername = "username"
	keyOnline   = "online"
	keyDir      = "direction"
	keyProfiles = "profiles"

	keyName          = "name"
	keyUserCode      = "userCode"
	keyFollowersText = "followersLabel"
	keyLastSeenLabel = "lastSeenLabel"
)

func stringValue(in *structpb.Struct, key string) string {
	if in == nil {
		return ""
	}
	v, ok := in.GetFields()[key]
	if !ok {
		return ""
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return strings.TrimSpace(kind.StringValue)
	case *structpb.Value_NumberValue:
		return strings.TrimSpace(fmt.Sprint(kind.NumberValue))
	default:
		return ""
	}
}

func boolValue(in *structpb.Struct, key string) (bool, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return false, status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, status.Errorf(codes.InvalidArgument, "%s must be a boolean", key)
	}
	return b.BoolValue, nil
}

func stringList(in *structpb.Struct, key string) []string {
	list := in.GetFields()[key].GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			out = append(out, s.StringValue)
		}
	}
	return out
}

func editFromStruct(in *structpb.Struct) profile.Edit {
	return profile.Edit{
		DisplayName: stringValue(in, profile.FieldDisplayName),
		Bio:         stringValue(in, profile.FieldBio),
		Gender:      stringValue(in, profile.FieldGender),
		Age:         stringValue(in, profile.FieldAge),
		StarSign:    stringValue(in, profile.FieldStarSign),
		Location:    stringValue(in, profile.FieldLocation),
		Hobbies:     hobbiesValue(in),
	}
}

// hobbiesValue accepts a comma-joined string or a list of strings.
func hobbiesValue(in *structpb.Struct) string {
	if list := stringList(in, profile.FieldHobbies); list != nil {
		return strings.Join(list, ",")
	}
	return stringValue(in, profile.FieldHobbies)
}

// profileFields renders a profile card. online is the derived liveness, not
// the stored flag.
func profileFields(p profile.UserProfile, now time.Time) map[string]any {
	return map[string]any{
		keyUID:                      p.UID,
		keyName:                     p.Name(),
		keyUserCode:                 profile.FormatUserID(p.UID),
		profile.FieldEmail:          optionalString(p.Email),
		profile.FieldUsername:       p.Username,
		profile.FieldDisplayName:    p.DisplayName,
		profile.FieldAvatarURL:      optionalString(p.AvatarURL),
		profile.FieldBio:            optionalString(p.Bio),
		profile.FieldGender:         optionalString(p.Gender),
		profile.FieldStarSign:       optionalString(p.StarSign),
		profile.FieldAge:            optionalInt(p.Age),
		profile.FieldLocation:       optionalString(p.Location),
		profile.FieldHobbies:        hobbiesList(p.Hobbies),
		profile.FieldFollowersCount: p.FollowersCount,
		profile.FieldFollowingCount: p.FollowingCount,
		keyFollowersText:            profile.FormatCount(p.FollowersCount),
		profile.FieldIsOnline:       p.IsOnline,
		keyOnline:                   presence.IsOnline(p.IsOnline, p.LastSeenAt, now),
		keyLastSeenLabel:            presence.LastSeenLabel(p.IsOnline, p.LastSeenAt, now),
		profile.FieldLastSeenAt:     optionalTime(p.LastSeenAt),
		profile.FieldCreatedAt:      optionalTime(p.CreatedAt),
	}
}

func profileStruct(p profile.UserProfile, now time.Time) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(profileFields(p, now))
	if err != nil {
		return nil, fmt.Errorf("encode profile %s: %w", p.UID, err)
	}
	return out, nil
}

func profilesStruct(profiles []profile.UserProfile, now time.Time) (*structpb.Struct, error) {
	list := make([]any, 0, len(profiles))
	for _, p := range profiles {
		list = append(list, profileFields(p, now))
	}
	out, err := structpb.NewStruct(map[string]any{keyProfiles: list})
	if err != nil {
		return nil, fmt.Errorf("encode profiles: %w", err)
	}
	return out, nil
}

func idsStruct(ids []string) (*structpb.Struct, error) {
	list := make([]any, 0, len(ids))
	for _, id := range ids {
		list = append(list, id)
	}
	return structpb.NewStruct(map[string]any{keyUIDs: list})
}

func optionalString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func optionalInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func optionalTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC().Format(time.RFC3339Nano)
}

func hobbiesList(hobbies []string) any {
	if hobbies == nil {
		return nil
	}
	list := make([]any, 0, len(hobbies))
	for _, h := range hobbies {
		list = append(list, h)
	}
	return list
}
