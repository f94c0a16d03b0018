package storage

import (
	"reflect"
	"testing"
	"time"
)

func TestResolveWriteMergeKeepsOtherFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := Fields{"username": "ana", "followersCount": int64(2)}

	got, err := ResolveWrite(current, true, Set(UserDoc("u1"), Fields{"bio": "hi"}, true), now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := Fields{"username": "ana", "followersCount": int64(2), "bio": "hi"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("fields = %v, want %v", got, want)
	}
	if _, ok := current["bio"]; ok {
		t.Fatal("resolve must not mutate current fields")
	}
}

func TestResolveWriteReplaceDropsOtherFields(t *testing.T) {
	got, err := ResolveWrite(Fields{"a": "x"}, true, Set(UserDoc("u1"), Fields{"b": 1}, false), time.Now())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !reflect.DeepEqual(got, Fields{"b": int64(1)}) {
		t.Fatalf("fields = %v", got)
	}
}

func TestResolveWriteSentinels(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	current := Fields{"followersCount": int64(4), "score": 1.5, "label": "n/a"}
	w := Set(UserDoc("u1"), Fields{
		"followersCount": Increment(-1),
		"followingCount": Increment(1),
		"score":          Increment(2),
		"label":          Increment(3),
		"lastSeenAt":     ServerTimestamp,
	}, true)

	got, err := ResolveWrite(current, true, w, now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got["followersCount"] != int64(3) {
		t.Fatalf("followersCount = %v, want 3", got["followersCount"])
	}
	if got["followingCount"] != int64(1) {
		t.Fatalf("followingCount = %v, want 1", got["followingCount"])
	}
	if got["score"] != 3.5 {
		t.Fatalf("score = %v, want 3.5", got["score"])
	}
	if got["label"] != int64(3) {
		t.Fatalf("label = %v, want 3", got["label"])
	}
	if ts, ok := got["lastSeenAt"].(time.Time); !ok || !ts.Equal(now) || ts.Location() != time.UTC {
		t.Fatalf("lastSeenAt = %v, want %v in UTC", got["lastSeenAt"], now)
	}
}

func TestNormalizeValue(t *testing.T) {
	got, err := NormalizeValue(map[string]any{
		"hobbies": []string{"music", "travel"},
		"age":     int32(30),
		"nested":  map[string]int{"n": 1},
		"ptr":     (*string)(nil),
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := map[string]any{
		"hobbies": []any{"music", "travel"},
		"age":     int64(30),
		"nested":  map[string]any{"n": int64(1)},
		"ptr":     nil,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("normalized = %#v, want %#v", got, want)
	}
}

func TestNormalizeValueRejectsUnsupported(t *testing.T) {
	if _, err := NormalizeValue(make(chan int)); err == nil {
		t.Fatal("expected unsupported type error")
	}
	if _, err := NormalizeValue(map[int]string{1: "a"}); err == nil {
		t.Fatal("expected unsupported key error")
	}
}

func TestCloneFieldsIsDeep(t *testing.T) {
	src := Fields{"hobbies": []any{"a"}, "meta": map[string]any{"k": "v"}}
	dup := CloneFields(src)
	dup["hobbies"].([]any)[0] = "b"
	dup["meta"].(map[string]any)["k"] = "w"

	if src["hobbies"].([]any)[0] != "a" || src["meta"].(map[string]any)["k"] != "v" {
		t.Fatalf("source mutated: %v", src)
	}
}

func TestRefs(t *testing.T) {
	if got := Following("u1").Doc("u2").Path(); got != "users/u1/following/u2" {
		t.Fatalf("path = %q", got)
	}
	if got := Followers("u2").Path(); got != "users/u2/followers" {
		t.Fatalf("path = %q", got)
	}
	if !UserDoc("u1").Valid() {
		t.Fatal("expected user doc to be valid")
	}
	if UserDoc("a/b").Valid() || UserDoc("").Valid() {
		t.Fatal("expected invalid refs")
	}
}
