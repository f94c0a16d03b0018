package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/bliss/internal/services/social/profile"
	"github.com/louisbranch/bliss/internal/services/social/storage"
	"go.opentelemetry.io/otel/attribute"
)

// CreateProfile writes the registration document of a new account.
func (s *Service) CreateProfile(ctx context.Context, reg profile.Registration) (p profile.UserProfile, err error) {
	fields, err := reg.Fields(storage.ServerTimestamp)
	if err != nil {
		return profile.UserProfile{}, fmt.Errorf("create profile: %w", err)
	}
	uid, err := requireUserID(reg.UID)
	if err != nil {
		return profile.UserProfile{}, fmt.Errorf("create profile: %w", err)
	}
	ctx, end := s.begin(ctx, "create_profile", attribute.String("uid", uid))
	defer end(&err)

	ref := storage.UserDoc(uid)
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		_, err := tx.Get(ref)
		switch {
		case err == nil:
			return ErrProfileExists
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
		return tx.Set(ref, fields, false)
	})
	if err != nil {
		return profile.UserProfile{}, fmt.Errorf("create profile: %w", err)
	}
	return s.reload(ctx, ref, "create profile")
}

// UpdateProfile applies a validated profile edit and returns the result.
func (s *Service) UpdateProfile(ctx context.Context, uid string, edit profile.Edit) (p profile.UserProfile, err error) {
	uid, err = requireUserID(uid)
	if err != nil {
		return profile.UserProfile{}, fmt.Errorf("update profile: %w", err)
	}
	fields, err := edit.Fields()
	if err != nil {
		return profile.UserProfile{}, fmt.Errorf("update profile: %w", err)
	}
	ctx, end := s.begin(ctx, "update_profile", attribute.String("uid", uid))
	defer end(&err)

	ref := storage.UserDoc(uid)
	if err := s.store.Update(ctx, ref, fields); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = profileNotFound(uid, err)
		}
		return profile.UserProfile{}, fmt.Errorf("update profile: %w", err)
	}
	return s.reload(ctx, ref, "update profile")
}

// SetPresence records uid's online flag with the server's current time.
func (s *Service) SetPresence(ctx context.Context, uid string, online bool) (err error) {
	uid, err = requireUserID(uid)
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	ctx, end := s.begin(ctx, "set_presence", attribute.String("uid", uid), attribute.Bool("online", online))
	defer end(&err)

	err = s.store.Update(ctx, storage.UserDoc(uid), storage.Fields{
		profile.FieldIsOnline:   online,
		profile.FieldLastSeenAt: storage.ServerTimestamp,
	})
	if errors.Is(err, storage.ErrNotFound) {
		err = profileNotFound(uid, err)
	}
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

func (s *Service) reload(ctx context.Context, ref storage.DocumentRef, op string) (profile.UserProfile, error) {
	doc, err := s.store.Get(ctx, ref)
	if err != nil {
		return profile.UserProfile{}, fmt.Errorf("%s: reload: %w", op, err)
	}
	return profile.Normalize(doc.ID(), doc.Fields), nil
}
