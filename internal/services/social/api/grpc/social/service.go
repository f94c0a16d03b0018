// Package social exposes the social graph over gRPC.
package social

import (
	"context"
	"iter"
	"time"

	apperrors "github.com/louisbranch/bliss/internal/platform/errors"
	"github.com/louisbranch/bliss/internal/platform/requestctx"
	"github.com/louisbranch/bliss/internal/platform/watch"
	"github.com/louisbranch/bliss/internal/services/social/graph"
	"github.com/louisbranch/bliss/internal/services/social/profile"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Graph is the graph service surface the gRPC layer calls.
type Graph interface {
	CreateProfile(ctx context.Context, reg profile.Registration) (profile.UserProfile, error)
	Follow(ctx context.Context, actor, target string) error
	Unfollow(ctx context.Context, actor, target string) error
	FetchProfile(ctx context.Context, uid string) (profile.UserProfile, error)
	FetchProfilesByIDs(ctx context.Context, ids []string) ([]profile.UserProfile, error)
	UpdateProfile(ctx context.Context, uid string, edit profile.Edit) (profile.UserProfile, error)
	SetPresence(ctx context.Context, uid string, online bool) error
	ListFollowProfiles(ctx context.Context, uid string, direction graph.Direction) ([]profile.UserProfile, error)
	SubscribeToFollowing(uid string, onChange func([]string), onError func(error)) watch.CancelFunc
	SubscribeToDiscovery(viewer string, onChange func([]profile.UserProfile), onError func(error)) watch.CancelFunc
}

// Service implements SocialGraphServer. Every call acts as the user the auth
// interceptor placed in the request context.
type Service struct {
	graph Graph
	clock func() time.Time
}

var _ SocialGraphServer = (*Service)(nil)

// NewService creates a gRPC service backed by g.
func NewService(g Graph) *Service {
	return &Service{
		graph: g,
		clock: time.Now,
	}
}

// Register creates the caller's profile.
func (s *Service) Register(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.graph.CreateProfile(ctx, profile.Registration{
		UID:      uid,
		Email:    stringValue(in, keyEmail),
		Username: stringValue(in, keyUsername),
	})
	if err != nil {
		return nil, apperrors.GRPCStatus(err)
	}
	return s.profileResponse(p)
}

// Follow makes the caller follow target.
func (s *Service) Follow(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	uid, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.graph.Follow(ctx, uid, stringValue(in, keyTarget)); err != nil {
		return nil, apperrors.GRPCStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Unfollow removes the caller's follow of target.
func (s *Service) Unfollow(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	uid, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.graph.Unfollow(ctx, uid, stringValue(in, keyTarget)); err != nil {
		return nil, apperrors.GRPCStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// GetProfile returns one profile card; uid defaults to the caller.
func (s *Service) GetProfile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := s.subject(ctx, in)
	if err != nil {
		return nil, err
	}
	p, err := s.graph.FetchProfile(ctx, uid)
	if err != nil {
		return nil, apperrors.GRPCStatus(err)
	}
	return s.profileResponse(p)
}

// GetProfiles returns the existing profiles among uids.
func (s *Service) GetProfiles(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if _, err := s.caller(ctx); err != nil {
		return nil, err
	}
	profiles, err := s.graph.FetchProfilesByIDs(ctx, stringList(in, keyUIDs))
	if err != nil {
		return nil, apperrors.GRPCStatus(err)
	}
	return s.profilesResponse(profiles)
}

// UpdateProfile applies a profile edit to the caller's profile.
func (s *Service) UpdateProfile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.graph.UpdateProfile(ctx, uid, editFromStruct(in))
	if err != nil {
		return nil, apperrors.GRPCStatus(err)
	}
	return s.profileResponse(p)
}

// SetPresence records the caller's online flag.
func (s *Service) SetPresence(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	uid, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	online, err := boolValue(in, keyOnline)
	if err != nil {
		return nil, err
	}
	if err := s.graph.SetPresence(ctx, uid, online); err != nil {
		return nil, apperrors.GRPCStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// ListFollows returns the profiles on one side of a user's follow edges.
func (s *Service) ListFollows(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := s.subject(ctx, in)
	if err != nil {
		return nil, err
	}
	direction := graph.Direction(stringValue(in, keyDir))
	if direction == "" {
		direction = graph.DirectionFollowing
	}
	profiles, err := s.graph.ListFollowProfiles(ctx, uid, direction)
	if err != nil {
		return nil, apperrors.GRPCStatus(err)
	}
	return s.profilesResponse(profiles)
}

// WatchFollowing streams the ids a user follows; uid defaults to the caller.
func (s *Service) WatchFollowing(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	uid, err := s.subject(stream.Context(), in)
	if err != nil {
		return err
	}
	snapshots := watch.Stream(stream.Context(), func(onNext func([]string), onError func(error)) watch.CancelFunc {
		return s.graph.SubscribeToFollowing(uid, onNext, onError)
	})
	return sendAll(stream, snapshots, idsStruct)
}

// WatchDiscovery streams the caller's ranked discovery feed.
func (s *Service) WatchDiscovery(_ *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	uid, err := s.caller(stream.Context())
	if err != nil {
		return err
	}
	snapshots := watch.Stream(stream.Context(), func(onNext func([]profile.UserProfile), onError func(error)) watch.CancelFunc {
		return s.graph.SubscribeToDiscovery(uid, onNext, onError)
	})
	return sendAll(stream, snapshots, func(profiles []profile.UserProfile) (*structpb.Struct, error) {
		return profilesStruct(profiles, s.now())
	})
}

func sendAll[T any](stream grpc.ServerStreamingServer[structpb.Struct], snapshots iter.Seq2[T, error], encode func(T) (*structpb.Struct, error)) error {
	for snapshot, err := range snapshots {
		if err != nil {
			if ctxErr := stream.Context().Err(); ctxErr != nil {
				return nil
			}
			return apperrors.GRPCStatus(err)
		}
		msg, err := encode(snapshot)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) caller(ctx context.Context) (string, error) {
	if s == nil || s.graph == nil {
		return "", status.Error(codes.Internal, "social graph is not configured")
	}
	uid := requestctx.UserIDFromContext(ctx)
	if uid == "" {
		return "", status.Error(codes.Unauthenticated, "session is required")
	}
	return uid, nil
}

// subject resolves the uid a read targets, defaulting to the caller.
func (s *Service) subject(ctx context.Context, in *structpb.Struct) (string, error) {
	uid, err := s.caller(ctx)
	if err != nil {
		return "", err
	}
	if requested := stringValue(in, keyUID); requested != "" {
		return requested, nil
	}
	return uid, nil
}

func (s *Service) profileResponse(p profile.UserProfile) (*structpb.Struct, error) {
	out, err := profileStruct(p, s.now())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Service) profilesResponse(profiles []profile.UserProfile) (*structpb.Struct, error) {
	out, err := profilesStruct(profiles, s.now())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock()
}
