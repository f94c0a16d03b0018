package social

import (
	"context"
	"errors"
	"io"
	"strings"

	platformgrpc "github.com/louisbranch/bliss/internal/platform/grpc"
	"github.com/louisbranch/bliss/internal/platform/timeouts"
	"github.com/louisbranch/bliss/internal/services/social/presence"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls SocialGraphService with a fixed session token.
type Client struct {
	cc    grpc.ClientConnInterface
	conn  *grpc.ClientConn
	token string
}

// NewClient wraps an existing connection. The caller owns cc.
func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: strings.TrimSpace(token)}
}

// Dial connects to addr, waits for it to report healthy, and returns a client
// that owns the connection.
func Dial(ctx context.Context, addr, token string, logf func(string, ...any)) (*Client, error) {
	conn, err := platformgrpc.DialWithHealth(ctx, addr, timeouts.GRPCDial, logf)
	if err != nil {
		return nil, err
	}
	c := NewClient(conn, token)
	c.conn = conn
	return c, nil
}

// Close closes the connection when the client owns it.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Register creates the caller's profile.
func (c *Client) Register(ctx context.Context, email, username string) (*structpb.Struct, error) {
	return c.call(ctx, MethodRegister, map[string]any{keyEmail: email, keyUsername: username})
}

// Follow makes the caller follow target.
func (c *Client) Follow(ctx context.Context, target string) error {
	return c.callEmpty(ctx, MethodFollow, map[string]any{keyTarget: target})
}

// Unfollow removes the caller's follow of target.
func (c *Client) Unfollow(ctx context.Context, target string) error {
	return c.callEmpty(ctx, MethodUnfollow, map[string]any{keyTarget: target})
}

// GetProfile fetches one profile card. An empty uid means the caller.
func (c *Client) GetProfile(ctx context.Context, uid string) (*structpb.Struct, error) {
	return c.call(ctx, MethodGetProfile, map[string]any{keyUID: uid})
}

// GetProfiles fetches the existing profiles among uids.
func (c *Client) GetProfiles(ctx context.Context, uids []string) (*structpb.Struct, error) {
	return c.call(ctx, MethodGetProfiles, map[string]any{keyUIDs: toList(uids)})
}

// UpdateProfile submits a profile edit for the caller. Keys follow the stored
// profile field names.
func (c *Client) UpdateProfile(ctx context.Context, edit map[string]any) (*structpb.Struct, error) {
	return c.call(ctx, MethodUpdateProfile, edit)
}

// SetPresence records the caller's online flag.
func (c *Client) SetPresence(ctx context.Context, online bool) error {
	return c.callEmpty(ctx, MethodSetPresence, map[string]any{keyOnline: online})
}

// PresenceWriter adapts the client to a heartbeat writer. The server records
// presence for the token's user, so the uid argument is ignored.
func (c *Client) PresenceWriter() presence.Writer {
	return presenceWriter{client: c}
}

type presenceWriter struct {
	client *Client
}

func (w presenceWriter) SetPresence(ctx context.Context, _ string, online bool) error {
	return w.client.SetPresence(ctx, online)
}

// ListFollows lists one side of uid's follow edges.
func (c *Client) ListFollows(ctx context.Context, uid, direction string) (*structpb.Struct, error) {
	return c.call(ctx, MethodListFollows, map[string]any{keyUID: uid, keyDir: direction})
}

// WatchFollowing streams the ids uid follows until ctx ends or onSnapshot
// returns false.
func (c *Client) WatchFollowing(ctx context.Context, uid string, onSnapshot func([]string) bool) error {
	return c.watch(ctx, MethodWatchFollowing, map[string]any{keyUID: uid}, func(msg *structpb.Struct) bool {
		return onSnapshot(stringList(msg, keyUIDs))
	})
}

// WatchDiscovery streams the caller's discovery feed.
func (c *Client) WatchDiscovery(ctx context.Context, onSnapshot func([]*structpb.Struct) bool) error {
	return c.watch(ctx, MethodWatchDiscovery, map[string]any{}, func(msg *structpb.Struct) bool {
		values := msg.GetFields()[keyProfiles].GetListValue().GetValues()
		profiles := make([]*structpb.Struct, 0, len(values))
		for _, v := range values {
			if p := v.GetStructValue(); p != nil {
				profiles = append(profiles, p)
			}
		}
		return onSnapshot(profiles)
	})
}

func (c *Client) call(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(c.outgoing(ctx), FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) callEmpty(ctx context.Context, method string, fields map[string]any) error {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return err
	}
	return c.cc.Invoke(c.outgoing(ctx), FullMethod(method), in, new(emptypb.Empty))
}

func (c *Client) watch(ctx context.Context, method string, fields map[string]any, onMessage func(*structpb.Struct) bool) error {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	cs, err := c.cc.NewStream(c.outgoing(ctx), desc, FullMethod(method))
	if err != nil {
		return err
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
	if err := stream.Send(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if !onMessage(msg) {
			return nil
		}
	}
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, authorizationHeader, "Bearer "+c.token)
}

func toList(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
