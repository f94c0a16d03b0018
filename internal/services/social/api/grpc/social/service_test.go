package social

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	apperrors "github.com/louisbranch/bliss/internal/platform/errors"
	"github.com/louisbranch/bliss/internal/services/social/graph"
	"github.com/louisbranch/bliss/internal/services/social/presence"
	"github.com/louisbranch/bliss/internal/services/social/session"
	"github.com/louisbranch/bliss/internal/services/social/storage/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	testIssuer   = "bliss-auth"
	testAudience = "bliss-social"
)

type testServer struct {
	addr string
	key  ed25519.PrivateKey
}

func startTestServer(t *testing.T) testServer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	verifier, err := session.NewVerifier(session.VerifierConfig{Issuer: testIssuer, Audience: testAudience, Key: pub})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryAuthInterceptor(verifier)),
		grpc.ChainStreamInterceptor(StreamAuthInterceptor(verifier)),
	)
	RegisterSocialGraphServer(srv, NewService(graph.NewService(store)))
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(srv, healthServer)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return testServer{addr: lis.Addr().String(), key: priv}
}

func (s testServer) client(t *testing.T, uid string) *Client {
	t.Helper()
	token := ""
	if uid != "" {
		var err error
		token, err = session.Issue(s.key, testIssuer, testAudience, session.Session{UserID: uid}, time.Now(), time.Hour)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.addr, token, t.Logf)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func numberField(msg *structpb.Struct, key string) float64 {
	return msg.GetFields()[key].GetNumberValue()
}

func TestServiceRequiresSession(t *testing.T) {
	srv := startTestServer(t)
	anonymous := srv.client(t, "")

	_, err := anonymous.GetProfile(context.Background(), "u1")
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}

	forged := NewClient(anonymous.cc, "not-a-token")
	_, err = forged.GetProfile(context.Background(), "u1")
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}
	if reason := apperrors.Reason(err); reason != apperrors.CodeUnauthenticated {
		t.Fatalf("reason = %v, want %v", reason, apperrors.CodeUnauthenticated)
	}
}

func TestServiceFollowFlow(t *testing.T) {
	srv := startTestServer(t)
	ctx := context.Background()
	ana := srv.client(t, "ana")
	bo := srv.client(t, "bo")

	if _, err := ana.Register(ctx, "ana@example.com", "Ana"); err != nil {
		t.Fatalf("register ana: %v", err)
	}
	if _, err := bo.Register(ctx, "bo@example.com", "Bo"); err != nil {
		t.Fatalf("register bo: %v", err)
	}
	if _, err := bo.Register(ctx, "bo@example.com", "Bo"); status.Code(err) != codes.AlreadyExists {
		t.Fatalf("second register code = %v, want AlreadyExists", status.Code(err))
	}

	if err := ana.Follow(ctx, "bo"); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if err := ana.Follow(ctx, "ana"); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("self follow code = %v, want InvalidArgument", status.Code(err))
	} else if reason := apperrors.Reason(err); reason != apperrors.CodeInvalidOperation {
		t.Fatalf("self follow reason = %v, want %v", reason, apperrors.CodeInvalidOperation)
	}

	card, err := ana.GetProfile(ctx, "bo")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got := numberField(card, "followersCount"); got != 1 {
		t.Fatalf("bo followersCount = %v, want 1", got)
	}
	if got := card.GetFields()["name"].GetStringValue(); got != "Bo" {
		t.Fatalf("bo name = %q, want Bo", got)
	}

	followers, err := bo.ListFollows(ctx, "", "followers")
	if err != nil {
		t.Fatalf("list followers: %v", err)
	}
	list := followers.GetFields()["profiles"].GetListValue().GetValues()
	if len(list) != 1 || list[0].GetStructValue().GetFields()["uid"].GetStringValue() != "ana" {
		t.Fatalf("followers = %v, want [ana]", list)
	}

	if err := ana.Unfollow(ctx, "bo"); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	card, err = bo.GetProfile(ctx, "")
	if err != nil {
		t.Fatalf("get own profile: %v", err)
	}
	if got := numberField(card, "followersCount"); got != 0 {
		t.Fatalf("bo followersCount = %v, want 0", got)
	}

	if _, err := ana.GetProfile(ctx, "ghost"); status.Code(err) != codes.NotFound {
		t.Fatalf("missing profile code = %v, want NotFound", status.Code(err))
	}
}

func TestServiceUpdateProfileAndPresence(t *testing.T) {
	srv := startTestServer(t)
	ctx := context.Background()
	ana := srv.client(t, "ana")
	if _, err := ana.Register(ctx, "ana@example.com", "ana"); err != nil {
		t.Fatalf("register: %v", err)
	}

	updated, err := ana.UpdateProfile(ctx, map[string]any{
		"displayName": "Ana Lima",
		"age":         29,
		"hobbies":     []any{"chess", "climbing"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := updated.GetFields()["name"].GetStringValue(); got != "Ana Lima" {
		t.Fatalf("name = %q, want Ana Lima", got)
	}
	if got := numberField(updated, "age"); got != 29 {
		t.Fatalf("age = %v, want 29", got)
	}
	if _, err := ana.UpdateProfile(ctx, map[string]any{"age": 29}); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("missing name code = %v, want InvalidArgument", status.Code(err))
	}

	if err := ana.SetPresence(ctx, false); err != nil {
		t.Fatalf("set presence: %v", err)
	}
	card, err := ana.GetProfile(ctx, "")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if card.GetFields()["isOnline"].GetBoolValue() {
		t.Fatal("expected stored flag false")
	}
	if !card.GetFields()["online"].GetBoolValue() {
		t.Fatal("expected derived online within the window")
	}
}

func TestServiceWatchFollowing(t *testing.T) {
	srv := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ana := srv.client(t, "ana")
	bo := srv.client(t, "bo")
	if _, err := ana.Register(ctx, "ana@example.com", "ana"); err != nil {
		t.Fatalf("register ana: %v", err)
	}
	if _, err := bo.Register(ctx, "bo@example.com", "bo"); err != nil {
		t.Fatalf("register bo: %v", err)
	}

	snapshots := make(chan []string, 8)
	done := make(chan error, 1)
	go func() {
		done <- ana.WatchFollowing(ctx, "", func(ids []string) bool {
			snapshots <- ids
			return len(ids) == 0
		})
	}()

	select {
	case ids := <-snapshots:
		if len(ids) != 0 {
			t.Fatalf("initial snapshot = %v, want empty", ids)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for initial snapshot")
	}
	if err := ana.Follow(ctx, "bo"); err != nil {
		t.Fatalf("follow: %v", err)
	}
	select {
	case ids := <-snapshots:
		if len(ids) != 1 || ids[0] != "bo" {
			t.Fatalf("snapshot = %v, want [bo]", ids)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for follow snapshot")
	}
	if err := <-done; err != nil {
		t.Fatalf("watch: %v", err)
	}
}

func TestServiceWatchDiscovery(t *testing.T) {
	srv := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ana := srv.client(t, "ana")
	bo := srv.client(t, "bo")
	if _, err := ana.Register(ctx, "ana@example.com", "ana"); err != nil {
		t.Fatalf("register ana: %v", err)
	}
	if _, err := bo.Register(ctx, "bo@example.com", "bo"); err != nil {
		t.Fatalf("register bo: %v", err)
	}

	var got []string
	err := ana.WatchDiscovery(ctx, func(profiles []*structpb.Struct) bool {
		got = got[:0]
		for _, p := range profiles {
			got = append(got, p.GetFields()["uid"].GetStringValue())
		}
		return false
	})
	if err != nil {
		t.Fatalf("watch discovery: %v", err)
	}
	if len(got) != 1 || got[0] != "bo" {
		t.Fatalf("discovery = %v, want [bo]", got)
	}
}

func TestClientDrivesHeartbeat(t *testing.T) {
	srv := startTestServer(t)
	ctx := context.Background()
	ana := srv.client(t, "ana")
	if _, err := ana.Register(ctx, "ana@example.com", "ana"); err != nil {
		t.Fatalf("register: %v", err)
	}

	hb := presence.NewHeartbeat(ana.PresenceWriter(), presence.WithInterval(time.Hour))
	hb.SignIn("ana")
	hb.Background()

	card, err := ana.GetProfile(ctx, "")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if card.GetFields()["isOnline"].GetBoolValue() {
		t.Fatal("expected background write to clear the stored flag")
	}
	hb.SignOut()
}
