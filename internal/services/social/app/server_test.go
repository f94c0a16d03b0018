package server

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	socialservice "github.com/louisbranch/bliss/internal/services/social/api/grpc/social"
	"github.com/louisbranch/bliss/internal/services/social/session"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	testIssuer   = "bliss-auth"
	testAudience = "bliss-social"
)

func setSessionEnv(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Setenv("BLISS_SESSION_ISSUER", testIssuer)
	t.Setenv("BLISS_SESSION_AUDIENCE", testAudience)
	t.Setenv("BLISS_SESSION_PUBLIC_KEY", base64.StdEncoding.EncodeToString(pub))
	return priv
}

func startServerForTest(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	if opts.DBPath == "" {
		opts.DBPath = filepath.Join(t.TempDir(), "social.db")
	}
	srv, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.Serve(runCtx)
	}()
	t.Cleanup(func() {
		runCancel()
		select {
		case serveErr := <-serveDone:
			if serveErr != nil {
				t.Fatalf("serve: %v", serveErr)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for server shutdown")
		}
	})
	return srv
}

func clientForTest(t *testing.T, srv *Server, key ed25519.PrivateKey, uid string) *socialservice.Client {
	t.Helper()
	token, err := session.Issue(key, testIssuer, testAudience, session.Session{UserID: uid}, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := socialservice.Dial(ctx, srv.Addr(), token, t.Logf)
	if err != nil {
		t.Fatalf("dial social server: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := client.Close(); closeErr != nil {
			t.Fatalf("close gRPC connection: %v", closeErr)
		}
	})
	return client
}

func TestServer_FollowRoundTrip(t *testing.T) {
	key := setSessionEnv(t)
	srv := startServerForTest(t, Options{Store: StoreSQLite})
	ctx := context.Background()
	ana := clientForTest(t, srv, key, "ana")
	bo := clientForTest(t, srv, key, "bo")

	if _, err := ana.Register(ctx, "ana@example.com", "ana"); err != nil {
		t.Fatalf("register ana: %v", err)
	}
	if _, err := bo.Register(ctx, "bo@example.com", "bo"); err != nil {
		t.Fatalf("register bo: %v", err)
	}
	if err := ana.Follow(ctx, "bo"); err != nil {
		t.Fatalf("follow: %v", err)
	}

	srv.Reconcile(ctx)

	card, err := bo.GetProfile(ctx, "")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got := card.GetFields()["followersCount"].GetNumberValue(); got != 1 {
		t.Fatalf("followersCount = %v, want 1", got)
	}
	following, err := ana.ListFollows(ctx, "", "following")
	if err != nil {
		t.Fatalf("list following: %v", err)
	}
	if got := len(following.GetFields()["profiles"].GetListValue().GetValues()); got != 1 {
		t.Fatalf("following len = %d, want 1", got)
	}
}

func TestServer_UnknownTargetReturnsNotFound(t *testing.T) {
	key := setSessionEnv(t)
	srv := startServerForTest(t, Options{Store: StoreMemory})
	ana := clientForTest(t, srv, key, "ana")

	if _, err := ana.Register(context.Background(), "ana@example.com", "ana"); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := ana.Follow(context.Background(), "missing-user")
	if status.Code(err) != codes.NotFound {
		t.Fatalf("follow code = %v, want %v", status.Code(err), codes.NotFound)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	key := setSessionEnv(t)
	srv := startServerForTest(t, Options{Store: StoreMemory, MetricsAddr: "127.0.0.1:0", ReconcileSchedule: "@hourly"})
	ana := clientForTest(t, srv, key, "ana")
	if _, err := ana.Register(context.Background(), "ana@example.com", "ana"); err != nil {
		t.Fatalf("register: %v", err)
	}

	resp, err := http.Get("http://" + srv.MetricsAddr() + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), `bliss_graph_operations_total{op="create_profile",outcome="ok"} 1`) {
		t.Fatalf("metrics missing create_profile counter:\n%s", body)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	setSessionEnv(t)
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{name: "store", opts: Options{Addr: "127.0.0.1:0", Store: "redis"}, want: "unknown social store"},
		{name: "schedule", opts: Options{Addr: "127.0.0.1:0", Store: StoreMemory, ReconcileSchedule: "every tuesday"}, want: "schedule reconcile"},
		{name: "firestore", opts: Options{Addr: "127.0.0.1:0", Store: StoreFirestore}, want: "firestore project is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := New(context.Background(), tt.opts)
			if err == nil {
				srv.Close()
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestNewRequiresSessionConfig(t *testing.T) {
	t.Setenv("BLISS_SESSION_ISSUER", "")
	t.Setenv("BLISS_SESSION_AUDIENCE", "")
	t.Setenv("BLISS_SESSION_PUBLIC_KEY", "")
	if _, err := New(context.Background(), Options{Addr: "127.0.0.1:0", Store: StoreMemory}); err == nil {
		t.Fatal("expected missing session config error")
	}
}
