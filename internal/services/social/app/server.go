// Package server wires the social graph runtime and gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/bliss/internal/platform/metrics"
	"github.com/louisbranch/bliss/internal/platform/timeouts"
	socialservice "github.com/louisbranch/bliss/internal/services/social/api/grpc/social"
	"github.com/louisbranch/bliss/internal/services/social/graph"
	"github.com/louisbranch/bliss/internal/services/social/session"
	"github.com/louisbranch/bliss/internal/services/social/storage"
	socialfirestore "github.com/louisbranch/bliss/internal/services/social/storage/firestore"
	socialmemory "github.com/louisbranch/bliss/internal/services/social/storage/memory"
	socialsqlite "github.com/louisbranch/bliss/internal/services/social/storage/sqlite"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Store backends.
const (
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
)

// Options configures a Server.
type Options struct {
	Addr              string
	Store             string
	DBPath            string
	FirestoreProject  string
	ReconcileSchedule string
	MetricsAddr       string
	// Verifier authenticates callers. When nil it is loaded from the
	// BLISS_SESSION_* environment.
	Verifier socialservice.TokenVerifier
}

// Server hosts the social graph gRPC API, the reconcile job, and the metrics
// listener.
type Server struct {
	listener        net.Listener
	grpcServer      *grpc.Server
	health          *health.Server
	store           storage.DocumentStore
	graph           *graph.Service
	metrics         *metrics.Recorder
	scheduler       *cron.Cron
	metricsServer   *http.Server
	metricsListener net.Listener
	jobCtx          context.Context
	stopJobs        context.CancelFunc
}

// New creates a configured social server.
func New(ctx context.Context, opts Options) (*Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	verifier := opts.Verifier
	if verifier == nil {
		cfg, err := session.LoadVerifierConfigFromEnv(time.Now)
		if err != nil {
			return nil, fmt.Errorf("load session verifier: %w", err)
		}
		v, err := session.NewVerifier(cfg)
		if err != nil {
			return nil, err
		}
		verifier = v
	}

	listener, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", opts.Addr, err)
	}
	store, err := openStore(ctx, opts)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	recorder := metrics.New()
	graphService := graph.NewService(store, graph.WithMetrics(recorder))
	s := &Server{
		listener: listener,
		store:    store,
		graph:    graphService,
		metrics:  recorder,
	}
	s.jobCtx, s.stopJobs = context.WithCancel(context.Background())

	if err := s.scheduleReconcile(opts.ReconcileSchedule); err != nil {
		s.Close()
		return nil, err
	}
	if addr := strings.TrimSpace(opts.MetricsAddr); addr != "" {
		metricsListener, err := net.Listen("tcp", addr)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", recorder.Handler())
		s.metricsListener = metricsListener
		s.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: timeouts.ReadHeader}
	}

	s.grpcServer = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(socialservice.UnaryAuthInterceptor(verifier)),
		grpc.ChainStreamInterceptor(socialservice.StreamAuthInterceptor(verifier)),
	)
	s.health = health.NewServer()
	socialservice.RegisterSocialGraphServer(s.grpcServer, socialservice.NewService(graphService))
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(socialservice.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return s, nil
}

// Addr returns the gRPC listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// MetricsAddr returns the metrics listener address, or "" when disabled.
func (s *Server) MetricsAddr() string {
	if s == nil || s.metricsListener == nil {
		return ""
	}
	return s.metricsListener.Addr().String()
}

// Graph returns the graph service the server exposes.
func (s *Server) Graph() *graph.Service {
	if s == nil {
		return nil
	}
	return s.graph
}

// Serve runs the gRPC server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	if s.scheduler != nil {
		s.scheduler.Start()
	}
	if s.metricsServer != nil {
		log.Printf("social metrics listening at %v", s.metricsListener.Addr())
		go func() {
			if err := s.metricsServer.Serve(s.metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("serve metrics: %v", err)
			}
		}()
	}

	log.Printf("social server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Close releases server resources. It is safe to call more than once.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.stopJobs != nil {
		s.stopJobs()
	}
	if s.scheduler != nil {
		<-s.scheduler.Stop().Done()
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			log.Printf("shutdown metrics server: %v", err)
		}
		cancel()
	}
	if s.metricsListener != nil {
		_ = s.metricsListener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close social store: %v", err)
		}
	}
}

// Reconcile runs one counter reconciliation pass over every profile.
func (s *Server) Reconcile(ctx context.Context) {
	started := time.Now()
	adjusted, err := s.graph.ReconcileAll(ctx)
	if err != nil {
		log.Printf("reconcile counters: %v", err)
	}
	log.Printf("reconcile counters: %d adjusted in %v", adjusted, time.Since(started).Round(time.Millisecond))
}

func (s *Server) scheduleReconcile(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	logger := cron.PrintfLogger(log.Default())
	s.scheduler = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := s.scheduler.AddFunc(spec, func() { s.Reconcile(s.jobCtx) }); err != nil {
		return fmt.Errorf("schedule reconcile %q: %w", spec, err)
	}
	return nil
}

func openStore(ctx context.Context, opts Options) (storage.DocumentStore, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Store)) {
	case "", StoreSQLite:
		path := opts.DBPath
		if strings.TrimSpace(path) == "" {
			path = filepath.Join("data", "social.db")
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		store, err := socialsqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open social sqlite store: %w", err)
		}
		return store, nil
	case StoreFirestore:
		project := strings.TrimSpace(opts.FirestoreProject)
		if project == "" {
			return nil, errors.New("firestore project is required")
		}
		store, err := socialfirestore.Open(ctx, project)
		if err != nil {
			return nil, fmt.Errorf("open social firestore store: %w", err)
		}
		return store, nil
	case StoreMemory:
		return socialmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown social store %q", opts.Store)
	}
}
