// Package graph maintains the follow relationship between user documents and
// the denormalized counters derived from it.
package graph

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/louisbranch/bliss/internal/platform/errors"
	"github.com/louisbranch/bliss/internal/platform/metrics"
	"github.com/louisbranch/bliss/internal/platform/timeouts"
	"github.com/louisbranch/bliss/internal/services/social/presence"
	"github.com/louisbranch/bliss/internal/services/social/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/louisbranch/bliss/internal/services/social/graph"

var (
	// ErrInvalidOperation indicates empty ids or a self-follow.
	ErrInvalidOperation = apperrors.New(apperrors.CodeInvalidOperation, "invalid graph operation")
	// ErrProfileNotFound indicates a users/{uid} document is missing.
	ErrProfileNotFound = apperrors.New(apperrors.CodeProfileNotFound, "profile not found")
	// ErrProfileExists indicates a registration for an existing profile.
	ErrProfileExists = apperrors.New(apperrors.CodeProfileAlreadyExists, "profile already exists")
)

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for ranking.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetrics records operation outcomes.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTimeout bounds every one-shot operation.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Service exposes graph operations over a document store.
type Service struct {
	store   storage.DocumentStore
	clock   func() time.Time
	timeout time.Duration
	metrics *metrics.Recorder
	tracer  trace.Tracer
}

var _ presence.Writer = (*Service)(nil)

// NewService creates a graph service backed by store.
func NewService(store storage.DocumentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		clock:   time.Now,
		timeout: timeouts.RemoteOperation,
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// begin starts one bounded, traced operation. The returned func must be
// deferred with the operation's named error.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	ctx, span := s.tracer.Start(ctx, "graph."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		span.End()
		cancel()
		s.metrics.GraphOp(op, started, err)
	}
}

func (s *Service) now() time.Time {
	return s.clock()
}

func requireUserID(uid string) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", apperrors.New(apperrors.CodeInvalidOperation, "user id is required")
	}
	if strings.Contains(uid, "/") {
		return "", apperrors.New(apperrors.CodeInvalidOperation, "user id must not contain '/'")
	}
	return uid, nil
}

func requirePair(actor, target string) (string, string, error) {
	actor, err := requireUserID(actor)
	if err != nil {
		return "", "", err
	}
	target, err = requireUserID(target)
	if err != nil {
		return "", "", err
	}
	if actor == target {
		return "", "", apperrors.New(apperrors.CodeInvalidOperation, "users cannot follow themselves")
	}
	return actor, target, nil
}

func profileNotFound(uid string, cause error) error {
	return apperrors.Wrap(apperrors.CodeProfileNotFound, "profile "+uid+" not found", cause)
}
