package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeProfileNotFound, "profile not found")
	err := fmt.Errorf("follow: %w", Wrap(CodeProfileNotFound, "target missing", stderrors.New("absent")))

	if !stderrors.Is(err, sentinel) {
		t.Fatal("expected wrapped error to match sentinel by code")
	}
	if stderrors.Is(err, New(CodeInvalidOperation, "")) {
		t.Fatal("expected different code not to match")
	}
}

func TestCodeGRPCMapping(t *testing.T) {
	cases := map[Code]codes.Code{
		CodeInvalidOperation:     codes.InvalidArgument,
		CodeProfileInvalid:       codes.InvalidArgument,
		CodeProfileNotFound:      codes.NotFound,
		CodeNotFound:             codes.NotFound,
		CodeProfileAlreadyExists: codes.AlreadyExists,
		CodeUnauthenticated:      codes.Unauthenticated,
		CodeUnknown:              codes.Internal,
	}
	for code, want := range cases {
		if got := code.GRPCCode(); got != want {
			t.Fatalf("%s.GRPCCode() = %v, want %v", code, got, want)
		}
	}
}

func TestGRPCStatusCarriesReason(t *testing.T) {
	err := GRPCStatus(fmt.Errorf("follow: %w", New(CodeInvalidOperation, "self follow")))

	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected status error, got %v", err)
	}
	if st.Code() != codes.InvalidArgument {
		t.Fatalf("code = %v, want %v", st.Code(), codes.InvalidArgument)
	}
	if got := Reason(err); got != CodeInvalidOperation {
		t.Fatalf("reason = %q, want %q", got, CodeInvalidOperation)
	}
}

func TestGRPCStatusMapsContextAndPlainErrors(t *testing.T) {
	if got := status.Code(GRPCStatus(context.DeadlineExceeded)); got != codes.DeadlineExceeded {
		t.Fatalf("deadline code = %v", got)
	}
	if got := status.Code(GRPCStatus(fmt.Errorf("x: %w", context.Canceled))); got != codes.Canceled {
		t.Fatalf("canceled code = %v", got)
	}
	if got := status.Code(GRPCStatus(stderrors.New("boom"))); got != codes.Internal {
		t.Fatalf("plain code = %v", got)
	}
	if GRPCStatus(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestCodeOfDefaultsToUnknown(t *testing.T) {
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf = %q, want %q", got, CodeUnknown)
	}
}
