// Package errors provides structured domain errors that map onto gRPC statuses.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Graph errors
	CodeInvalidOperation Code = "INVALID_OPERATION"

	// Profile errors
	CodeProfileNotFound      Code = "PROFILE_NOT_FOUND"
	CodeProfileAlreadyExists Code = "PROFILE_ALREADY_EXISTS"
	CodeProfileInvalid       Code = "PROFILE_INVALID"

	// Session errors
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidOperation,
		CodeProfileInvalid:
		return codes.InvalidArgument

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeProfileNotFound:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeProfileAlreadyExists:
		return codes.AlreadyExists

	case CodeUnauthenticated:
		return codes.Unauthenticated

	default:
		return codes.Internal
	}
}
