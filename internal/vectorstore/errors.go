package vectorstore

import (
	"errors"

	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the Qdrant client could not connect.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidCollectionName indicates a collection name that fails
	// validation.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrCollectionNotFound indicates an operation against a missing
	// collection.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCircuitOpen indicates the circuit breaker is rejecting calls.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// IsTransientError reports whether an error is worth retrying: network
// timeouts and temporary unavailability yes, bad arguments and permission
// problems no.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}
