package click

import (
	"context"
	"errors"

	"github.com/valdo404/clickplanet-go/internal/store"
)

// Caller-visible error codes. The HTTP layer maps them to status codes.
const (
	CodeInvalidArgument   = "INVALID_ARGUMENT"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeBusUnavailable    = "BUS_UNAVAILABLE"
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"
	CodeDeadlineExceeded  = "DEADLINE_EXCEEDED"
	CodeInternal          = "INTERNAL"
)

// ServiceError is the caller-visible error shape for the click pipeline.
type ServiceError struct {
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	return e.Code + ": " + e.Message
}

// InvalidArgument builds an INVALID_ARGUMENT error.
func InvalidArgument(message string) *ServiceError {
	return &ServiceError{Code: CodeInvalidArgument, Message: message}
}

// FromStoreError classifies a store failure into the caller-visible taxonomy.
func FromStoreError(err error) *ServiceError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ServiceError{Code: CodeDeadlineExceeded, Message: "deadline exceeded"}
	case errors.Is(err, context.Canceled):
		return &ServiceError{Code: CodeDeadlineExceeded, Message: "request canceled"}
	case errors.Is(err, store.ErrBusy):
		return &ServiceError{Code: CodeResourceExhausted, Message: "store pool exhausted"}
	case errors.Is(err, store.ErrUnavailable):
		return &ServiceError{Code: CodeStoreUnavailable, Message: "ownership store unavailable"}
	default:
		return &ServiceError{Code: CodeInternal, Message: err.Error()}
	}
}
