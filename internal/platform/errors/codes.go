// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Dispatch errors
	CodeConfigurationInvalid Code = "CONFIGURATION_INVALID"
	CodeCapabilityViolation  Code = "CAPABILITY_VIOLATION"
	CodeHandlerFailed        Code = "HANDLER_FAILED"
	CodeHandlerTimeout       Code = "HANDLER_TIMEOUT"
	CodeCycleLimitExceeded   Code = "CYCLE_LIMIT_EXCEEDED"
	CodeDispatchCancelled    Code = "DISPATCH_CANCELLED"

	// Submission errors
	CodeCommandTypeUnknown Code = "COMMAND_TYPE_UNKNOWN"
	CodePayloadInvalid     Code = "PAYLOAD_INVALID"

	// Storage errors
	CodeNotFound         Code = "NOT_FOUND"
	CodeFilterInvalid    Code = "FILTER_INVALID"
	CodePageTokenInvalid Code = "PAGE_TOKEN_INVALID"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - bad input from the caller
	case CodeCommandTypeUnknown,
		CodePayloadInvalid,
		CodeFilterInvalid,
		CodePageTokenInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - the domain refused the command
	case CodeHandlerFailed,
		CodeCapabilityViolation:
		return codes.FailedPrecondition

	case CodeHandlerTimeout:
		return codes.DeadlineExceeded

	case CodeCycleLimitExceeded:
		return codes.ResourceExhausted

	case CodeDispatchCancelled:
		return codes.Canceled

	case CodeNotFound:
		return codes.NotFound

	default:
		return codes.Internal
	}
}
