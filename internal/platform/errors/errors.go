package errors

import (
	stderrors "errors"
	"maps"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

// Domain is the error domain reported in gRPC error details.
const Domain = "github.com/louisbranch/dizzy"

// Error carries a stable code next to the internal message. Metadata holds
// template values for the localized message (for example the command type).
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same code, so callers can
// match on a code regardless of message.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == e.Code
}

// New returns an error without cause or metadata.
func New(code Code, message string) *Error {
	return WrapWithMetadata(code, message, nil, nil)
}

// Wrap returns an error for code that unwraps to cause.
func Wrap(code Code, message string, cause error) *Error {
	return WrapWithMetadata(code, message, nil, cause)
}

// WrapWithMetadata returns an error for code with a copy of metadata.
func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	var md map[string]string
	if len(metadata) > 0 {
		md = maps.Clone(metadata)
	}
	return &Error{Code: code, Message: message, Metadata: md, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// ToGRPCStatus converts e into a status error. The status message keeps the
// internal message; userMessage travels as a LocalizedMessage detail.
func (e *Error) ToGRPCStatus(locale string, userMessage string) error {
	base := status.New(e.Code.GRPCCode(), e.Message)
	info := &errdetails.ErrorInfo{Reason: string(e.Code), Domain: Domain, Metadata: e.Metadata}
	localized := &errdetails.LocalizedMessage{Locale: locale, Message: userMessage}

	detailed, err := base.WithDetails(info, localized)
	if err != nil {
		return base.Err()
	}
	return detailed.Err()
}
