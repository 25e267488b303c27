package submit

import (
	"context"
	"errors"
	"strconv"

	"github.com/louisbranch/dizzy/internal/dispatch/capability"
	"github.com/louisbranch/dizzy/internal/dispatch/codec"
	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/engine"
	"github.com/louisbranch/dizzy/internal/dispatch/provenance"
	"github.com/louisbranch/dizzy/internal/dispatch/registry"
	platformerrors "github.com/louisbranch/dizzy/internal/platform/errors"
	"github.com/louisbranch/dizzy/internal/platform/errors/i18n"
	"github.com/louisbranch/dizzy/internal/storage/cursor"
	"github.com/louisbranch/dizzy/internal/storage/filter"
)

// Classify maps err to a platform error. It returns nil for nil.
func Classify(err error) *platformerrors.Error {
	if err == nil {
		return nil
	}
	var platformErr *platformerrors.Error
	if errors.As(err, &platformErr) {
		return platformErr
	}

	metadata := map[string]string{}
	var dispatchErr *engine.DispatchError
	if errors.As(err, &dispatchErr) {
		metadata["Handler"] = dispatchErr.Handler
		metadata["Kind"] = string(dispatchErr.Kind)
		metadata["Cycle"] = strconv.Itoa(dispatchErr.Cycle)
		switch dispatchErr.Kind {
		case engine.KindCommand:
			metadata["Type"] = string(dispatchErr.Command.Type)
		case engine.KindEvent:
			metadata["Type"] = string(dispatchErr.Event.Type)
		}
	}
	var violation *capability.ViolationError
	if errors.As(err, &violation) {
		metadata["Handler"] = violation.Handler
		metadata["Capability"] = violation.Name
	}
	var limitErr *engine.CycleLimitError
	if errors.As(err, &limitErr) {
		metadata["Limit"] = strconv.Itoa(limitErr.Limit)
	}

	return platformerrors.WrapWithMetadata(codeOf(err), err.Error(), metadata, err)
}

func codeOf(err error) platformerrors.Code {
	switch {
	case errors.Is(err, command.ErrTypeUnknown),
		errors.Is(err, command.ErrTypeRequired):
		return platformerrors.CodeCommandTypeUnknown
	case errors.Is(err, command.ErrPayloadInvalid),
		errors.Is(err, command.ErrPayloadRequired),
		errors.Is(err, command.ErrPayloadTypeMismatch),
		errors.Is(err, codec.ErrEnvelopeInvalid):
		return platformerrors.CodePayloadInvalid
	case errors.Is(err, registry.ErrConfiguration):
		return platformerrors.CodeConfigurationInvalid
	case errors.Is(err, capability.ErrCapabilityViolation):
		return platformerrors.CodeCapabilityViolation
	case errors.Is(err, engine.ErrHandlerTimeout):
		return platformerrors.CodeHandlerTimeout
	case errors.Is(err, engine.ErrCycleLimitExceeded):
		return platformerrors.CodeCycleLimitExceeded
	case errors.Is(err, engine.ErrHandlerFailure):
		return platformerrors.CodeHandlerFailed
	case errors.Is(err, filter.ErrInvalid):
		return platformerrors.CodeFilterInvalid
	case errors.Is(err, cursor.ErrInvalidToken):
		return platformerrors.CodePageTokenInvalid
	case errors.Is(err, provenance.ErrNotFound):
		return platformerrors.CodeNotFound
	case errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return platformerrors.CodeDispatchCancelled
	default:
		return platformerrors.CodeUnknown
	}
}

// Status converts err into a gRPC status error whose localized message is
// rendered for locale. It returns nil for nil.
func Status(err error, locale string) error {
	classified := Classify(err)
	if classified == nil {
		return nil
	}
	catalog := i18n.GetCatalog(locale)
	message := catalog.Format(string(classified.Code), classified.Metadata)
	return classified.ToGRPCStatus(catalog.Locale(), message)
}
