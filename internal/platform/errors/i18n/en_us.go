package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeUnknown              = "UNKNOWN"
	CodeConfigurationInvalid = "CONFIGURATION_INVALID"
	CodeCapabilityViolation  = "CAPABILITY_VIOLATION"
	CodeHandlerFailed        = "HANDLER_FAILED"
	CodeHandlerTimeout       = "HANDLER_TIMEOUT"
	CodeCycleLimitExceeded   = "CYCLE_LIMIT_EXCEEDED"
	CodeDispatchCancelled    = "DISPATCH_CANCELLED"
	CodeCommandTypeUnknown   = "COMMAND_TYPE_UNKNOWN"
	CodePayloadInvalid       = "PAYLOAD_INVALID"
	CodeNotFound             = "NOT_FOUND"
	CodeFilterInvalid        = "FILTER_INVALID"
	CodePageTokenInvalid     = "PAGE_TOKEN_INVALID"
)

var enUSMessages = map[Code]string{
	CodeUnknown:              "An unexpected error occurred.",
	CodeConfigurationInvalid: "The handler registry is misconfigured.",
	CodeCapabilityViolation:  "Handler {{.Handler}} used a capability it did not declare.",
	CodeHandlerFailed:        "Handler {{.Handler}} rejected {{.Type}}.",
	CodeHandlerTimeout:       "Handler {{.Handler}} did not finish in time.",
	CodeCycleLimitExceeded:   "Processing stopped after {{.Limit}} dispatches.",
	CodeDispatchCancelled:    "Processing was cancelled.",
	CodeCommandTypeUnknown:   "Unknown command type {{.Type}}.",
	CodePayloadInvalid:       "The payload for {{.Type}} is invalid.",
	CodeNotFound:             "The requested record was not found.",
	CodeFilterInvalid:        "The filter expression is invalid.",
	CodePageTokenInvalid:     "The page token is invalid or belongs to another filter.",
}
