package registry

import (
	"errors"
	"fmt"
)

// ErrConfiguration indicates a bad registration. It is detected at setup time
// and is fatal to startup.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError describes which registration was rejected and why.
type ConfigurationError struct {
	Handler string
	Type    string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Handler != "" && e.Type != "":
		return fmt.Sprintf("%s: %s (handler %q, type %q)", ErrConfiguration, e.Reason, e.Handler, e.Type)
	case e.Type != "":
		return fmt.Sprintf("%s: %s (type %q)", ErrConfiguration, e.Reason, e.Type)
	case e.Handler != "":
		return fmt.Sprintf("%s: %s (handler %q)", ErrConfiguration, e.Reason, e.Handler)
	default:
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
	}
}

// Unwrap lets errors.Is match ErrConfiguration.
func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

func configErr(handler, typ, format string, args ...any) error {
	return &ConfigurationError{Handler: handler, Type: typ, Reason: fmt.Sprintf(format, args...)}
}
