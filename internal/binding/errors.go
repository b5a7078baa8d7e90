package binding

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned for transport kinds outside Kinds.
var ErrUnknownKind = errors.New("unknown transport kind")

// ConfigurationError reports configuration that must stop a host from opening.
type ConfigurationError struct {
	Op   string
	Kind Kind
	Name string
	Err  error
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Name != "" && e.Kind.Valid():
		return fmt.Sprintf("binding: %s %s/%s: %v", e.Op, e.Kind, e.Name, e.Err)
	case e.Name != "":
		return fmt.Sprintf("binding: %s %q: %v", e.Op, e.Name, e.Err)
	default:
		return fmt.Sprintf("binding: %s: %v", e.Op, e.Err)
	}
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError returns true when err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}
