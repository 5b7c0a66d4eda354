package permissions

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a permission code that a call site requested
// but the catalog does not define. It indicates catalog/call-site drift
// introduced at deploy time, not bad data, and is surfaced to the caller.
type ConfigurationError struct {
	Code string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("permission code not registered in catalog: %q", e.Code)
}

// IsConfigurationError checks if an error is a catalog configuration error.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

var (
	// ErrDuplicateCode is returned when a catalog source defines the
	// same permission code twice.
	ErrDuplicateCode = errors.New("duplicate permission code in catalog")

	// ErrEmptyCatalog is returned when a catalog source contains no
	// definitions at all.
	ErrEmptyCatalog = errors.New("catalog contains no permission definitions")
)
