package domain

import (
	"errors"
	"fmt"
)

// Error kinds shared across the tuning loop.
var (
	// ErrInsufficientData is returned when a sample floor is not met.
	// Callers always skip; partial application is never allowed.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrPriceUnavailable is returned when a current price cannot be obtained.
	ErrPriceUnavailable = errors.New("price unavailable")
)

// BoundsViolation records a recommendation that fell outside a hard clamp.
// The value is clamped, not rejected.
type BoundsViolation struct {
	Field   string
	Value   float64
	Lo, Hi  float64
	Clamped float64
}

func (e *BoundsViolation) Error() string {
	return fmt.Sprintf("%s=%g outside [%g, %g], clamped to %g", e.Field, e.Value, e.Lo, e.Hi, e.Clamped)
}

// ConfigWriteError wraps an I/O failure while applying config.
type ConfigWriteError struct {
	Path string
	Err  error
}

func (e *ConfigWriteError) Error() string {
	return fmt.Sprintf("write config %s: %v", e.Path, e.Err)
}

func (e *ConfigWriteError) Unwrap() error {
	return e.Err
}
