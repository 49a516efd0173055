package media

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoDevice         = errors.New("no matching device")
)

// AccessError is returned when a device cannot be opened. It is never fatal
// to a session; the feature that needed the device stays unavailable.
type AccessError struct {
	Kind     DeviceKind
	DeviceID string
	Err      error
}

func (e *AccessError) Error() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("%s %s: %v", e.Kind.Label(), e.DeviceID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind.Label(), e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// IsAccessError reports whether err is or wraps an *AccessError.
func IsAccessError(err error) bool {
	var ae *AccessError
	return errors.As(err, &ae)
}
