package registry

import (
	"errors"
	"fmt"
)

// ErrDeviceNotFound is returned by operations on a device id that has no
// registry entry. Handlers map it to 404.
var ErrDeviceNotFound = errors.New("device not registered")

// ErrForeignDevice marks a message whose identity metadata names a different
// device than the subscription expects. Such messages are filtered, not
// treated as decode failures.
var ErrForeignDevice = errors.New("message belongs to another device")

// DecodeError describes a malformed telemetry message. Readings that fail to
// decode are dropped and logged; the subscription keeps running.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode telemetry: %s: %v", e.Reason, e.Err)
	}
	return "decode telemetry: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }
