package capture

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrUnsupported is returned when the host offers no capture mechanism
	// under any known name.
	ErrUnsupported = errors.New("audio capture is not supported on this host")
	// ErrVideoUnsupported is returned for constraints that ask for video.
	ErrVideoUnsupported = errors.New("video capture is not supported")
	// ErrCaptureFailed matches every *Error.
	ErrCaptureFailed = errors.New("capture failed")

	// ErrPermissionDenied may be returned by strategies when the host refused
	// access to the microphone.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDeviceNotFound may be returned by strategies when the requested
	// device does not exist.
	ErrDeviceNotFound = errors.New("device not found")
)

// ErrorKind classifies a capture failure.
type ErrorKind uint8

const (
	// Generic is any failure that is not one of the others.
	Generic ErrorKind = iota
	// PermissionDenied means the host refused microphone access.
	PermissionDenied
	// DeviceNotFound means no matching input device exists.
	DeviceNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case Generic:
		return "generic"
	case PermissionDenied:
		return "permission-denied"
	case DeviceNotFound:
		return "device-not-found"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// Error is a failed capture attempt.
type Error struct {
	Kind     ErrorKind
	Strategy string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture failed (%s via %s): %v", e.Kind, e.Strategy, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is makes every *Error match ErrCaptureFailed.
func (e *Error) Is(target error) bool { return target == ErrCaptureFailed }

func classify(strategy string, err error) *Error {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}

	kind := Generic
	switch {
	case errors.Is(err, ErrPermissionDenied):
		kind = PermissionDenied
	case errors.Is(err, ErrDeviceNotFound):
		kind = DeviceNotFound
	}

	return &Error{Kind: kind, Strategy: strategy, Err: err}
}
