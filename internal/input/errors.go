package input

import "github.com/pkg/errors"

var (
	// ErrUnsupportedPlatform is returned when a backend does not exist on this OS
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrDeviceClosed is returned after Close
	ErrDeviceClosed = errors.New("input device closed")

	// ErrOutOfBounds is returned for coordinates the backend cannot address
	ErrOutOfBounds = errors.New("coordinates out of bounds")

	// ErrUnknownKind is returned by Open for an unrecognised injector kind
	ErrUnknownKind = errors.New("unknown injector kind")
)
