package calibration

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned by a Backend when the key has never been written
	ErrNotFound = errors.New("key not found")

	// ErrInvalidNote is returned for notes outside the 0-127 range
	ErrInvalidNote = errors.New("note out of range")

	// ErrInvalidSize is returned for a non-positive key width or height
	ErrInvalidSize = errors.New("key size must be positive")

	// ErrUnknownKey is returned when a key name has no note number
	ErrUnknownKey = errors.New("unknown key name")

	// ErrImportParse is returned when an import blob is not a complete, valid calibration set
	ErrImportParse = errors.New("calibration data could not be parsed")

	// ErrUnsupportedVersion is returned when persisted data carries an unknown format version
	ErrUnsupportedVersion = errors.New("unsupported calibration format version")
)
