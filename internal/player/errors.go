package player

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAlreadyPlaying is returned by Start while a session is running or cancelling
	ErrAlreadyPlaying = errors.New("playback already in progress")

	// ErrPermissionDenied is returned by Start when the injector cannot inject
	ErrPermissionDenied = errors.New("input injection permission denied")

	// ErrCalibrationMissing marks a note with no calibrated position
	ErrCalibrationMissing = errors.New("note not calibrated")

	// ErrInjection is the terminal error of a session whose injector failed
	ErrInjection = errors.New("input injection failed")

	// ErrEmptySequence is returned by Start for an empty sequence
	ErrEmptySequence = errors.New("empty note sequence")

	// ErrInvalidSequence is returned by Start for a malformed note event
	ErrInvalidSequence = errors.New("invalid note sequence")

	// ErrCancelled is returned by TestKey when the key test was stopped
	ErrCancelled = errors.New("playback cancelled")
)

// InjectionError records which touch failed and why
type InjectionError struct {
	Op   string // "press" or "release"
	Note int
	X, Y int
	Err  error
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("%s note %d at (%d,%d): %v", e.Op, e.Note, e.X, e.Y, e.Err)
}

func (e *InjectionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInjection) hold for every InjectionError
func (e *InjectionError) Is(target error) bool {
	return target == ErrInjection
}
