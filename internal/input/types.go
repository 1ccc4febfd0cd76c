// Package input provides synthetic touch injection backends.
package input

import "io"

// TouchEvent describes one injected touch, as reported to observers
type TouchEvent struct {
	Type      string `json:"type"` // "press", "release"
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Timestamp int64  `json:"ts"` // Unix ms timestamp
}

// Injector delivers synthetic touches to the instrument's screen.
// Press and Release are synchronous: they return once the event has been
// handed to the target (or failed).
type Injector interface {
	// HasPermission reports whether injection is currently possible
	HasPermission() bool

	// Press puts a finger down at (x, y)
	Press(x, y int) error

	// Release lifts the finger at (x, y)
	Release(x, y int) error
}

// Device is an Injector holding an OS resource that must be released
type Device interface {
	Injector
	io.Closer
}
