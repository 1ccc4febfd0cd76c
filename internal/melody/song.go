// Package melody loads note sequences from text, YAML song sheets and MIDI files.
package melody

import (
	"github.com/pkg/errors"

	"skyplay/internal/player"
)

// DefaultVelocity is used when a source does not give one
const DefaultVelocity = 100

var (
	// ErrUnknownNote is returned for a key name that is not registered
	ErrUnknownNote = errors.New("unknown note")

	// ErrSyntax is returned for a malformed token or sheet entry
	ErrSyntax = errors.New("syntax error")

	// ErrNoNotes is returned when a source contains no playable notes
	ErrNoNotes = errors.New("no notes")
)

// Song is a titled note sequence
type Song struct {
	Title string
	Notes []player.NoteEvent
}

// DurationMs is the total playing time of the song
func (s Song) DurationMs() int {
	total := 0
	for _, n := range s.Notes {
		total += n.DurationMs
	}
	return total
}
