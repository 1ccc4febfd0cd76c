// Package notes maps human-readable key names ("C4", "F#5") to note numbers.
package notes

import (
	"strconv"
	"strings"
)

// Registered range: C4 (60) through B5 (83), the two octaves of the instrument.
const (
	LowestNote  = 60
	HighestNote = 83
)

// Unknown is returned by NoteToName for notes without a registered name.
const Unknown = "Unknown"

var pitchClasses = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Flat spellings are folded onto the sharp names used by the table.
var flatToSharp = map[string]string{
	"DB": "C#",
	"EB": "D#",
	"GB": "F#",
	"AB": "G#",
	"BB": "A#",
}

var canonicalOctave = []string{"C4", "D4", "E4", "F4", "G4", "A4", "B4", "C5"}

var (
	byName = make(map[string]int)
	byNote = make(map[int]string)
)

func init() {
	for note := LowestNote; note <= HighestNote; note++ {
		name := pitchClasses[note%12] + strconv.Itoa(note/12-1)
		byName[name] = note
		byNote[note] = name
	}
}

// NameToNote returns the note number for a key name.
func NameToNote(name string) (int, bool) {
	key, ok := normalize(name)
	if !ok {
		return 0, false
	}
	note, ok := byName[key]
	return note, ok
}

// NoteToName returns the canonical key name for a note, or Unknown.
func NoteToName(note int) string {
	if name, ok := byNote[note]; ok {
		return name
	}
	return Unknown
}

// Names returns every registered key name, lowest note first.
func Names() []string {
	names := make([]string, 0, len(byNote))
	for note := LowestNote; note <= HighestNote; note++ {
		names = append(names, byNote[note])
	}
	return names
}

// CanonicalOctave returns the white keys C4..C5 used to judge calibration coverage.
func CanonicalOctave() []string {
	out := make([]string, len(canonicalOctave))
	copy(out, canonicalOctave)
	return out
}

// normalize turns "  db4", "Db4" or "C#4" into the table spelling.
func normalize(name string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(name))
	if len(s) < 2 || s[0] < 'A' || s[0] > 'G' {
		return "", false
	}

	pitch := s[:1]
	rest := s[1:]
	if rest[0] == '#' || rest[0] == 'B' {
		pitch = s[:2]
		rest = s[2:]
	}
	if rest == "" {
		return "", false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return "", false
		}
	}

	if sharp, ok := flatToSharp[pitch]; ok {
		pitch = sharp
	}
	return pitch + rest, true
}
