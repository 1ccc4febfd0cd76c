package melody

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"skyplay/internal/notes"
	"skyplay/internal/player"
)

// ParseText reads whitespace-separated tokens of the form NOTE[:ms[:velocity]],
// where NOTE is a key name ("C4", "f#5", "Eb4") or a note number ("60").
// A token starting with "#" or "//" comments out the rest of the line.
func ParseText(r io.Reader, defaultMs int) ([]player.NoteEvent, error) {
	var seq []player.NoteEvent

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		for _, tok := range strings.Fields(sc.Text()) {
			if strings.HasPrefix(tok, "#") || strings.HasPrefix(tok, "//") {
				break
			}
			ev, err := parseToken(tok, defaultMs)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			seq = append(seq, ev)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read melody")
	}
	if len(seq) == 0 {
		return nil, ErrNoNotes
	}
	return seq, nil
}

// ParseTextString is ParseText over a string
func ParseTextString(s string, defaultMs int) ([]player.NoteEvent, error) {
	return ParseText(strings.NewReader(s), defaultMs)
}

func parseToken(tok string, defaultMs int) (player.NoteEvent, error) {
	parts := strings.Split(tok, ":")
	if len(parts) > 3 {
		return player.NoteEvent{}, errors.Wrapf(ErrSyntax, "%q: too many fields", tok)
	}

	note, err := ResolveNote(parts[0])
	if err != nil {
		return player.NoteEvent{}, err
	}

	ev := player.NoteEvent{Note: note, Velocity: DefaultVelocity, DurationMs: defaultMs}
	if len(parts) > 1 && parts[1] != "" {
		ms, err := strconv.Atoi(parts[1])
		if err != nil || ms < 0 {
			return player.NoteEvent{}, errors.Wrapf(ErrSyntax, "%q: bad duration", tok)
		}
		ev.DurationMs = ms
	}
	if len(parts) > 2 {
		vel, err := strconv.Atoi(parts[2])
		if err != nil || vel < 0 || vel > 127 {
			return player.NoteEvent{}, errors.Wrapf(ErrSyntax, "%q: bad velocity", tok)
		}
		ev.Velocity = vel
	}
	return ev, nil
}

// ResolveNote accepts a key name or a MIDI note number
func ResolveNote(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 127 {
			return 0, errors.Wrapf(ErrUnknownNote, "%d out of range", n)
		}
		return n, nil
	}
	n, ok := notes.NameToNote(s)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownNote, "%q", s)
	}
	return n, nil
}
