package melody

import (
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"skyplay/internal/player"
)

// Sheet is the YAML song sheet format:
//
//	title: Ode to Joy
//	default_ms: 400
//	notes:
//	  - key: E4
//	  - key: G4
//	    ms: 800
//	  - note: 67
//	    velocity: 90
//
// Instead of notes, a sheet may carry a text melody in "sequence".
type Sheet struct {
	Title     string       `yaml:"title"`
	DefaultMs int          `yaml:"default_ms"`
	Sequence  string       `yaml:"sequence,omitempty"`
	Notes     []SheetEntry `yaml:"notes,omitempty"`
}

type SheetEntry struct {
	Key      string `yaml:"key,omitempty"`
	Note     *int   `yaml:"note,omitempty"`
	Ms       *int   `yaml:"ms,omitempty"`
	Velocity *int   `yaml:"velocity,omitempty"`
}

// LoadYAML decodes a song sheet. defaultMs applies when the sheet has no default_ms.
func LoadYAML(r io.Reader, defaultMs int) (Song, error) {
	var sheet Sheet
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sheet); err != nil {
		return Song{}, errors.Wrap(err, "decode song sheet")
	}

	if sheet.DefaultMs < 0 {
		return Song{}, errors.Wrap(ErrSyntax, "default_ms must be >= 0")
	}
	if sheet.DefaultMs == 0 {
		sheet.DefaultMs = defaultMs
	}

	if sheet.Sequence != "" && len(sheet.Notes) > 0 {
		return Song{}, errors.Wrap(ErrSyntax, "song sheet has both sequence and notes")
	}
	if sheet.Sequence != "" {
		seq, err := ParseTextString(sheet.Sequence, sheet.DefaultMs)
		if err != nil {
			return Song{}, err
		}
		return Song{Title: sheet.Title, Notes: seq}, nil
	}

	seq := make([]player.NoteEvent, 0, len(sheet.Notes))
	for i, e := range sheet.Notes {
		ev, err := e.toEvent(sheet.DefaultMs)
		if err != nil {
			return Song{}, errors.Wrapf(err, "notes[%d]", i)
		}
		seq = append(seq, ev)
	}
	if len(seq) == 0 {
		return Song{}, ErrNoNotes
	}
	return Song{Title: sheet.Title, Notes: seq}, nil
}

func (e SheetEntry) toEvent(defaultMs int) (player.NoteEvent, error) {
	ev := player.NoteEvent{Velocity: DefaultVelocity, DurationMs: defaultMs}

	switch {
	case e.Key != "" && e.Note != nil:
		return ev, errors.Wrap(ErrSyntax, "key and note are exclusive")
	case e.Key != "":
		n, err := ResolveNote(e.Key)
		if err != nil {
			return ev, err
		}
		ev.Note = n
	case e.Note != nil:
		if *e.Note < 0 || *e.Note > 127 {
			return ev, errors.Wrapf(ErrUnknownNote, "%d out of range", *e.Note)
		}
		ev.Note = *e.Note
	default:
		return ev, errors.Wrap(ErrSyntax, "key or note is required")
	}

	if e.Ms != nil {
		if *e.Ms < 0 {
			return ev, errors.Wrap(ErrSyntax, "ms must be >= 0")
		}
		ev.DurationMs = *e.Ms
	}
	if e.Velocity != nil {
		if *e.Velocity < 0 || *e.Velocity > 127 {
			return ev, errors.Wrap(ErrSyntax, "velocity must be 0-127")
		}
		ev.Velocity = *e.Velocity
	}
	return ev, nil
}
