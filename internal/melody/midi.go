package melody

import (
	"io"
	"sort"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"skyplay/internal/player"
)

const percussionChannel = 9

// MIDIOptions controls how a MIDI file is reduced to a melody
type MIDIOptions struct {
	// Track selects a single track; negative merges all tracks
	Track int

	// Transpose shifts every note by this many semitones
	Transpose int

	// DefaultMs is the length of a final note that is never released
	DefaultMs int
}

type onset struct {
	us     int64
	endUs  int64
	key    int
	vel    int
	closed bool
}

type voiceKey struct {
	track int
	ch    uint8
	key   uint8
}

// LoadMIDI reads a standard MIDI file and reduces it to a monophonic line.
// Notes starting at the same instant collapse to the highest one; each note
// lasts until the next onset and the final note keeps its own length.
// Percussion (channel 10) is ignored.
func LoadMIDI(r io.Reader, opts MIDIOptions) (Song, error) {
	var tracks []int
	if opts.Track >= 0 {
		tracks = []int{opts.Track}
	}

	var starts []*onset
	open := make(map[voiceKey]*onset)

	err := smf.ReadTracksFrom(r, tracks...).Do(func(te smf.TrackEvent) {
		msg := midi.Message(te.Message)
		var ch, key, vel uint8

		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			if ch == percussionChannel {
				return
			}
			o := &onset{us: te.AbsMicroSeconds, key: int(key) + opts.Transpose, vel: int(vel)}
			starts = append(starts, o)
			open[voiceKey{te.TrackNo, ch, key}] = o
		case msg.GetNoteEnd(&ch, &key):
			vk := voiceKey{te.TrackNo, ch, key}
			if o, ok := open[vk]; ok {
				o.endUs = te.AbsMicroSeconds
				o.closed = true
				delete(open, vk)
			}
		}
	}).Error()
	if err != nil {
		return Song{}, errors.Wrap(err, "read midi")
	}

	seq, err := reduceOnsets(starts, opts.DefaultMs)
	if err != nil {
		return Song{}, err
	}
	return Song{Notes: seq}, nil
}

func reduceOnsets(starts []*onset, defaultMs int) ([]player.NoteEvent, error) {
	if len(starts) == 0 {
		return nil, ErrNoNotes
	}

	sort.SliceStable(starts, func(i, j int) bool { return starts[i].us < starts[j].us })

	// highest key wins per onset time
	var line []*onset
	for _, o := range starts {
		if o.key < 0 || o.key > 127 {
			return nil, errors.Wrapf(ErrUnknownNote, "transposed note %d out of range", o.key)
		}
		if n := len(line); n > 0 && line[n-1].us == o.us {
			if o.key > line[n-1].key {
				line[n-1] = o
			}
			continue
		}
		line = append(line, o)
	}

	seq := make([]player.NoteEvent, len(line))
	for i, o := range line {
		ms := defaultMs
		switch {
		case i+1 < len(line):
			ms = int((line[i+1].us - o.us) / 1000)
		case o.closed:
			ms = int((o.endUs - o.us) / 1000)
		}
		seq[i] = player.NoteEvent{Note: o.key, Velocity: o.vel, DurationMs: ms}
	}
	return seq, nil
}
