package melody

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LoadFile loads a song by extension: .mid/.midi as MIDI, .yaml/.yml as a
// song sheet, anything else as a text melody.
func LoadFile(path string, defaultMs int) (Song, error) {
	f, err := os.Open(path)
	if err != nil {
		return Song{}, errors.Wrap(err, "open song")
	}
	defer f.Close()

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var song Song
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mid", ".midi":
		song, err = LoadMIDI(f, MIDIOptions{Track: -1, DefaultMs: defaultMs})
	case ".yaml", ".yml":
		song, err = LoadYAML(f, defaultMs)
	default:
		song.Notes, err = ParseText(f, defaultMs)
	}
	if err != nil {
		return Song{}, errors.Wrapf(err, "load %s", path)
	}
	if song.Title == "" {
		song.Title = title
	}

	logrus.WithField("component", "melody").Debugf("Melody: Loaded %q (%d notes, %d ms)", song.Title, len(song.Notes), song.DurationMs())
	return song, nil
}
