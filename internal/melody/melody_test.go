package melody

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"skyplay/internal/player"
)

func TestParseText(t *testing.T) {
	src := `
# Ode to Joy, first bar
E4 E4 F4:600 G4   // comment runs to end of line
g4:200:90 Db4 67::80
`
	got, err := ParseTextString(src, 400)
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}

	want := []player.NoteEvent{
		{Note: 64, Velocity: 100, DurationMs: 400},
		{Note: 64, Velocity: 100, DurationMs: 400},
		{Note: 65, Velocity: 100, DurationMs: 600},
		{Note: 67, Velocity: 100, DurationMs: 400},
		{Note: 67, Velocity: 90, DurationMs: 200},
		{Note: 61, Velocity: 100, DurationMs: 400},
		{Note: 67, Velocity: 80, DurationMs: 400},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseText:\n got %+v\nwant %+v", got, want)
	}
}

func TestParseTextErrors(t *testing.T) {
	tests := []struct {
		src  string
		want error
	}{
		{"C4 H4", ErrUnknownNote},
		{"C4:abc", ErrSyntax},
		{"C4:-5", ErrSyntax},
		{"C4:100:200", ErrSyntax},
		{"C4:1:2:3", ErrSyntax},
		{"128", ErrUnknownNote},
		{"# only a comment", ErrNoNotes},
	}
	for _, tt := range tests {
		_, err := ParseTextString(tt.src, 100)
		if !errors.Is(err, tt.want) {
			t.Errorf("%q: expected %v, got %v", tt.src, tt.want, err)
		}
	}

	_, err := ParseTextString("C4\nD4 X9", 100)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("Expected line number in error, got %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	src := `
title: Scale
default_ms: 300
notes:
  - key: C4
  - key: D4
    ms: 500
  - note: 64
    velocity: 70
`
	song, err := LoadYAML(strings.NewReader(src), 100)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if song.Title != "Scale" {
		t.Errorf("Expected title Scale, got %q", song.Title)
	}
	want := []player.NoteEvent{
		{Note: 60, Velocity: 100, DurationMs: 300},
		{Note: 62, Velocity: 100, DurationMs: 500},
		{Note: 64, Velocity: 70, DurationMs: 300},
	}
	if !reflect.DeepEqual(song.Notes, want) {
		t.Errorf("Notes:\n got %+v\nwant %+v", song.Notes, want)
	}
	if song.DurationMs() != 1100 {
		t.Errorf("Expected 1100ms, got %d", song.DurationMs())
	}
}

func TestLoadYAMLSequence(t *testing.T) {
	song, err := LoadYAML(strings.NewReader("sequence: C4 E4:250\n"), 150)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	want := []player.NoteEvent{
		{Note: 60, Velocity: 100, DurationMs: 150},
		{Note: 64, Velocity: 100, DurationMs: 250},
	}
	if !reflect.DeepEqual(song.Notes, want) {
		t.Errorf("Notes: got %+v", song.Notes)
	}
}

func TestLoadYAMLErrors(t *testing.T) {
	tests := []string{
		"notes:\n  - key: C4\n    note: 60\n",
		"notes:\n  - ms: 100\n",
		"notes:\n  - key: C4\n    tempo: 3\n",
		"sequence: C4\nnotes:\n  - key: D4\n",
		"title: empty\n",
	}
	for _, src := range tests {
		if _, err := LoadYAML(strings.NewReader(src), 100); err == nil {
			t.Errorf("Expected error for %q", src)
		}
	}
}

func buildMIDI(t *testing.T) []byte {
	t.Helper()

	var tr smf.Track
	tr.Add(0, smf.MetaTempo(120))
	tr.Add(0, midi.NoteOn(9, 36, 100)) // kick drum, ignored
	tr.Add(0, midi.NoteOn(0, 60, 100))
	tr.Add(0, midi.NoteOn(0, 64, 90))
	tr.Add(96, midi.NoteOff(0, 60))
	tr.Add(0, midi.NoteOff(0, 64))
	tr.Add(0, midi.NoteOff(9, 36))
	tr.Add(96, midi.NoteOn(0, 67, 80))
	tr.Add(48, midi.NoteOff(0, 67))
	tr.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(96)
	if err := s.Add(tr); err != nil {
		t.Fatalf("Add track: %v", err)
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return buf.Bytes()
}

func TestLoadMIDI(t *testing.T) {
	song, err := LoadMIDI(bytes.NewReader(buildMIDI(t)), MIDIOptions{Track: -1, DefaultMs: 400})
	if err != nil {
		t.Fatalf("LoadMIDI: %v", err)
	}

	if len(song.Notes) != 2 {
		t.Fatalf("Expected 2 notes, got %+v", song.Notes)
	}

	// chord collapses to its top note, held through the rest
	first := song.Notes[0]
	if first.Note != 64 || first.Velocity != 90 || abs(first.DurationMs-1000) > 2 {
		t.Errorf("Unexpected first note %+v", first)
	}
	last := song.Notes[1]
	if last.Note != 67 || abs(last.DurationMs-250) > 2 {
		t.Errorf("Unexpected last note %+v", last)
	}
}

func TestLoadMIDITranspose(t *testing.T) {
	song, err := LoadMIDI(bytes.NewReader(buildMIDI(t)), MIDIOptions{Track: -1, Transpose: -12})
	if err != nil {
		t.Fatalf("LoadMIDI: %v", err)
	}
	if song.Notes[0].Note != 52 || song.Notes[1].Note != 55 {
		t.Errorf("Expected notes transposed down an octave, got %+v", song.Notes)
	}
}

func TestLoadMIDIGarbage(t *testing.T) {
	if _, err := LoadMIDI(strings.NewReader("not a midi file"), MIDIOptions{Track: -1}); err == nil {
		t.Error("Expected error for garbage input")
	}
}

func TestLoadFileDispatch(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, data, 0644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	song, err := LoadFile(write("twinkle.txt", []byte("C4 C4 G4 G4")), 250)
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if song.Title != "twinkle" || len(song.Notes) != 4 || song.Notes[0].DurationMs != 250 {
		t.Errorf("Unexpected text song %+v", song)
	}

	song, err = LoadFile(write("sheet.yml", []byte("title: Named\nnotes:\n  - key: A4\n")), 250)
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if song.Title != "Named" || song.Notes[0].Note != 69 {
		t.Errorf("Unexpected yaml song %+v", song)
	}

	song, err = LoadFile(write("tune.MID", buildMIDI(t)), 250)
	if err != nil {
		t.Fatalf("midi: %v", err)
	}
	if song.Title != "tune" || len(song.Notes) != 2 {
		t.Errorf("Unexpected midi song %+v", song)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.txt"), 250); err == nil {
		t.Error("Expected error for missing file")
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
