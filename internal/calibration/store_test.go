package calibration

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

// failingBackend wraps a MemoryBackend and fails writes on demand
type failingBackend struct {
	*MemoryBackend
	failPut bool
	puts    int
}

func (f *failingBackend) Put(key string, value []byte) error {
	f.puts++
	if f.failPut {
		return errors.New("disk full")
	}
	return f.MemoryBackend.Put(key, value)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(NewMemoryBackend())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestSetThenGet(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set(60, 100, 100); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	p, ok := s.Get(60)
	if !ok {
		t.Fatal("Expected note 60 to be calibrated")
	}
	want := KeyPosition{Note: 60, X: 100, Y: 100, Width: 80, Height: 200}
	if p != want {
		t.Errorf("Expected %+v, got %+v", want, p)
	}

	x, y := p.Center()
	if x != 140 || y != 200 {
		t.Errorf("Expected center (140,200), got (%d,%d)", x, y)
	}

	if _, ok := s.Get(61); ok {
		t.Error("Expected note 61 to be absent")
	}
}

func TestSetReplacesExistingEntry(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set(62, 10, 20); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(62, 30, 40, WithSize(50, 60)); err != nil {
		t.Fatal(err)
	}

	all := s.All()
	if len(all) != 1 {
		t.Fatalf("Expected exactly one entry, got %d: %+v", len(all), all)
	}
	want := KeyPosition{Note: 62, X: 30, Y: 40, Width: 50, Height: 60}
	if all[0] != want {
		t.Errorf("Expected %+v, got %+v", want, all[0])
	}
}

func TestSetRejectsInvalidInput(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set(128, 0, 0); !errors.Is(err, ErrInvalidNote) {
		t.Errorf("Expected ErrInvalidNote, got %v", err)
	}
	if err := s.Set(-1, 0, 0); !errors.Is(err, ErrInvalidNote) {
		t.Errorf("Expected ErrInvalidNote, got %v", err)
	}
	if err := s.Set(60, 0, 0, WithSize(0, 10)); err == nil {
		t.Error("Expected error for zero width")
	}
	if err := s.SetByName("Z9", 0, 0); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Expected ErrUnknownKey, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty store after rejected writes, got %d", s.Len())
	}
}

func TestAllReturnsSnapshot(t *testing.T) {
	s := newTestStore(t)
	s.Set(64, 1, 1)
	s.Set(60, 2, 2)

	snap := s.All()
	if snap[0].Note != 60 || snap[1].Note != 64 {
		t.Fatalf("Expected snapshot ordered by note, got %+v", snap)
	}

	snap[0].X = 999
	s.Set(65, 3, 3)
	s.Delete(60)

	if len(snap) != 2 || snap[1].Note != 64 {
		t.Errorf("Snapshot changed after store mutation: %+v", snap)
	}
	if p, _ := s.Get(64); p.X != 1 {
		t.Errorf("Mutating a snapshot leaked into the store: %+v", p)
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := newTestStore(t)
	s.Set(60, 1, 1)
	s.Set(61, 2, 2)

	existed, err := s.Delete(60)
	if err != nil || !existed {
		t.Fatalf("Delete(60) = (%v, %v), want (true, nil)", existed, err)
	}
	existed, err = s.Delete(60)
	if err != nil || existed {
		t.Fatalf("Second Delete(60) = (%v, %v), want (false, nil)", existed, err)
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty store after Clear, got %d entries", s.Len())
	}
}

func TestPersistFailureLeavesStateUnchanged(t *testing.T) {
	backend := &failingBackend{MemoryBackend: NewMemoryBackend()}
	s, err := NewStore(backend)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(60, 1, 1); err != nil {
		t.Fatal(err)
	}

	backend.failPut = true
	if err := s.Set(60, 5, 5); err == nil {
		t.Error("Expected Set to surface the storage error")
	}
	if err := s.Set(61, 5, 5); err == nil {
		t.Error("Expected Set to surface the storage error")
	}
	if err := s.Clear(); err == nil {
		t.Error("Expected Clear to surface the storage error")
	}

	want := []KeyPosition{{Note: 60, X: 1, Y: 1, Width: 80, Height: 200}}
	if got := s.All(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected state %+v after failed writes, got %+v", want, got)
	}
}

func TestProgressAndStatus(t *testing.T) {
	s := newTestStore(t)
	if s.Progress() != 0 {
		t.Errorf("Expected 0%% progress, got %d", s.Progress())
	}

	for _, name := range []string{"C4", "E4", "G4"} {
		if err := s.SetByName(name, 0, 0); err != nil {
			t.Fatal(err)
		}
	}
	// C#4 is not part of the canonical octave
	s.SetByName("C#4", 0, 0)

	if got := s.Progress(); got != 37 {
		t.Errorf("Expected 37%% progress (3 of 8), got %d", got)
	}

	status := s.Status()
	if len(status) != 8 {
		t.Fatalf("Expected 8 status entries, got %d", len(status))
	}
	if !status["C4"] || status["D4"] || !status["G4"] {
		t.Errorf("Unexpected status map: %v", status)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestStore(t)
	src.Set(60, 100, 100)
	src.Set(72, 500, 120, WithSize(90, 210))
	src.Set(65, 300, 110)

	blob, err := src.ExportAll()
	if err != nil {
		t.Fatal(err)
	}

	dst := newTestStore(t)
	dst.Set(80, 1, 1)
	if err := dst.ImportAll(blob); err != nil {
		t.Fatalf("ImportAll failed: %v", err)
	}

	if !reflect.DeepEqual(src.All(), dst.All()) {
		t.Errorf("Round trip mismatch:\nsrc %+v\ndst %+v", src.All(), dst.All())
	}
}

func TestImportMalformedLeavesStoreUntouched(t *testing.T) {
	blobs := map[string]string{
		"not json":        `hello`,
		"truncated":       `[{"note":60,"x":1,"y":1}`,
		"missing x":       `[{"note":60,"y":1}]`,
		"bad note":        `[{"note":200,"x":1,"y":1}]`,
		"duplicate note":  `[{"note":60,"x":1,"y":1},{"note":60,"x":2,"y":2}]`,
		"unknown field":   `[{"note":60,"x":1,"y":1,"z":3}]`,
		"zero width":      `[{"note":60,"x":1,"y":1,"width":0}]`,
		"trailing data":   `[{"note":60,"x":1,"y":1}] []`,
		"partly valid":    `[{"note":61,"x":1,"y":1},{"note":"C4","x":1,"y":1}]`,
		"wrong version":   `{"version":7,"positions":[]}`,
		"missing version": `{"positions":[]}`,
		"empty":           `   `,
	}

	for name, blob := range blobs {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			s.Set(60, 100, 100)
			before := s.All()

			if err := s.ImportAll([]byte(blob)); err == nil {
				t.Fatal("Expected import to fail")
			}
			if !reflect.DeepEqual(before, s.All()) {
				t.Errorf("Store changed after failed import: %+v", s.All())
			}
		})
	}
}

func TestImportFillsDefaultSize(t *testing.T) {
	s := newTestStore(t)
	if err := s.ImportAll([]byte(`[{"note":60,"x":10,"y":20}]`)); err != nil {
		t.Fatal(err)
	}
	p, _ := s.Get(60)
	if p.Width != DefaultWidth || p.Height != DefaultHeight {
		t.Errorf("Expected default size, got %dx%d", p.Width, p.Height)
	}
}

func TestFileBackendSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(backend)
	if err != nil {
		t.Fatal(err)
	}
	s.Set(60, 100, 100)
	s.Set(61, 180, 100)

	reopened, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := NewStore(reopened)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if !reflect.DeepEqual(s.All(), s2.All()) {
		t.Errorf("Expected %+v after restart, got %+v", s.All(), s2.All())
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("Temp files left behind: %v", matches)
	}
}

func TestNewStoreRejectsCorruptData(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, Namespace+".json"), []byte(`{"version":2,"positions":[]}`), 0644); err != nil {
		t.Fatal(err)
	}
	backend, _ := NewFileBackend(dir)
	if _, err := NewStore(backend); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Expected ErrUnsupportedVersion, got %v", err)
	}
}
