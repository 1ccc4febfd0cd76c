// Package calibration persists the screen region calibrated for each note.
package calibration

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"skyplay/internal/notes"
)

const (
	// Namespace is the backend key holding the whole calibration set
	Namespace = "key_calibration"

	DefaultWidth  = 80
	DefaultHeight = 200

	MinNote = 0
	MaxNote = 127
)

// KeyPosition is the calibrated tap target for one note
type KeyPosition struct {
	Note   int `json:"note"`
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the point that gets tapped
func (p KeyPosition) Center() (x, y int) {
	return p.X + p.Width/2, p.Y + p.Height/2
}

func (p KeyPosition) validate() error {
	if p.Note < MinNote || p.Note > MaxNote {
		return errors.Wrapf(ErrInvalidNote, "note %d", p.Note)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return errors.Wrapf(ErrInvalidSize, "note %d: %dx%d", p.Note, p.Width, p.Height)
	}
	return nil
}

// Option adjusts a KeyPosition before it is stored
type Option func(*KeyPosition)

// WithSize overrides the default 80x200 key size
func WithSize(width, height int) Option {
	return func(p *KeyPosition) {
		p.Width = width
		p.Height = height
	}
}

// Store holds at most one KeyPosition per note and writes the full set to
// its Backend on every change. Readers never wait on disk I/O: writers build
// a new map, persist it, then swap it in.
type Store struct {
	writeMu sync.Mutex // serialises Set/Delete/Clear/Import

	mu        sync.RWMutex
	positions map[int]KeyPosition

	backend Backend
	log     *logrus.Entry
}

// NewStore loads the calibration set from backend. A backend without any
// stored set yields an empty store.
func NewStore(backend Backend) (*Store, error) {
	s := &Store{
		positions: make(map[int]KeyPosition),
		backend:   backend,
		log:       logrus.WithField("component", "calibration"),
	}

	data, err := backend.Get(Namespace)
	if errors.Is(err, ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load calibration")
	}

	positions, err := decodePositions(data)
	if err != nil {
		return nil, errors.Wrap(err, "load calibration")
	}
	s.positions = positions
	s.log.Debugf("Calibration: Loaded %d key positions", len(positions))
	return s, nil
}

// Set records the region for note, replacing any previous entry, and
// persists before returning.
func (s *Store) Set(note, x, y int, opts ...Option) error {
	p := KeyPosition{Note: note, X: x, Y: y, Width: DefaultWidth, Height: DefaultHeight}
	for _, opt := range opts {
		opt(&p)
	}
	return s.SetPosition(p)
}

// SetPosition stores a fully specified KeyPosition
func (s *Store) SetPosition(p KeyPosition) error {
	if err := p.validate(); err != nil {
		return err
	}
	return s.update(func(next map[int]KeyPosition) {
		next[p.Note] = p
	})
}

// SetByName is Set keyed by a name such as "C4"
func (s *Store) SetByName(name string, x, y int, opts ...Option) error {
	note, ok := notes.NameToNote(name)
	if !ok {
		return errors.Wrapf(ErrUnknownKey, "%q", name)
	}
	return s.Set(note, x, y, opts...)
}

// Get looks up the position for note
func (s *Store) Get(note int) (KeyPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[note]
	return p, ok
}

// GetByName looks up the position for a key name
func (s *Store) GetByName(name string) (KeyPosition, bool) {
	note, ok := notes.NameToNote(name)
	if !ok {
		return KeyPosition{}, false
	}
	return s.Get(note)
}

// All returns a copy of every position, ordered by note
func (s *Store) All() []KeyPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedPositions(s.positions)
}

// Len returns the number of calibrated notes
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Delete removes one note. It reports whether the note was present.
func (s *Store) Delete(note int) (bool, error) {
	var existed bool
	err := s.update(func(next map[int]KeyPosition) {
		_, existed = next[note]
		delete(next, note)
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

// Clear removes every entry and persists the empty set
func (s *Store) Clear() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.commitLocked(make(map[int]KeyPosition)); err != nil {
		return err
	}
	s.log.Info("Calibration: Cleared all key positions")
	return nil
}

// IsCalibrated reports whether the named key has a position
func (s *Store) IsCalibrated(name string) bool {
	_, ok := s.GetByName(name)
	return ok
}

// Status reports, for each key of the canonical octave, whether it is calibrated
func (s *Store) Status() map[string]bool {
	status := make(map[string]bool)
	for _, name := range notes.CanonicalOctave() {
		status[name] = s.IsCalibrated(name)
	}
	return status
}

// Progress is the percentage (floor) of the canonical octave that is calibrated.
// It is only feedback; playback works with any subset.
func (s *Store) Progress() int {
	octave := notes.CanonicalOctave()
	done := 0
	for _, ok := range s.Status() {
		if ok {
			done++
		}
	}
	return done * 100 / len(octave)
}

// ExportAll serialises the set as a JSON array ordered by note
func (s *Store) ExportAll() ([]byte, error) {
	data, err := json.MarshalIndent(s.All(), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "export calibration")
	}
	return data, nil
}

// ImportAll replaces the whole set with blob. Nothing changes unless every
// record parses and validates and the result is persisted.
func (s *Store) ImportAll(blob []byte) error {
	positions, err := decodePositions(blob)
	if err != nil {
		s.log.Warnf("Calibration: Rejected import: %v", err)
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.commitLocked(positions); err != nil {
		return err
	}
	s.log.Infof("Calibration: Imported %d key positions", len(positions))
	return nil
}

func (s *Store) update(mutate func(next map[int]KeyPosition)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	next := make(map[int]KeyPosition, len(s.positions)+1)
	for k, v := range s.positions {
		next[k] = v
	}
	s.mu.RUnlock()

	mutate(next)
	return s.commitLocked(next)
}

// commitLocked persists next and swaps it in. Caller holds writeMu.
func (s *Store) commitLocked(next map[int]KeyPosition) error {
	data, err := encodePersisted(next)
	if err != nil {
		return err
	}
	if err := s.backend.Put(Namespace, data); err != nil {
		return errors.Wrap(err, "persist calibration")
	}

	s.mu.Lock()
	s.positions = next
	s.mu.Unlock()
	return nil
}
