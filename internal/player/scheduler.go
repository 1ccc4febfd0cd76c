package player

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"skyplay/internal/calibration"
	"skyplay/internal/input"
)

const (
	opPress   = "press"
	opRelease = "release"
)

type subscriber struct {
	id int
	fn func(Event)
}

// Scheduler plays one monophonic sequence at a time through an Injector.
//
// Every press and release happens inside gate. Stop cancels the session and
// then acquires gate once, so when it returns no injection is in flight and
// none will start.
type Scheduler struct {
	cal Calibrations
	inj input.Injector
	log *logrus.Entry

	gate sync.Mutex

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	pressed   map[int]struct{}
	cursor    int
	total     int
	progress  int
	startedAt time.Time
	subs      []subscriber
	nextSub   int
}

// New creates an idle scheduler
func New(cal Calibrations, inj input.Injector) *Scheduler {
	return &Scheduler{
		cal:     cal,
		inj:     inj,
		log:     logrus.WithField("component", "player"),
		pressed: make(map[int]struct{}),
	}
}

// Start begins playing seq in the background and returns immediately.
// onProgress, if non-nil, is called with the percentage after each note.
func (s *Scheduler) Start(seq []NoteEvent, onProgress func(percent int)) (*Session, error) {
	if len(seq) == 0 {
		return nil, ErrEmptySequence
	}
	for i, ev := range seq {
		if ev.DurationMs < 0 {
			return nil, errors.Wrapf(ErrInvalidSequence, "note %d: negative duration %d", i, ev.DurationMs)
		}
	}

	if s.IsPlaying() {
		return nil, ErrAlreadyPlaying
	}
	if !s.inj.HasPermission() {
		return nil, ErrPermissionDenied
	}

	positions := make(map[int]calibration.KeyPosition)
	for _, p := range s.cal.All() {
		positions[p.Note] = p
	}
	seq = append([]NoteEvent(nil), seq...)

	s.mu.Lock()
	if s.state == Running || s.state == Cancelling {
		s.mu.Unlock()
		return nil, ErrAlreadyPlaying
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.state = Running
	s.cancel = cancel
	s.pressed = make(map[int]struct{})
	s.cursor = 0
	s.total = len(seq)
	s.progress = 0
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Infof("Player: Starting playback of %d notes (%d calibrated keys)", len(seq), len(positions))
	s.publish(Event{Kind: EventStarted, State: Running})

	sess := newSession()
	go s.run(ctx, sess, seq, positions, onProgress)
	return sess, nil
}

// Stop cancels the running session. No press or release is injected after
// Stop returns. A note that is down is abandoned, not released.
// Calling Stop when nothing is playing does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	switch s.state {
	case Running:
		s.state = Cancelling
		cancel := s.cancel
		s.mu.Unlock()
		s.log.Info("Player: Stop requested")
		cancel()
	case Cancelling:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		return
	}

	s.gate.Lock()
	s.gate.Unlock()
}

// IsPlaying is true while a session is running or cancelling
func (s *Scheduler) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Running || s.state == Cancelling
}

// State returns the current state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PressedNotes returns the notes currently held down, ascending
func (s *Scheduler) PressedNotes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pressedLocked()
}

// Snapshot returns state, cursor, progress and pressed notes read together
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:     s.state,
		Cursor:    s.cursor,
		Total:     s.total,
		Progress:  s.progress,
		Pressed:   s.pressedLocked(),
		StartedAt: s.startedAt,
	}
}

// Subscribe registers fn for every Event. Callbacks run one at a time:
// EventStarted on the caller of Start before playback begins, everything
// else on the playback goroutine. They must not block; they may call Stop.
func (s *Scheduler) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// TestKey presses note once and holds it for hold, for checking a calibration
func (s *Scheduler) TestKey(ctx context.Context, note int, hold time.Duration) error {
	calibrated := false
	for _, p := range s.cal.All() {
		if p.Note == note {
			calibrated = true
			break
		}
	}
	if !calibrated {
		return errors.Wrapf(ErrCalibrationMissing, "note %d", note)
	}

	sess, err := s.Start([]NoteEvent{{Note: note, Velocity: 100, DurationMs: int(hold / time.Millisecond)}}, nil)
	if err != nil {
		return err
	}

	res, err := sess.Wait(ctx)
	if err != nil {
		s.Stop()
		<-sess.Done()
		return err
	}

	switch {
	case res.Outcome == Failed:
		return res.Err
	case res.Outcome == Cancelled:
		return ErrCancelled
	case res.Skipped > 0:
		return errors.Wrapf(ErrCalibrationMissing, "note %d", note)
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context, sess *Session, seq []NoteEvent, positions map[int]calibration.KeyPosition, onProgress func(int)) {
	var res Result
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = Failed
			res.Err = errors.Errorf("playback panic: %v", r)
		}
		s.finish(sess, res)
	}()

	n := len(seq)
	for i, ev := range seq {
		if ctx.Err() != nil {
			res.Outcome = Cancelled
			return
		}
		s.setCursor(i)

		pos, ok := positions[ev.Note]
		if !ok {
			res.Skipped++
			s.log.Debugf("Player: Note %d not calibrated, skipping", ev.Note)
			s.publish(Event{Kind: EventSkipped, Note: ev.Note})
		} else {
			x, y := pos.Center()

			if cancelled, err := s.inject(ctx, opPress, ev.Note, x, y); cancelled {
				res.Outcome = Cancelled
				return
			} else if err != nil {
				res.Outcome = Failed
				res.Err = err
				return
			}
			s.publish(Event{Kind: EventPress, Note: ev.Note, X: x, Y: y})

			if !wait(ctx, time.Duration(ev.DurationMs)*time.Millisecond) {
				res.Outcome = Cancelled
				return
			}

			if cancelled, err := s.inject(ctx, opRelease, ev.Note, x, y); cancelled {
				res.Outcome = Cancelled
				return
			} else if err != nil {
				res.Outcome = Failed
				res.Err = err
				return
			}
			res.Played++
			s.publish(Event{Kind: EventRelease, Note: ev.Note, X: x, Y: y})
		}

		if ctx.Err() != nil {
			res.Outcome = Cancelled
			return
		}
		pct := (i + 1) * 100 / n
		s.setProgress(pct)
		res.Progress = pct
		s.publish(Event{Kind: EventProgress, Percent: pct})
		if onProgress != nil {
			onProgress(pct)
		}
	}

	res.Outcome = Completed
}

// inject performs one touch. cancelled is true if the session was stopped
// before the touch could be issued.
func (s *Scheduler) inject(ctx context.Context, op string, note, x, y int) (cancelled bool, err error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	if ctx.Err() != nil {
		return true, nil
	}

	if op == opPress {
		err = s.inj.Press(x, y)
	} else {
		err = s.inj.Release(x, y)
	}
	if err != nil {
		return false, &InjectionError{Op: op, Note: note, X: x, Y: y, Err: err}
	}

	s.mu.Lock()
	if op == opPress {
		s.pressed[note] = struct{}{}
	} else {
		delete(s.pressed, note)
	}
	s.mu.Unlock()
	return false, nil
}

func (s *Scheduler) finish(sess *Session, res Result) {
	if res.Outcome == Cancelled {
		s.publish(Event{Kind: EventState, State: Cancelling})
	}

	s.mu.Lock()
	s.pressed = make(map[int]struct{})
	if res.Outcome == Cancelled {
		s.state = Stopped
	} else {
		s.state = Idle
	}
	res.Progress = s.progress
	state := s.state
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	switch res.Outcome {
	case Failed:
		s.log.Errorf("Player: Playback failed after %d notes: %v", res.Played, res.Err)
	case Cancelled:
		s.log.Infof("Player: Playback cancelled at %d%%", res.Progress)
	default:
		s.log.Infof("Player: Playback completed (%d played, %d skipped)", res.Played, res.Skipped)
	}

	s.publish(Event{Kind: EventFinished, State: state, Percent: res.Progress, Result: &res})
	sess.complete(res)
}

func (s *Scheduler) setCursor(i int) {
	s.mu.Lock()
	s.cursor = i
	s.mu.Unlock()
}

func (s *Scheduler) setProgress(pct int) {
	s.mu.Lock()
	s.progress = pct
	s.mu.Unlock()
}

func (s *Scheduler) pressedLocked() []int {
	out := make([]int, 0, len(s.pressed))
	for n := range s.pressed {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func (s *Scheduler) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.mu.Lock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}

// wait sleeps for d unless ctx is cancelled first; it reports whether the full
// duration elapsed.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
