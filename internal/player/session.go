package player

import (
	"context"
	"sync"
)

// Session is one run of a sequence from Start to its terminal Result
type Session struct {
	done chan struct{}

	mu     sync.Mutex
	result Result
}

func newSession() *Session {
	return &Session{done: make(chan struct{})}
}

// Done is closed once the session has finished
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns the terminal result; it is the zero Result until Done is closed
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Wait blocks until the session finishes or ctx is done
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Session) complete(res Result) {
	s.mu.Lock()
	s.result = res
	s.mu.Unlock()
	close(s.done)
}
