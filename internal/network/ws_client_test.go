package network

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"skyplay/internal/api"
	"skyplay/internal/calibration"
	"skyplay/internal/player"
	"skyplay/internal/protocol"
)

type nopInjector struct{}

func (nopInjector) HasPermission() bool { return true }

func (nopInjector) Press(x, y int) error { return nil }

func (nopInjector) Release(x, y int) error { return nil }

func TestWSClientFollowsPlayback(t *testing.T) {
	store, err := calibration.NewStore(calibration.NewMemoryBackend())
	if err != nil {
		t.Fatal(err)
	}
	store.Set(60, 0, 0)

	sched := player.New(store, nopInjector{})
	srv := api.NewServer(store, sched, api.Options{Token: "tok"})
	defer srv.Close()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := NewWSClient(strings.TrimPrefix(ts.URL, "http://"), "tok")
	c.RetryDelay = 20 * time.Millisecond

	var mu sync.Mutex
	var states []string
	var touches []protocol.MessageType
	var progress []int
	finished := make(chan protocol.FinishedPayload, 1)

	c.OnState = func(p protocol.StatePayload) {
		mu.Lock()
		states = append(states, p.State)
		mu.Unlock()
	}
	c.OnTouch = func(kind protocol.MessageType, _ protocol.TouchPayload) {
		mu.Lock()
		touches = append(touches, kind)
		mu.Unlock()
	}
	c.OnProgress = func(p int) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	}
	c.OnFinished = func(p protocol.FinishedPayload) { finished <- p }

	c.Start()
	defer c.Close()

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(states)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Client never received the initial state")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !c.IsConnected() {
		t.Error("Expected client to report connected")
	}

	if _, err := sched.Start([]player.NoteEvent{{Note: 60, DurationMs: 1}, {Note: 62}}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case p := <-finished:
		if p.Outcome != "completed" {
			t.Errorf("Expected completed, got %+v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("No finished message")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []protocol.MessageType{protocol.TypePress, protocol.TypeRelease, protocol.TypeSkipped}
	if len(touches) != len(want) {
		t.Fatalf("Expected touches %v, got %v", want, touches)
	}
	for i := range want {
		if touches[i] != want[i] {
			t.Errorf("Touch %d: expected %s, got %s", i, want[i], touches[i])
		}
	}
	if len(progress) != 2 || progress[1] != 100 {
		t.Errorf("Expected progress ending at 100, got %v", progress)
	}
}

func TestWSClientSendStop(t *testing.T) {
	store, _ := calibration.NewStore(calibration.NewMemoryBackend())
	store.Set(60, 0, 0)
	sched := player.New(store, nopInjector{})
	srv := api.NewServer(store, sched, api.Options{})
	defer srv.Close()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	finished := make(chan protocol.FinishedPayload, 1)
	c := NewWSClient(strings.TrimPrefix(ts.URL, "http://"), "")
	c.OnFinished = func(p protocol.FinishedPayload) { finished <- p }
	c.Start()
	defer c.Close()

	deadline := time.Now().Add(3 * time.Second)
	for !c.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("Client never connected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := sched.Start([]player.NoteEvent{{Note: 60, DurationMs: 10000}}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.SendStop()

	select {
	case p := <-finished:
		if p.Outcome != "cancelled" {
			t.Errorf("Expected cancelled, got %+v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stop over WebSocket had no effect")
	}
}
