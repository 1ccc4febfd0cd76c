package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"skyplay/internal/calibration"
	"skyplay/internal/player"
	"skyplay/internal/protocol"
)

type countingInjector struct {
	mu      sync.Mutex
	denied  bool
	presses int
}

func (c *countingInjector) HasPermission() bool { return !c.denied }

func (c *countingInjector) Press(x, y int) error {
	c.mu.Lock()
	c.presses++
	c.mu.Unlock()
	return nil
}

func (c *countingInjector) Release(x, y int) error { return nil }

type fixture struct {
	store  *calibration.Store
	sched  *player.Scheduler
	inj    *countingInjector
	server *Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store, err := calibration.NewStore(calibration.NewMemoryBackend())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Set(60, 100, 100); err != nil {
		t.Fatal(err)
	}
	inj := &countingInjector{}
	sched := player.New(store, inj)
	if opts.DefaultNoteMs == 0 {
		opts.DefaultNoteMs = 1
	}
	srv := NewServer(store, sched, opts)
	t.Cleanup(func() {
		sched.Stop()
		srv.Close()
	})
	return &fixture{store: store, sched: sched, inj: inj, server: srv}
}

func (f *fixture) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func waitIdle(t *testing.T, s *player.Scheduler) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.IsPlaying() {
		if time.Now().After(deadline) {
			t.Fatal("Playback did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPlayTextAndStatus(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/play", "text/plain", "C4:1 D4:1 C4:1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body)
	}
	waitIdle(t, f.sched)

	rec = f.do(t, http.MethodGet, "/api/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var status struct {
		State       string          `json:"state"`
		Progress    int             `json:"progress"`
		Total       int             `json:"total"`
		Calibration int             `json:"calibration"`
		Keys        map[string]bool `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Decode status: %v", err)
	}
	if status.State != "idle" || status.Progress != 100 || status.Total != 3 {
		t.Errorf("Unexpected status %+v", status)
	}
	if status.Calibration != 12 || !status.Keys["C4"] || status.Keys["D4"] {
		t.Errorf("Unexpected calibration status %+v", status)
	}
	if f.inj.presses != 2 {
		t.Errorf("Expected 2 presses (D4 skipped), got %d", f.inj.presses)
	}
}

func TestPlayJSON(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/play", "application/json", `{"notes":[{"note":60,"duration_ms":1}]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body)
	}
	waitIdle(t, f.sched)

	rec = f.do(t, http.MethodPost, "/api/play", "application/json", `{"sequence":"C4 C4"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body)
	}
	waitIdle(t, f.sched)

	if rec := f.do(t, http.MethodPost, "/api/play", "application/json", `{"notes":[]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty sequence, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/play", "text/plain", "C4 Q7"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown note, got %d", rec.Code)
	}
}

func TestPlayConflictAndStop(t *testing.T) {
	f := newFixture(t, Options{})

	if rec := f.do(t, http.MethodPost, "/api/play", "text/plain", "C4:10000"); rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/play", "text/plain", "C4"); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/api/stop", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	waitIdle(t, f.sched)
	if f.sched.State() != player.Stopped {
		t.Errorf("Expected stopped, got %v", f.sched.State())
	}
}

func TestPlayPermissionDenied(t *testing.T) {
	f := newFixture(t, Options{})
	f.inj.denied = true

	if rec := f.do(t, http.MethodPost, "/api/play", "text/plain", "C4"); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}
}

func TestCalibrationEndpoints(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPut, "/api/calibration/D4", "application/json", `{"x":200,"y":100,"width":60}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if p, ok := f.store.Get(62); !ok || p.X != 200 || p.Width != 60 || p.Height != calibration.DefaultHeight {
		t.Errorf("Unexpected stored position %+v", p)
	}

	if rec := f.do(t, http.MethodPut, "/api/calibration/D4", "application/json", `{"x":200}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing y, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPut, "/api/calibration/H9", "application/json", `{"x":1,"y":1}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown key, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/calibration", "", "")
	exported := rec.Body.String()
	var list []calibration.KeyPosition
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 2 {
		t.Fatalf("Expected 2 exported keys, got %v (%v)", list, err)
	}

	if rec := f.do(t, http.MethodPost, "/api/calibration", "application/json", `[{"note":60,"x":1}]`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed import, got %d", rec.Code)
	}
	if f.store.Len() != 2 {
		t.Errorf("Malformed import changed the store")
	}

	if rec := f.do(t, http.MethodDelete, "/api/calibration/62", "", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 deleting D4, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/calibration/62", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 deleting D4 twice, got %d", rec.Code)
	}

	if rec := f.do(t, http.MethodDelete, "/api/calibration", "", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 clearing, got %d", rec.Code)
	}
	if f.store.Len() != 0 {
		t.Errorf("Expected empty store after clear")
	}

	if rec := f.do(t, http.MethodPost, "/api/calibration", "application/json", exported); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 re-importing, got %d: %s", rec.Code, rec.Body)
	}
	if f.store.Len() != 2 {
		t.Errorf("Expected 2 keys after import, got %d", f.store.Len())
	}
}

func TestTestKeyEndpoint(t *testing.T) {
	f := newFixture(t, Options{})

	if rec := f.do(t, http.MethodPost, "/api/test-key?key=C4&ms=1", "", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if rec := f.do(t, http.MethodPost, "/api/test-key?key=E4", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for uncalibrated key, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/test-key?key=C4&ms=x", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad ms, got %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	f := newFixture(t, Options{Token: "secret"})

	if rec := f.do(t, http.MethodGet, "/api/status", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected /health to skip auth, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d", rec.Code)
	}
}

func TestWebSocketStream(t *testing.T) {
	f := newFixture(t, Options{})
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() protocol.Message {
		t.Helper()
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		return msg
	}

	if first := read(); first.Type != protocol.TypeState {
		t.Fatalf("Expected initial state message, got %s", first.Type)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.server.wsMgr.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if rec := f.do(t, http.MethodPost, "/api/play", "text/plain", "C4:1 D4:1"); rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}

	var types []protocol.MessageType
	var finished protocol.FinishedPayload
	for {
		msg := read()
		types = append(types, msg.Type)
		if msg.Type == protocol.TypeFinished {
			if err := protocol.DecodePayload(msg, &finished); err != nil {
				t.Fatal(err)
			}
			break
		}
	}

	want := []protocol.MessageType{
		protocol.TypeState,
		protocol.TypePress, protocol.TypeRelease, protocol.TypeProgress,
		protocol.TypeSkipped, protocol.TypeProgress,
		protocol.TypeFinished,
	}
	if len(types) != len(want) {
		t.Fatalf("Expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Message %d: expected %s, got %s", i, want[i], types[i])
		}
	}
	if finished.Outcome != "completed" || finished.Played != 1 || finished.Skipped != 1 || finished.Progress != 100 {
		t.Errorf("Unexpected finished payload %+v", finished)
	}

	// stop over the socket while a long note is held
	if rec := f.do(t, http.MethodPost, "/api/play", "text/plain", "C4:10000"); rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}
	if err := conn.WriteJSON(protocol.Message{Type: protocol.TypeStop}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	for {
		msg := read()
		if msg.Type == protocol.TypeFinished {
			protocol.DecodePayload(msg, &finished)
			break
		}
	}
	if finished.Outcome != "cancelled" {
		t.Errorf("Expected cancelled, got %+v", finished)
	}
}

func TestBroadcastKeepsFinishedWhenQueueFull(t *testing.T) {
	m := newWSManager(nil)
	for i := 0; i < cap(m.broadcast); i++ {
		m.Broadcast(protocol.Message{Type: protocol.TypeProgress, Payload: protocol.ProgressPayload{Percent: i}})
	}

	start := time.Now()
	m.Broadcast(protocol.Message{Type: protocol.TypeProgress})
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("Progress broadcast blocked on a full queue")
	}

	drained := make(chan []protocol.MessageType)
	go func() {
		time.Sleep(50 * time.Millisecond)
		var types []protocol.MessageType
		for len(types) < cap(m.broadcast)+1 {
			types = append(types, (<-m.broadcast).Type)
		}
		drained <- types
	}()

	m.Broadcast(protocol.Message{Type: protocol.TypeFinished, Payload: protocol.FinishedPayload{Outcome: "completed"}})

	select {
	case types := <-drained:
		if last := types[len(types)-1]; last != protocol.TypeFinished {
			t.Errorf("Expected finished after the queued progress, got %s", last)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Finished message never reached the hub")
	}
}
