// Package api provides the HTTP and WebSocket remote control for playback and calibration.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"skyplay/internal/calibration"
	"skyplay/internal/melody"
	"skyplay/internal/player"
)

const maxBodyBytes = 4 << 20

// Options configures a Server
type Options struct {
	// Token, when set, must be presented as "Authorization: Bearer <token>"
	// (or ?token= on the WebSocket endpoint)
	Token string

	DefaultNoteMs int
	TestKeyMs     int
}

// Server provides the HTTP API for remote control
type Server struct {
	store       *calibration.Store
	player      *player.Scheduler
	opts        Options
	wsMgr       *WSManager
	router      *mux.Router
	unsubscribe func()
	log         *logrus.Entry
}

// NewServer creates a server and starts relaying playback events to WebSocket clients
func NewServer(store *calibration.Store, sched *player.Scheduler, opts Options) *Server {
	s := &Server{
		store:  store,
		player: sched,
		opts:   opts,
		log:    logrus.WithField("component", "api"),
	}
	s.wsMgr = newWSManager(s)
	go s.wsMgr.start()
	s.unsubscribe = sched.Subscribe(s.wsMgr.relay)

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.wsMgr.handleWebSocket)

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/play", s.handlePlay).Methods(http.MethodPost)
	a.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	a.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	a.HandleFunc("/test-key", s.handleTestKey).Methods(http.MethodPost)
	a.HandleFunc("/calibration", s.handleExport).Methods(http.MethodGet)
	a.HandleFunc("/calibration", s.handleImport).Methods(http.MethodPost)
	a.HandleFunc("/calibration", s.handleClear).Methods(http.MethodDelete)
	a.HandleFunc("/calibration/{note}", s.handleSetKey).Methods(http.MethodPut)
	a.HandleFunc("/calibration/{note}", s.handleDeleteKey).Methods(http.MethodDelete)

	r.Use(s.authMiddleware, s.recoverMiddleware)
	s.router = r
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Infof("API: Listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "api server")
	}
	return nil
}

// Close stops event relaying and disconnects WebSocket clients
func (s *Server) Close() {
	s.unsubscribe()
	s.wsMgr.close()
}

// recoverMiddleware prevents panics from crashing the whole server
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Errorf("API: Panic recovered in %s %s: %v", r.Method, r.URL.Path, err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks the API token if configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debugf("API: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

		if r.URL.Path == "/health" || s.opts.Token == "" {
			next.ServeHTTP(w, r)
			return
		}

		ok := r.Header.Get("Authorization") == "Bearer "+s.opts.Token
		if !ok && r.URL.Path == "/ws" {
			ok = r.URL.Query().Get("token") == s.opts.Token
		}
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type playRequest struct {
	Notes     []player.NoteEvent `json:"notes"`
	Sequence  string             `json:"sequence"`
	DefaultMs int                `json:"default_ms"`
}

// handlePlay handles POST /api/play. The body is either JSON
// ({"notes":[...]} or {"sequence":"C4 D4:200"}), a standard MIDI file
// (Content-Type audio/midi) or a plain text melody.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	seq, err := s.readSequence(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if _, err := s.player.Start(seq, nil); err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Infof("API: Playback of %d notes started (remote request from %s)", len(seq), r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "started",
		"notes":  len(seq),
	})
}

func (s *Server) readSequence(r *http.Request) ([]player.NoteEvent, error) {
	body := io.LimitReader(r.Body, maxBodyBytes)
	ct := r.Header.Get("Content-Type")

	switch {
	case strings.HasPrefix(ct, "application/json"):
		var req playRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			return nil, errors.Wrap(melody.ErrSyntax, err.Error())
		}
		defaultMs := req.DefaultMs
		if defaultMs <= 0 {
			defaultMs = s.opts.DefaultNoteMs
		}
		if req.Sequence != "" {
			return melody.ParseTextString(req.Sequence, defaultMs)
		}
		return req.Notes, nil

	case strings.HasPrefix(ct, "audio/midi"), strings.HasPrefix(ct, "audio/x-midi"):
		song, err := melody.LoadMIDI(body, melody.MIDIOptions{Track: -1, DefaultMs: s.opts.DefaultNoteMs})
		if err != nil {
			return nil, errors.Wrap(melody.ErrSyntax, err.Error())
		}
		return song.Notes, nil

	default:
		return melody.ParseText(body, s.opts.DefaultNoteMs)
	}
}

// handleStop handles POST /api/stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.log.Infof("API: Stop requested from %s", r.RemoteAddr)
	s.player.Stop()
	writeJSON(w, http.StatusOK, s.status())
}

type statusResponse struct {
	player.Snapshot
	Calibration int             `json:"calibration"`
	Keys        map[string]bool `json:"keys"`
}

func (s *Server) status() statusResponse {
	return statusResponse{
		Snapshot:    s.player.Snapshot(),
		Calibration: s.store.Progress(),
		Keys:        s.store.Status(),
	}
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// handleTestKey handles POST /api/test-key?key=C4[&ms=200]
func (s *Server) handleTestKey(w http.ResponseWriter, r *http.Request) {
	note, err := melody.ResolveNote(r.URL.Query().Get("key"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	hold := time.Duration(s.opts.TestKeyMs) * time.Millisecond
	if v := r.URL.Query().Get("ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			http.Error(w, "Invalid ms parameter", http.StatusBadRequest)
			return
		}
		hold = time.Duration(ms) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(r.Context(), hold+10*time.Second)
	defer cancel()
	if err := s.player.TestKey(ctx, note, hold); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "note": note})
}

// handleExport handles GET /api/calibration
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.ExportAll()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// handleImport handles POST /api/calibration
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if err := s.store.ImportAll(data); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Infof("API: Calibration imported from %s", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "keys": s.store.Len()})
}

// handleClear handles DELETE /api/calibration
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type keyRequest struct {
	X      *int `json:"x"`
	Y      *int `json:"y"`
	Width  int  `json:"width"`
	Height int  `json:"height"`
}

// handleSetKey handles PUT /api/calibration/{note}
func (s *Server) handleSetKey(w http.ResponseWriter, r *http.Request) {
	note, err := melody.ResolveNote(mux.Vars(r)["note"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req keyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.X == nil || req.Y == nil {
		http.Error(w, "Body must be {\"x\":..,\"y\":..}", http.StatusBadRequest)
		return
	}

	var opts []calibration.Option
	if req.Width != 0 || req.Height != 0 {
		width, height := req.Width, req.Height
		if width == 0 {
			width = calibration.DefaultWidth
		}
		if height == 0 {
			height = calibration.DefaultHeight
		}
		opts = append(opts, calibration.WithSize(width, height))
	}

	if err := s.store.Set(note, *req.X, *req.Y, opts...); err != nil {
		s.writeError(w, err)
		return
	}
	pos, _ := s.store.Get(note)
	writeJSON(w, http.StatusOK, pos)
}

// handleDeleteKey handles DELETE /api/calibration/{note}
func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	note, err := melody.ResolveNote(mux.Vars(r)["note"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	removed, err := s.store.Delete(note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !removed {
		http.Error(w, "Key not calibrated", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealth handles GET /health (for monitoring)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Errorf("API: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, player.ErrAlreadyPlaying):
		return http.StatusConflict
	case errors.Is(err, player.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, player.ErrCalibrationMissing):
		return http.StatusNotFound
	case errors.Is(err, calibration.ErrImportParse),
		errors.Is(err, calibration.ErrInvalidNote),
		errors.Is(err, calibration.ErrInvalidSize),
		errors.Is(err, calibration.ErrUnknownKey),
		errors.Is(err, melody.ErrSyntax),
		errors.Is(err, melody.ErrUnknownNote),
		errors.Is(err, melody.ErrNoNotes),
		errors.Is(err, player.ErrEmptySequence),
		errors.Is(err, player.ErrInvalidSequence):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
