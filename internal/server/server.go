// Package server exposes session control over HTTP and streams session
// events over WebSocket.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/meeting-pilot/internal/audio"
	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
	"github.com/GriffinCanCode/meeting-pilot/internal/session"
	"github.com/GriffinCanCode/meeting-pilot/internal/store"
	"github.com/GriffinCanCode/meeting-pilot/internal/trace"
)

// Controller is the slice of session.Manager the server drives.
type Controller interface {
	Start(ctx context.Context, opts session.StartOptions) error
	Stop() error
	Info() session.Info
	Events() <-chan session.Event
}

// History answers history queries.
type History interface {
	Search(query string) []store.Session
	Recent(n int) []store.Session
}

// Devices lists capture devices.
type Devices interface {
	Devices() ([]audio.Device, error)
}

var (
	_ Controller = (*session.Manager)(nil)
	_ History    = (*store.Store)(nil)
	_ Devices    = (*audio.Source)(nil)
)

// Message is the envelope for inbound WebSocket messages.
type Message struct {
	Type string `json:"type"`
}

type StatusMessage struct {
	Type string       `json:"type"`
	Info session.Info `json:"info"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StartRequest overrides the default device selection for one session.
type StartRequest struct {
	LineIn      *bool `json:"line_in,omitempty"`
	DeviceIndex *int  `json:"device_index,omitempty"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctrl     Controller
	history  History
	devices  Devices
	defaults session.StartOptions

	mu    sync.RWMutex
	conns map[*websocket.Conn]*rateLimiter
}

// New creates a server. defaults applies to start requests that do not
// name a device.
func New(ctrl Controller, history History, devices Devices, defaults session.StartOptions) *Server {
	return &Server{
		ctrl:     ctrl,
		history:  history,
		devices:  devices,
		defaults: defaults,
		conns:    make(map[*websocket.Conn]*rateLimiter),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/stop", s.handleStop)
	mux.HandleFunc("GET /api/session", s.handleInfo)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/devices", s.handleDevices)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

// Run broadcasts session events to every connected client until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	events := s.ctrl.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.broadcast(ctx, ev)
		}
	}
}

func (s *Server) broadcast(ctx context.Context, msg any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn := range s.conns {
		go func(c *websocket.Conn) {
			ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			defer cancel()
			_ = wsjson.Write(ctx, c, msg)
		}(conn)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	rl := &rateLimiter{}
	s.mu.Lock()
	s.conns[conn] = rl
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	_ = wsjson.Write(ctx, conn, StatusMessage{Type: "status", Info: s.ctrl.Info()})

	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "ping":
			_ = wsjson.Write(ctx, conn, Message{Type: "pong"})
		case "status":
			_ = wsjson.Write(ctx, conn, StatusMessage{Type: "status", Info: s.ctrl.Info()})
		default:
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: "unknown message type " + strconv.Quote(base.Type)})
		}
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes)).Decode(&req); err != nil && !stderrors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := s.defaults
	if req.LineIn != nil {
		opts.UseLineIn = *req.LineIn
	}
	if req.DeviceIndex != nil {
		opts.DeviceIndex = req.DeviceIndex
	}

	if err := s.ctrl.Start(r.Context(), opts); err != nil {
		trace.Logger(r.Context()).Warn("session start failed", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Info())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Info())
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Info())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("q"); q != "" {
		writeJSON(w, http.StatusOK, nonNil(s.history.Search(q)))
		return
	}
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxHistoryLimit)
	}
	writeJSON(w, http.StatusOK, nonNil(s.history.Recent(limit)))
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.Devices()
	if err != nil {
		trace.Logger(r.Context()).Error("list devices", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if devices == nil {
		devices = []audio.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// statusFor maps a session error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case stderrors.Is(err, session.ErrAlreadyRecording),
		stderrors.Is(err, session.ErrStopInProgress),
		stderrors.Is(err, session.ErrNotRecording):
		return http.StatusConflict
	case apperrors.Classify(err) == apperrors.Resource:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func nonNil(sessions []store.Session) []store.Session {
	if sessions == nil {
		return []store.Session{}
	}
	return sessions
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
