// Package web provides an HTTP status server for the rotary-sensor daemon,
// with a WebSocket feed of live steps and a small control surface.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/rotary-sensor/internal/encoder"
	"github.com/sweeney/rotary-sensor/internal/status"
)

// Controller applies runtime changes to the running encoder.
// Implementations must be safe to call from HTTP handler goroutines.
type Controller interface {
	Reverse() error
	SetDebounce(window time.Duration) error
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	ctrl       Controller
	hub        *Hub
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// StepFrame is the data of a "step" WebSocket frame.
type StepFrame struct {
	Step     int    `json:"step"`
	Event    string `json:"event"`
	Position int64  `json:"position"`
}

// New creates a Server that reads state from the given tracker.
// ctrl may be nil, in which case the control endpoints return 503.
func New(addr string, tracker *status.Tracker, ctrl Controller, logger *slog.Logger) *Server {
	s := &Server{
		tracker: tracker,
		ctrl:    ctrl,
		hub:     NewHub(logger),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// LAN-only status page, same as the JSON endpoint
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/reverse", s.handleReverse)
	mux.HandleFunc("/debounce", s.handleDebounce)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Hub returns the WebSocket hub. Its Run method must be started by the caller.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// PublishStep broadcasts a step frame to all WebSocket clients.
func (s *Server) PublishStep(step encoder.Step, position int64, at time.Time) {
	if step == encoder.StepNone {
		return
	}
	msg, err := encodeFrame("step", at, StepFrame{
		Step:     int(step),
		Event:    step.String(),
		Position: position,
	})
	if err != nil {
		s.logger.Error("encode step frame", "error", err)
		return
	}
	s.hub.Broadcast(msg)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.logger.Error("render index", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		s.logger.Warn("ws upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := &wsClient{
		hub:        s.hub,
		conn:       conn,
		send:       make(chan []byte, clientSendBuf),
		remoteAddr: r.RemoteAddr,
	}

	// Queue the initial state before registering so it is always the first frame
	snap := s.tracker.Snapshot()
	if msg, err := encodeFrame("state_init", snap.Now, json.RawMessage(status.FormatJSON(snap))); err == nil {
		c.send <- msg
	}
	s.hub.add(c)

	go c.writePump()
	go c.readPump()
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.ctrl == nil {
		http.Error(w, "control not available", http.StatusServiceUnavailable)
		return
	}
	if err := s.ctrl.Reverse(); err != nil {
		s.logger.Error("reverse failed", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.logger.Info("direction reversed via http", "remote_addr", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDebounce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.ctrl == nil {
		http.Error(w, "control not available", http.StatusServiceUnavailable)
		return
	}
	window, err := time.ParseDuration(r.URL.Query().Get("window"))
	if err != nil || window < 0 {
		http.Error(w, "window must be a non-negative duration, e.g. 2ms", http.StatusBadRequest)
		return
	}
	if err := s.ctrl.SetDebounce(window); err != nil {
		s.logger.Error("set debounce failed", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.logger.Info("debounce window changed via http", "window", window, "remote_addr", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}
