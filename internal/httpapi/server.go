package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/aura/internal/config"
	"github.com/antoniostano/aura/internal/lifecycle"
	"github.com/antoniostano/aura/internal/observability"
	"github.com/antoniostano/aura/internal/state"
)

// SessionController is the action surface the API exposes. The lifecycle
// manager implements it; tests substitute a double.
type SessionController interface {
	Connect(ctx context.Context) error
	Disconnect()

	SendText(text string) error
	SendEvent(name string, payload map[string]any) error
	StopSpeaking() error

	SetMicOn(on bool) error
	SetCameraOn(on bool) error
	SetOutputMuted(muted bool)
	SetRequestedMediaPerms(perms state.MediaPerms)

	SetVideoBounds(width, height int, pixelRatio float64)
	SetCameraFrame(width, height int)
	SetShowTranscript(show bool)
	ToggleShowTranscript()
	ClearActiveCards()
}

type Server struct {
	cfg      config.Config
	store    *state.Store
	sessions SessionController
	quality  *observability.QualityWindow
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, store *state.Store, sessions SessionController, quality *observability.QualityWindow, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		quality:  quality,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin. This prevents other websites from driving the
				// user's session if the gateway is ever exposed beyond
				// localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/session", s.handleCreateSession)
	r.Delete("/v1/session", s.handleEndSession)

	r.Post("/v1/conversation/text", s.handleSendText)
	r.Post("/v1/conversation/event", s.handleSendEvent)
	r.Post("/v1/conversation/stop-speaking", s.handleStopSpeaking)

	r.Post("/v1/devices/mic", s.handleMic)
	r.Post("/v1/devices/camera", s.handleCamera)
	r.Post("/v1/devices/output-mute", s.handleOutputMute)
	r.Post("/v1/devices/permissions", s.handlePermissions)

	r.Post("/v1/transcript/visibility", s.handleTranscriptVisibility)
	r.Post("/v1/viewport", s.handleViewport)
	r.Post("/v1/camera-frame", s.handleCameraFrame)
	r.Post("/v1/cards/clear", s.handleClearCards)

	r.Get("/v1/state", s.handleState)
	r.Get("/v1/state/ws", s.handleStateWS)
	r.Get("/v1/quality", s.handleQuality)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"connected": snap.Connected,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Connect(r.Context()); err != nil {
		if errors.Is(err, lifecycle.ErrSessionExists) {
			respondError(w, http.StatusConflict, "session_exists", err.Error())
			return
		}
		code := "connect_failed"
		if snap := s.store.Snapshot(); snap.Error != nil {
			code = snap.Error.Kind
		}
		respondError(w, http.StatusBadGateway, code, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, s.store.Snapshot())
}

func (s *Server) handleEndSession(w http.ResponseWriter, _ *http.Request) {
	// Idempotent: ending a session that does not exist is still a success.
	s.sessions.Disconnect()
	respondJSON(w, http.StatusOK, map[string]any{"status": "disconnected"})
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.sessions.SendText(req.Text); err != nil {
		respondActionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "sent"})
}

func (s *Server) handleSendEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string         `json:"name"`
		Payload map[string]any `json:"payload"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "event name is required")
		return
	}
	if err := s.sessions.SendEvent(req.Name, req.Payload); err != nil {
		respondActionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "sent"})
}

func (s *Server) handleStopSpeaking(w http.ResponseWriter, _ *http.Request) {
	if err := s.sessions.StopSpeaking(); err != nil {
		respondActionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
}

func (s *Server) handleMic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On bool `json:"on"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.sessions.SetMicOn(req.On); err != nil {
		respondActionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"mic_on": req.On})
}

func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On bool `json:"on"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.sessions.SetCameraOn(req.On); err != nil {
		respondActionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"camera_on": req.On})
}

func (s *Server) handleOutputMute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Muted bool `json:"muted"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.sessions.SetOutputMuted(req.Muted)
	respondJSON(w, http.StatusOK, map[string]any{"output_muted": req.Muted})
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	var req state.MediaPerms
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.sessions.SetRequestedMediaPerms(req)
	respondJSON(w, http.StatusOK, req)
}

func (s *Server) handleTranscriptVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Show   *bool `json:"show"`
		Toggle bool  `json:"toggle"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	switch {
	case req.Toggle:
		s.sessions.ToggleShowTranscript()
	case req.Show != nil:
		s.sessions.SetShowTranscript(*req.Show)
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "either show or toggle is required")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"show_transcript": s.store.Snapshot().ShowTranscript,
	})
}

// handleCameraFrame records the camera feed's frame size, which drives the
// UI's aspect-ratio box. Reported by the capture layer whenever the feed
// starts or changes resolution.
func (s *Server) handleCameraFrame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "width and height must be positive")
		return
	}
	s.sessions.SetCameraFrame(req.Width, req.Height)
	respondJSON(w, http.StatusOK, map[string]any{"width": req.Width, "height": req.Height})
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Width      int     `json:"width"`
		Height     int     `json:"height"`
		PixelRatio float64 `json:"pixel_ratio"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "width and height must be positive")
		return
	}
	s.sessions.SetVideoBounds(req.Width, req.Height, req.PixelRatio)
	respondJSON(w, http.StatusOK, map[string]any{"width": req.Width, "height": req.Height})
}

func (s *Server) handleClearCards(w http.ResponseWriter, _ *http.Request) {
	s.sessions.ClearActiveCards()
	respondJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleQuality(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.quality.Snapshot())
}

// handleStateWS streams state snapshots: one on connect, then one per change
// signal. Signals coalesce under load, so a slow consumer always sees the
// latest state rather than an unbounded backlog.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("state_ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain reads so we notice the peer closing; the stream is one-way.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	changed, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	send := func() bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(s.store.Snapshot()) == nil
	}
	if !send() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			s.metrics.SessionEvents.WithLabelValues("state_ws_disconnected").Inc()
			return
		case <-changed:
			if !send() {
				s.metrics.SessionEvents.WithLabelValues("state_ws_disconnected").Inc()
				return
			}
		}
	}
}

func respondActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNoSession):
		respondError(w, http.StatusConflict, "no_session", err.Error())
	case errors.Is(err, lifecycle.ErrEmptyText):
		respondError(w, http.StatusBadRequest, "empty_text", err.Error())
	default:
		respondError(w, http.StatusBadGateway, "session_error", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
