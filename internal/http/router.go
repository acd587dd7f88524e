// Package http serves the tone service over HTTP and WebSocket.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-tone-service/internal/models"
	"speech-tone-service/internal/observability/logging"
	"speech-tone-service/internal/observability/metrics"
	"speech-tone-service/internal/schema"
	"speech-tone-service/internal/tone"
)

// Handler turns one input message into at most one output.
type Handler interface {
	Handle(ctx context.Context, msg models.Message) (models.Message, bool)
}

// SessionCounter reports live sessions.
type SessionCounter interface {
	Len() int
}

// Dependencies are the collaborators the router serves.
type Dependencies struct {
	Handler  Handler
	Engine   *tone.Engine
	Mode     tone.Mode // default for /v1/rewrite
	Sessions SessionCounter
	Hub      *Hub // optional; enables /v1/watch
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type api struct {
	deps      Dependencies
	validator *schema.Validator
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(deps Dependencies) http.Handler {
	a := &api{
		deps:      deps,
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
		logger:    logging.WithComponent("http"),
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", a.postMessage)
		r.Post("/rewrite", a.postRewrite)
		r.Get("/sessions", a.getSessions)
		r.Get("/ws", a.serveStream)
		if deps.Hub != nil {
			r.Get("/watch", deps.Hub.serveWatch)
		}
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type rewriteRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode"`
}

type rewriteResponse struct {
	Text string    `json:"text"`
	Mode tone.Mode `json:"mode"`
}

type sessionsResponse struct {
	Active int `json:"active"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// postMessage handles one pipeline message: 200 with the output, or 204
// when the message produces none.
func (a *api) postMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		a.metrics.RecordMessageRejected("http", "malformed")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed message: " + err.Error()})
		return
	}
	if err := a.validator.Validate(msg); err != nil {
		a.metrics.RecordMessageRejected("http", schema.Reason(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	out, ok := a.deps.Handler.Handle(r.Context(), msg)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// postRewrite runs the engine directly without touching any session.
func (a *api) postRewrite(w http.ResponseWriter, r *http.Request) {
	var req rewriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request: " + err.Error()})
		return
	}

	mode := a.deps.Mode
	if req.Mode != "" {
		m, err := tone.ParseMode(req.Mode)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		mode = m
	}

	writeJSON(w, http.StatusOK, rewriteResponse{
		Text: a.deps.Engine.Rewrite(req.Text, mode),
		Mode: mode,
	})
}

func (a *api) getSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sessionsResponse{Active: a.deps.Sessions.Len()})
}

// serveStream is the WebSocket equivalent of the gRPC Refine stream: each
// text frame is one message, each output is written back as one frame.
func (a *api) serveStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := logging.WithStream("websocket", r.RemoteAddr)
	logger.Info().Msg("WebSocket stream opened")

	ctx := r.Context()
	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				a.metrics.RecordMessageRejected("websocket", "malformed")
				logger.Warn().Err(err).Msg("Skipping malformed frame")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("WebSocket stream closed unexpectedly")
			} else {
				logger.Info().Msg("WebSocket stream closed")
			}
			return
		}

		if err := a.validator.Validate(msg); err != nil {
			reason := schema.Reason(err)
			a.metrics.RecordMessageRejected("websocket", reason)
			logger.Warn().Err(err).Str("reason", reason).Msg("Skipping invalid message")
			continue
		}

		out, ok := a.deps.Handler.Handle(ctx, msg)
		if !ok {
			continue
		}
		if err := conn.WriteJSON(out); err != nil {
			logger.Warn().Err(err).Msg("WebSocket write failed")
			return
		}
	}
}
