package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// APIHandler serves the JSON API used by student, admin and projector clients.
type APIHandler struct {
	services   *app.Services
	push       *WSHandler
	adminToken string
}

// NewAPIHandler builds the API. push may be nil when push streams are disabled.
func NewAPIHandler(services *app.Services, push *WSHandler, adminToken string) *APIHandler {
	return &APIHandler{services: services, push: push, adminToken: adminToken}
}

// Router returns the complete HTTP surface of the service.
func (h *APIHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if h.push != nil {
		r.Get("/ws", h.push.ServeWS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/capabilities", h.handleCapabilities)
		r.Post("/join", h.handleJoin)
		r.Get("/players/{playerID}/state", h.handlePlayerState)
		r.Post("/players/{playerID}/heartbeat", h.handleHeartbeat)
		r.Post("/sessions/{sessionID}/answers", h.handleSubmitAnswer)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Post("/quizzes", h.handleCreateQuiz)
			r.Get("/quizzes/{quizID}", h.handleGetQuiz)
			r.Put("/quizzes/{quizID}/questions", h.handleReplaceQuestions)
			r.Post("/sessions", h.handleCreateSession)
			r.Get("/sessions/{sessionID}/state", h.handleSessionState)
			r.Post("/sessions/{sessionID}/start", h.phase(h.services.Phases.Start))
			r.Post("/sessions/{sessionID}/next", h.phase(h.services.Phases.Next))
			r.Post("/sessions/{sessionID}/previous", h.phase(h.services.Phases.Previous))
			r.Post("/sessions/{sessionID}/end", h.phase(h.services.Phases.End))
		})
	})
	return r
}

type capabilities struct {
	Push bool `json:"push"`
}

func (h *APIHandler) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, capabilities{Push: h.push != nil})
}

type joinRequest struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Class string `json:"class"`
}

func (h *APIHandler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.services.Lobby.Join(r.Context(), req.Code, req.Name, req.Class)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *APIHandler) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	state, err := h.services.Lobby.PlayerState(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *APIHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.services.Lobby.Heartbeat(r.Context(), chi.URLParam(r, "playerID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type answerRequest struct {
	PlayerID   string `json:"playerId"`
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

func (h *APIHandler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	answer, err := h.services.Answers.Submit(r.Context(), chi.URLParam(r, "sessionID"), req.PlayerID, req.QuestionID, req.OptionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (h *APIHandler) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	var quiz domain.Quiz
	if !decodeJSON(w, r, &quiz) {
		return
	}
	created, err := h.services.Catalog.CreateQuiz(r.Context(), quiz)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *APIHandler) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.services.Catalog.GetQuiz(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *APIHandler) handleReplaceQuestions(w http.ResponseWriter, r *http.Request) {
	var questions []domain.Question
	if !decodeJSON(w, r, &questions) {
		return
	}
	quiz, err := h.services.Catalog.ReplaceQuestions(r.Context(), chi.URLParam(r, "quizID"), questions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

type createSessionRequest struct {
	QuizID      string `json:"quizId"`
	AllowRewind bool   `json:"allowRewind"`
}

func (h *APIHandler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := h.services.Lobby.CreateSession(r.Context(), req.QuizID, req.AllowRewind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *APIHandler) handleSessionState(w http.ResponseWriter, r *http.Request) {
	state, err := h.services.Lobby.SessionState(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *APIHandler) phase(run func(context.Context, string) (domain.GameSession, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := run(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

// requireAdmin checks the bearer token when one is configured.
func (h *APIHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorPayload{Message: "admin token required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorPayload struct {
	Message string `json:"message"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
		writeJSON(w, status, errorPayload{Message: "internal error"})
		return
	}
	writeJSON(w, status, errorPayload{Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
