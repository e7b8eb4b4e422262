// Package api exposes the enrollment, memory, document and chat services
// over a chi REST router with Server-Sent Events for streamed replies.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/mindprint/internal/chat"
	"github.com/nidhogg/mindprint/internal/document"
	"github.com/nidhogg/mindprint/internal/enrollment"
	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/profile"
	"go.uber.org/zap"
)

// RequesterHeader carries the caller's identity. Authentication happens in
// front of this service.
const RequesterHeader = "X-User-ID"

// Profiles is the enrollment surface.
type Profiles interface {
	CreateProfile(ctx context.Context, ownerID, name string, tier profile.Tier) (*profile.Profile, error)
	Get(ctx context.Context, requester, profileID string) (*profile.Profile, error)
	List(ctx context.Context, requester string) ([]*profile.Profile, error)
	Progress(ctx context.Context, requester, profileID string) (*enrollment.Progress, error)
	Questions(ctx context.Context, requester, profileID string) ([]*enrollment.Question, error)
	NextQuestion(ctx context.Context, requester, profileID string) (*enrollment.Question, error)
	RecordAnswer(ctx context.Context, requester, questionID, answer string) (*enrollment.AnswerResult, error)
	Activate(ctx context.Context, requester, profileID string) (*enrollment.Progress, error)
	Archive(ctx context.Context, requester, profileID string) (*profile.Profile, error)
	DeleteProfile(ctx context.Context, requester, profileID string) error
}

// Memories is the read side of the memory store.
type Memories interface {
	All(ctx context.Context, profileID string) ([]*memory.Memory, error)
	ByCategory(ctx context.Context, profileID string, category profile.Category) ([]*memory.Memory, error)
	Relevant(ctx context.Context, profileID, query string, limit int) ([]memory.Result, error)
}

// Documents is the document index surface.
type Documents interface {
	Upload(ctx context.Context, profileID, name string, data []byte) (*document.Document, error)
	Get(ctx context.Context, id string) (*document.Document, error)
	List(ctx context.Context, profileID string) ([]*document.Document, error)
	Delete(ctx context.Context, id string) error
}

// Chats is the conversation surface.
type Chats interface {
	StartSession(ctx context.Context, requester, profileID, title string) (*chat.Session, error)
	ListSessions(ctx context.Context, requester, profileID string) ([]*chat.Session, error)
	Messages(ctx context.Context, requester, sessionID string) ([]*chat.Message, error)
	SendMessage(ctx context.Context, requester, sessionID, content string) (*chat.Exchange, error)
	SendMessageStream(ctx context.Context, requester, sessionID, content string) (*chat.Message, <-chan chat.StreamEvent, error)
}

// Deps are the services behind the handlers. Health checks are optional
// named checks reported by /api/health.
type Deps struct {
	Profiles       Profiles
	Memories       Memories
	Documents      Documents
	Chats          Chats
	HealthChecks   map[string]func(context.Context) error
	AllowedOrigins []string
	MaxUploadBytes int64
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	profiles  Profiles
	memories  Memories
	documents Documents
	chats     Chats
	checks    map[string]func(context.Context) error
	origins   []string
	maxUpload int64
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(d.AllowedOrigins) == 0 {
		d.AllowedOrigins = []string{"*"}
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 10 << 20
	}
	return &Handler{
		profiles:  d.Profiles,
		memories:  d.Memories,
		documents: d.Documents,
		chats:     d.Chats,
		checks:    d.HealthChecks,
		origins:   d.AllowedOrigins,
		maxUpload: d.MaxUploadBytes,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequesterHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Group(func(r chi.Router) {
			r.Use(requireRequester)

			r.Post("/profiles", h.createProfile)
			r.Get("/profiles", h.listProfiles)
			r.Get("/profiles/{id}", h.getProfile)
			r.Delete("/profiles/{id}", h.deleteProfile)
			r.Get("/profiles/{id}/progress", h.getProgress)
			r.Post("/profiles/{id}/activate", h.activateProfile)
			r.Post("/profiles/{id}/archive", h.archiveProfile)

			r.Get("/profiles/{id}/questions", h.listQuestions)
			r.Post("/profiles/{id}/questions/next", h.nextQuestion)
			r.Post("/questions/{id}/answer", h.answerQuestion)

			r.Get("/profiles/{id}/memories", h.listMemories)
			r.Post("/profiles/{id}/memories/search", h.searchMemories)

			r.Post("/profiles/{id}/documents", h.uploadDocument)
			r.Get("/profiles/{id}/documents", h.listDocuments)
			r.Delete("/documents/{id}", h.deleteDocument)

			r.Post("/profiles/{id}/sessions", h.startSession)
			r.Get("/profiles/{id}/sessions", h.listSessions)
			r.Get("/sessions/{id}/messages", h.listMessages)
			r.Post("/sessions/{id}/messages", h.sendMessage)
			r.Post("/sessions/{id}/stream", h.streamMessage)
		})
	})

	return r
}

type requesterKey struct{}

func requireRequester(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequesterHeader)
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": RequesterHeader + " header required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requesterKey{}, id)))
	})
}

func requester(r *http.Request) string {
	id, _ := r.Context().Value(requesterKey{}).(string)
	return id
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, code, map[string]any{"status": status, "service": "mindprint", "checks": checks})
}

// writeError maps service errors onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var short *profile.ShortfallError
	switch {
	case errors.As(err, &short):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     err.Error(),
			"answered":  short.Answered,
			"required":  short.Required,
			"uncovered": short.Uncovered,
		})
		return
	case errors.Is(err, profile.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, profile.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, profile.ErrAlreadyAnswered), errors.Is(err, profile.ErrArchived):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, profile.ErrInvalidInput), errors.Is(err, profile.ErrInvalidCategory):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, chat.ErrGeneration):
		h.logger.Warn("generation failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
