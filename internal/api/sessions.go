package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/mindprint/internal/chat"
	"go.uber.org/zap"
)

type startSessionRequest struct {
	Title string `json:"title"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	s, err := h.chats.StartSession(r.Context(), requester(r), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	ss, err := h.chats.ListSessions(r.Context(), requester(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ss == nil {
		ss = []*chat.Session{}
	}
	writeJSON(w, http.StatusOK, ss)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.chats.Messages(r.Context(), requester(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*chat.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type messageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ex, err := h.chats.SendMessage(r.Context(), requester(r), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// streamMessage relays a streamed reply as Server-Sent Events: one "user"
// event with the stored user turn, "delta" events, then "done" with the
// stored persona turn or "error". A client disconnect cancels the request
// context, which abandons the turn.
func (h *Handler) streamMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	user, events, err := h.chats.SendMessageStream(r.Context(), requester(r), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "user", user)
	flusher.Flush()

	for ev := range events {
		switch {
		case ev.Err != nil:
			h.logger.Warn("stream failed", zap.String("session", user.SessionID), zap.Error(ev.Err))
			writeSSE(w, "error", map[string]string{"error": ev.Err.Error()})
		case ev.Done:
			writeSSE(w, "done", ev.Message)
		default:
			writeSSE(w, "delta", map[string]string{"delta": ev.Delta})
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
