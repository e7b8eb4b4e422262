package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/profile"
)

type createProfileRequest struct {
	Name string       `json:"name"`
	Tier profile.Tier `json:"tier"`
}

func (h *Handler) createProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.profiles.CreateProfile(r.Context(), requester(r), req.Name, req.Tier)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) listProfiles(w http.ResponseWriter, r *http.Request) {
	ps, err := h.profiles.List(r.Context(), requester(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ps == nil {
		ps = []*profile.Profile{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Get(r.Context(), requester(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) deleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.profiles.DeleteProfile(r.Context(), requester(r), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getProgress(w http.ResponseWriter, r *http.Request) {
	prog, err := h.profiles.Progress(r.Context(), requester(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (h *Handler) activateProfile(w http.ResponseWriter, r *http.Request) {
	prog, err := h.profiles.Activate(r.Context(), requester(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (h *Handler) archiveProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Archive(r.Context(), requester(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) listQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := h.profiles.Questions(r.Context(), requester(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (h *Handler) nextQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := h.profiles.NextQuestion(r.Context(), requester(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type answerRequest struct {
	Answer string `json:"answer"`
}

func (h *Handler) answerQuestion(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.profiles.RecordAnswer(r.Context(), requester(r), chi.URLParam(r, "id"), req.Answer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listMemories(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Get(r.Context(), requester(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var mems []*memory.Memory
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, perr := profile.ParseCategory(raw)
		if perr != nil {
			h.writeError(w, r, perr)
			return
		}
		mems, err = h.memories.ByCategory(r.Context(), p.ID, c)
	} else {
		mems, err = h.memories.All(r.Context(), p.ID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if mems == nil {
		mems = []*memory.Memory{}
	}
	writeJSON(w, http.StatusOK, mems)
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (h *Handler) searchMemories(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			req.Limit = n
		}
	}
	p, err := h.profiles.Get(r.Context(), requester(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.memories.Relevant(r.Context(), p.ID, req.Query, req.Limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res == nil {
		res = []memory.Result{}
	}
	writeJSON(w, http.StatusOK, res)
}
