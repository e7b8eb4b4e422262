package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/mindprint/internal/document"
	"github.com/nidhogg/mindprint/internal/profile"
)

type uploadRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// uploadDocument accepts multipart form data with a "file" part, or JSON
// with name and content.
func (h *Handler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Get(r.Context(), requester(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	name, data, err := readUpload(r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	doc, err := h.documents.Upload(r.Context(), p.ID, name, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func readUpload(r *http.Request) (string, []byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return "", nil, fmt.Errorf("read file part: %w", err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return "", nil, err
		}
		return hdr.Filename, data, nil
	}
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", nil, err
	}
	return req.Name, []byte(req.Content), nil
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Get(r.Context(), requester(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	docs, err := h.documents.List(r.Context(), p.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.profiles.Get(r.Context(), requester(r), doc.ProfileID); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			err = profile.ErrForbidden
		}
		h.writeError(w, r, err)
		return
	}
	if err := h.documents.Delete(r.Context(), doc.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
