package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"storyd/internal/store"
)

type createStoryReq struct {
	ChatID       int64         `json:"chat_id"`
	FileID       string        `json:"file_id"`
	MediaKind    string        `json:"media_kind,omitempty"`
	FileName     string        `json:"file_name,omitempty"`
	FileSize     int64         `json:"file_size,omitempty"`
	Overlay      store.Overlay `json:"overlay,omitempty"`
	ScheduledAt  string        `json:"scheduled_at,omitempty"` // RFC3339
	CloseFriends bool          `json:"close_friends,omitempty"`
	Draft        bool          `json:"draft,omitempty"`
}

func (s *Server) createStory(w http.ResponseWriter, r *http.Request) {
	var req createStoryReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	var scheduledAt time.Time
	if strings.TrimSpace(req.ScheduledAt) != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			http.Error(w, "invalid scheduled_at (RFC3339)", http.StatusBadRequest)
			return
		}
		scheduledAt = t
	}

	st, err := s.st.Create(r.Context(), store.CreateParams{
		ChatID:       req.ChatID,
		FileID:       req.FileID,
		MediaKind:    store.MediaKind(req.MediaKind),
		FileName:     req.FileName,
		FileSize:     req.FileSize,
		Overlay:      req.Overlay,
		ScheduledAt:  scheduledAt,
		CloseFriends: req.CloseFriends,
		Draft:        req.Draft,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) getStory(w http.ResponseWriter, r *http.Request) {
	st, err := s.st.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type finalizeReq struct {
	ChatID      int64  `json:"chat_id"`
	ScheduledAt string `json:"scheduled_at"` // RFC3339
}

func (s *Server) finalizeStory(w http.ResponseWriter, r *http.Request) {
	var req finalizeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	at, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		http.Error(w, "invalid scheduled_at (RFC3339)", http.StatusBadRequest)
		return
	}

	st, err := s.st.Finalize(r.Context(), chi.URLParam(r, "id"), req.ChatID, at)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) cancelStory(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
	if err != nil {
		http.Error(w, "chat_id required", http.StatusBadRequest)
		return
	}

	st, err := s.st.Cancel(r.Context(), chi.URLParam(r, "id"), chatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listStories(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
	if err != nil {
		http.Error(w, "chat_id required", http.StatusBadRequest)
		return
	}
	status := store.Status(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	list, err := s.st.List(r.Context(), chatID, status, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []store.Story{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stories": list})
}

func (s *Server) storyEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.st.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
