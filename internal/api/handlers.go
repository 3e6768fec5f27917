package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/caioqm/deskchat/internal/media"
	"github.com/caioqm/deskchat/internal/outbox"
	"github.com/caioqm/deskchat/internal/search"
	"github.com/caioqm/deskchat/internal/store"
)

const defaultPageSize = 100

type handlers struct {
	deps   Deps
	logger *zap.Logger
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type statusResponse struct {
	State string `json:"state"`
	Mode  string `json:"mode"`
}

type sendRequest struct {
	Body string `json:"body"`
}

type stageRequest struct {
	Path string `json:"path"`
}

type messagesResponse struct {
	Messages []store.Message `json:"messages"`
}

type searchResponse struct {
	Matches []search.Match `json:"matches"`
}

type snippetsResponse struct {
	Results []store.SearchResult `json:"results"`
}

type matchResponse struct {
	Match *search.Match `json:"match"`
}

func (h *handlers) getStatus(w http.ResponseWriter, _ *http.Request) {
	state := h.deps.Machine.Current()
	writeJSON(w, http.StatusOK, statusResponse{
		State: string(state),
		Mode:  string(state.Mode()),
	})
}

func (h *handlers) retryConnection(w http.ResponseWriter, _ *http.Request) {
	h.deps.Manager.RetryConnection()
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	after, err := queryInt64(r, "after", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}
	limit, err := queryInt64(r, "limit", defaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}
	msgs, err := h.deps.DB.ListMessages(chatID, after, int(limit))
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err, "")
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: msgs})
}

// sendMessage queues an optimistic send. Staged attachments are consumed by
// the send; on a rejected send they stay staged.
func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}
	atts := h.deps.Stager.Take()
	msg, err := h.deps.Queue.Send(chatID, req.Body, atts)
	if errors.Is(err, outbox.ErrEmptyMessage) {
		writeError(w, http.StatusUnprocessableEntity, err, "")
		return
	}
	if err != nil {
		h.logger.Error("failed to queue send", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err, "")
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

func (h *handlers) retryMessage(w http.ResponseWriter, r *http.Request) {
	tempID := chi.URLParam(r, "tempID")
	if err := h.deps.Queue.Retry(tempID); err != nil {
		h.logger.Error("failed to retry send", zap.String("temp_id", tempID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err, "")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) searchChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	matches, err := h.deps.Index.Query(chatID, r.URL.Query().Get("q"))
	if err != nil {
		h.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err, "")
		return
	}
	if matches == nil {
		matches = []search.Match{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Matches: matches})
}

// searchAll is the chat-wide full-text search with server-rendered
// snippets, backed by the store's FTS index. The per-chat find with match
// spans and cursor navigation is the /chats/{chatID}/search route.
func (h *handlers) searchAll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, errors.New("q is required"), "")
		return
	}
	limit, err := queryInt64(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}
	results, err := h.deps.DB.SearchMessages(q, r.URL.Query().Get("chat"), int(limit))
	if err != nil {
		h.logger.Error("full-text search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err, "")
		return
	}
	if results == nil {
		results = []store.SearchResult{}
	}
	writeJSON(w, http.StatusOK, snippetsResponse{Results: results})
}

func (h *handlers) searchNext(w http.ResponseWriter, _ *http.Request) {
	if m, ok := h.deps.Index.Next(); ok {
		writeJSON(w, http.StatusOK, matchResponse{Match: &m})
		return
	}
	writeJSON(w, http.StatusOK, matchResponse{})
}

func (h *handlers) searchPrevious(w http.ResponseWriter, _ *http.Request) {
	if m, ok := h.deps.Index.Previous(); ok {
		writeJSON(w, http.StatusOK, matchResponse{Match: &m})
		return
	}
	writeJSON(w, http.StatusOK, matchResponse{})
}

func (h *handlers) listStaged(w http.ResponseWriter, _ *http.Request) {
	staged := h.deps.Stager.Staged()
	if staged == nil {
		staged = []store.Attachment{}
	}
	writeJSON(w, http.StatusOK, staged)
}

func (h *handlers) stageAttachment(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"), "")
		return
	}
	att, err := h.deps.Stager.Stage(r.Context(), req.Path)
	if err != nil {
		var se *media.StagingError
		if errors.As(err, &se) {
			writeError(w, http.StatusUnprocessableEntity, err, string(se.Kind))
			return
		}
		h.logger.Error("failed to stage attachment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err, "")
		return
	}
	writeJSON(w, http.StatusOK, att)
}

func (h *handlers) discardStaged(w http.ResponseWriter, _ *http.Request) {
	h.deps.Stager.Discard()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error, kind string) {
	writeJSON(w, code, errorResponse{Error: err.Error(), Kind: kind})
}

func queryInt64(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
