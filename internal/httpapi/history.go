package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hochat/internal/manager"
	"hochat/pkg/types"
)

// @Summary  Start a new conversation
// @Tags     session
// @Produce  json
// @Success  200 {object} types.StatusResponse
// @Failure  429 {object} types.ErrorResponse
// @Router   /session/new [post]
func (a *api) newSession(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.StartNew(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.svc.Status())
}

// saveSession stores the in-memory conversation. An empty conversation is
// not stored and yields 204.
//
// @Summary  Save the current conversation
// @Tags     session
// @Accept   json
// @Produce  json
// @Param    body body types.SaveRequest false "Optional explicit title"
// @Success  200 {object} types.Conversation
// @Success  204
// @Router   /session/save [post]
func (a *api) saveSession(w http.ResponseWriter, r *http.Request) {
	var req types.SaveRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	c, err := a.svc.SaveCurrent(r.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		writeError(w, err)
		return
	}
	if c == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// parseHistoryQuery reads the /conversations filters.
func parseHistoryQuery(v url.Values) (manager.HistoryQuery, error) {
	q := manager.HistoryQuery{
		Query: strings.TrimSpace(v.Get("q")),
		Model: v.Get("model"),
		Tag:   v.Get("tag"),
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"page", &q.Page},
		{"page_size", &q.PageSize},
		{"limit", &q.Limit},
	}
	for _, it := range ints {
		s := v.Get(it.key)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("%s must be a non-negative integer", it.key)
		}
		*it.dst = n
	}
	for key, dst := range map[string]**int64{"from": &q.From, "to": &q.To} {
		s := v.Get(key)
		if s == "" {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return q, fmt.Errorf("%s must be epoch milliseconds", key)
		}
		*dst = &n
	}
	return q, nil
}

// @Summary  List stored conversations
// @Tags     history
// @Produce  json
// @Param    q         query string false "Case-insensitive text search"
// @Param    model     query string false "Model id"
// @Param    tag       query string false "Exact tag"
// @Param    from      query int    false "lastModified lower bound (epoch ms)"
// @Param    to        query int    false "lastModified upper bound (epoch ms)"
// @Param    page      query int    false "1-based page number"
// @Param    page_size query int    false "Page size"
// @Param    limit     query int    false "Maximum number of results"
// @Success  200 {object} types.ConversationsResponse
// @Failure  400 {object} types.ErrorResponse
// @Router   /conversations [get]
func (a *api) listConversations(w http.ResponseWriter, r *http.Request) {
	q, err := parseHistoryQuery(r.URL.Query())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := a.svc.History(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []types.Conversation{}
	}
	writeJSON(w, http.StatusOK, types.ConversationsResponse{Conversations: list})
}

// @Summary  Get a conversation
// @Tags     history
// @Produce  json
// @Param    id path string true "Conversation id"
// @Success  200 {object} types.Conversation
// @Failure  404 {object} types.ErrorResponse
// @Router   /conversations/{id} [get]
func (a *api) getConversation(w http.ResponseWriter, r *http.Request) {
	c, err := a.svc.Conversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// @Summary  Delete a conversation
// @Tags     history
// @Param    id path string true "Conversation id"
// @Success  204
// @Failure  429 {object} types.ErrorResponse
// @Router   /conversations/{id} [delete]
func (a *api) deleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary  Rename a conversation
// @Tags     history
// @Accept   json
// @Produce  json
// @Param    id   path string            true "Conversation id"
// @Param    body body types.SaveRequest true "New title"
// @Success  200 {object} types.Conversation
// @Failure  400 {object} types.ErrorResponse
// @Failure  404 {object} types.ErrorResponse
// @Router   /conversations/{id} [patch]
func (a *api) renameConversation(w http.ResponseWriter, r *http.Request) {
	var req types.SaveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := a.svc.RenameConversation(r.Context(), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// @Summary  Make a stored conversation the active one
// @Tags     history
// @Produce  json
// @Param    id path string true "Conversation id"
// @Success  200 {object} types.Conversation
// @Failure  404 {object} types.ErrorResponse
// @Failure  429 {object} types.ErrorResponse
// @Router   /conversations/{id}/open [post]
func (a *api) openConversation(w http.ResponseWriter, r *http.Request) {
	c, err := a.svc.OpenConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// @Summary  Conversation statistics
// @Tags     history
// @Produce  json
// @Success  200 {object} types.Statistics
// @Router   /stats [get]
func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Statistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// @Summary  Download every conversation and setting
// @Tags     history
// @Produce  json
// @Success  200 {object} types.ExportDocument
// @Router   /export [get]
func (a *api) export(w http.ResponseWriter, r *http.Request) {
	b, err := a.svc.ExportHistory(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	name := "hochat-export-" + time.Now().UTC().Format("2006-01-02") + ".json"
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// importHistory takes an export document as the raw body.
//
// @Summary  Import an export document
// @Tags     history
// @Accept   json
// @Produce  json
// @Param    merge query bool                 false "Keep existing data (default true); false replaces everything"
// @Param    body  body  types.ExportDocument true  "Export document"
// @Success  200 {object} types.ImportSummary
// @Failure  400 {object} types.ErrorResponse
// @Failure  413 {object} types.ErrorResponse
// @Router   /import [post]
func (a *api) importHistory(w http.ResponseWriter, r *http.Request) {
	merge := true
	if s := r.URL.Query().Get("merge"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "merge must be a boolean")
			return
		}
		merge = v
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "import document too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	sum, err := a.svc.ImportHistory(r.Context(), raw, merge)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// @Summary  Delete conversations older than a retention window
// @Tags     history
// @Accept   json
// @Produce  json
// @Param    body body types.PruneRequest true "Days to keep"
// @Success  200 {object} types.PruneResponse
// @Failure  400 {object} types.ErrorResponse
// @Router   /prune [post]
func (a *api) prune(w http.ResponseWriter, r *http.Request) {
	var req types.PruneRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := a.svc.Prune(r.Context(), req.DaysToKeep)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.PruneResponse{Deleted: n})
}
