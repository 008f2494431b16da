package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"hochat/pkg/types"
)

// @Summary  List catalog and custom models
// @Tags     models
// @Produce  json
// @Success  200 {object} types.ModelsResponse
// @Router   /models [get]
func (a *api) listModels(w http.ResponseWriter, r *http.Request) {
	models, selected := a.svc.Models()
	if models == nil {
		models = []types.Model{}
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models, Selected: selected})
}

// @Summary  Add a custom model
// @Tags     models
// @Accept   json
// @Produce  json
// @Param    body body types.Model true "Model; id is required"
// @Success  201 {object} types.Model
// @Failure  400 {object} types.ErrorResponse
// @Failure  409 {object} types.ErrorResponse
// @Router   /models/custom [post]
func (a *api) addCustomModel(w http.ResponseWriter, r *http.Request) {
	var req types.Model
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := a.svc.AddCustomModel(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// @Summary  Remove a custom model
// @Tags     models
// @Param    id path string true "Model id"
// @Success  204
// @Failure  404 {object} types.ErrorResponse
// @Router   /models/custom/{id} [delete]
func (a *api) removeCustomModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := a.svc.RemoveCustomModel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !removed {
		writeJSONError(w, http.StatusNotFound, "custom model not found: "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// setToken stores the access token used for model downloads. An empty token
// removes it.
//
// @Summary  Set the model download access token
// @Tags     models
// @Accept   json
// @Param    body body types.TokenRequest true "Token"
// @Success  204
// @Router   /settings/token [put]
func (a *api) setToken(w http.ResponseWriter, r *http.Request) {
	var req types.TokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.svc.SetAccessToken(r.Context(), req.Token); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary  List cached model files
// @Tags     cache
// @Produce  json
// @Success  200 {object} types.CacheResponse
// @Router   /cache [get]
func (a *api) cacheInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.svc.CacheInfo(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// clearCache wipes the selected model's cache, or every model's with
// all=true, and resets the engine.
//
// @Summary  Clear the model cache
// @Tags     cache
// @Produce  json
// @Param    all query bool false "Clear every model"
// @Success  200 {object} types.RemovedResponse
// @Failure  429 {object} types.ErrorResponse
// @Router   /cache [delete]
func (a *api) clearCache(w http.ResponseWriter, r *http.Request) {
	all := false
	if s := r.URL.Query().Get("all"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "all must be a boolean")
			return
		}
		all = v
	}
	n, err := a.svc.ClearCache(r.Context(), all)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.RemovedResponse{Removed: n})
}
