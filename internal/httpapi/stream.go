package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"hochat/pkg/types"
)

// status godoc
// @Summary  Controller status
// @Tags     engine
// @Produce  json
// @Success  200 {object} types.StatusResponse
// @Router   /status [get]
func (a *api) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Status())
}

// events streams a status document every time the controller changes.
//
// @Summary  Status change stream (SSE)
// @Tags     engine
// @Produce  text/event-stream
// @Success  200 {object} types.StatusResponse
// @Router   /events [get]
func (a *api) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ch, unsubscribe := a.svc.Subscribe()
	defer unsubscribe()
	sseClients.Inc()
	defer sseClients.Dec()

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func() bool {
		b, err := json.Marshal(a.svc.Status())
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", b); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !send() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok || !send() {
				return
			}
		}
	}
}

// loadEngine starts loading a model in the background.
//
// @Summary  Load or switch the model
// @Tags     engine
// @Accept   json
// @Produce  json
// @Param    body body types.LoadRequest false "Model to load; empty reloads the selected one"
// @Success  202 {object} types.StatusResponse
// @Failure  404 {object} types.ErrorResponse
// @Failure  429 {object} types.ErrorResponse
// @Failure  503 {object} types.ErrorResponse
// @Router   /engine/load [post]
func (a *api) loadEngine(w http.ResponseWriter, r *http.Request) {
	var req types.LoadRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	if err := a.svc.StartLoad(strings.TrimSpace(req.Model)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.svc.Status())
}

// @Summary  Cancel a running model load
// @Tags     engine
// @Produce  json
// @Success  200 {object} types.CancelResponse
// @Router   /engine/cancel [post]
func (a *api) cancelLoad(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.CancelResponse{Canceled: a.svc.CancelLoad()})
}

// chat streams the assistant reply as NDJSON. Errors raised before the first
// delta get a regular JSON error response; later ones end the stream with an
// error line.
//
// @Summary  Send a message and stream the reply
// @Tags     chat
// @Accept   json
// @Produce  application/x-ndjson
// @Param    body body types.ChatRequest true "User message"
// @Success  200 {object} types.ChatChunk
// @Failure  400 {object} types.ErrorResponse
// @Failure  409 {object} types.ErrorResponse
// @Failure  429 {object} types.ErrorResponse
// @Router   /chat [post]
func (a *api) chat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Images) == 0 {
		writeJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	var out io.Writer = w
	lvl := requestLogLevel(r)
	log := requestLogger(r)
	if lvl >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{log: log})
	}
	enc := json.NewEncoder(out)
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if lvl >= LevelInfo {
		log.Info().Int("images", len(req.Images)).Msg("chat start")
	}
	msg, err := a.svc.SendMessage(ctx, req.Content, req.Images, func(delta string) {
		start()
		_ = enc.Encode(types.ChatChunk{Delta: delta})
		flush()
	})
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			chatStreamsTotal.WithLabelValues("canceled").Inc()
			return
		}
		chatStreamsTotal.WithLabelValues("error").Inc()
		if lvl >= LevelError {
			log.Warn().Err(err).Bool("streaming", started).Msg("chat failed")
		}
		if !started {
			writeError(w, err)
			return
		}
		_ = enc.Encode(types.ChatChunk{Error: err.Error()})
		flush()
		return
	}
	chatStreamsTotal.WithLabelValues("ok").Inc()
	start()
	_ = enc.Encode(types.ChatChunk{Done: true, Message: &msg, ConversationID: a.svc.Status().CurrentConversationID})
	flush()
	if lvl >= LevelInfo {
		log.Info().Int("chars", len(msg.Content)).Msg("chat end")
	}
}
