package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hochat/internal/manager"
	"hochat/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *manager.Manager implements it.
type Service interface {
	Ready() bool
	Status() types.StatusResponse
	Subscribe() (<-chan manager.Snapshot, func())

	Models() ([]types.Model, string)
	AddCustomModel(ctx context.Context, model types.Model) (types.Model, error)
	RemoveCustomModel(ctx context.Context, id string) (bool, error)
	SetAccessToken(ctx context.Context, token string) error

	StartLoad(modelID string) error
	CancelLoad() bool
	SendMessage(ctx context.Context, content string, images []string, onDelta func(string)) (types.Message, error)

	StartNew(ctx context.Context) error
	SaveCurrent(ctx context.Context, title string) (*types.Conversation, error)
	History(ctx context.Context, q manager.HistoryQuery) ([]types.Conversation, error)
	Conversation(ctx context.Context, id string) (*types.Conversation, error)
	OpenConversation(ctx context.Context, id string) (*types.Conversation, error)
	RenameConversation(ctx context.Context, id, title string) (*types.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	Statistics(ctx context.Context) (types.Statistics, error)
	ExportHistory(ctx context.Context) ([]byte, error)
	ImportHistory(ctx context.Context, raw []byte, merge bool) (types.ImportSummary, error)
	Prune(ctx context.Context, daysToKeep int) (int, error)

	CacheInfo(ctx context.Context) (types.CacheResponse, error)
	ClearCache(ctx context.Context, all bool) (int, error)
}

var _ Service = (*manager.Manager)(nil)

type api struct {
	svc Service
}

// NewMux builds the HTTP router for svc.
func NewMux(svc Service) http.Handler {
	a := &api{svc: svc}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(accessLog)
	if mw := corsMiddleware(); mw != nil {
		r.Use(mw)
	}
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	r.Get("/models", a.listModels)
	r.Post("/models/custom", a.addCustomModel)
	r.Delete("/models/custom/{id}", a.removeCustomModel)
	r.Put("/settings/token", a.setToken)

	r.Get("/status", a.status)
	r.Get("/events", a.events)
	r.Post("/engine/load", a.loadEngine)
	r.Post("/engine/cancel", a.cancelLoad)
	r.Post("/chat", a.chat)

	r.Post("/session/new", a.newSession)
	r.Post("/session/save", a.saveSession)
	r.Get("/conversations", a.listConversations)
	r.Route("/conversations/{id}", func(r chi.Router) {
		r.Get("/", a.getConversation)
		r.Delete("/", a.deleteConversation)
		r.Patch("/", a.renameConversation)
		r.Post("/open", a.openConversation)
	})

	r.Get("/stats", a.stats)
	r.Get("/export", a.export)
	r.Post("/import", a.importHistory)
	r.Post("/prune", a.prune)
	r.Get("/cache", a.cacheInfo)
	r.Delete("/cache", a.clearCache)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Err(err).Msg("http_encode_failed")
	}
}

// decodeJSON enforces the JSON content type and the body limit. It writes
// the error response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be absent.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return true
	}
	return decodeJSON(w, r, dst)
}
