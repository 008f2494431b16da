package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hochat/internal/loader"
	"hochat/internal/manager"
	"hochat/internal/store"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
		hint string
	}{
		{"http error", mockHTTPError{msg: "x", code: http.StatusTeapot}, http.StatusTeapot, ""},
		{"model not found", manager.ErrModelNotFound("m"), http.StatusNotFound, ""},
		{"conversation not found", fmt.Errorf("%w: c", manager.ErrConversationNotFound), http.StatusNotFound, ""},
		{"no engine", manager.ErrNoEngine, http.StatusConflict, ""},
		{"empty message", manager.ErrEmptyMessage, http.StatusBadRequest, ""},
		{"empty title", manager.ErrEmptyTitle, http.StatusBadRequest, ""},
		{"import format", fmt.Errorf("%w: bad", store.ErrImportFormat), http.StatusBadRequest, ""},
		{"invalid record", store.ErrInvalidRecord, http.StatusBadRequest, ""},
		{"manifest", &loader.ManifestFetchError{ModelID: "m", Status: 404, Err: errors.New("404")}, http.StatusBadGateway, ""},
		{"cache mismatch", &loader.LoadError{ModelID: "m", Kind: loader.CacheMismatch, Hint: loader.CacheMismatchHint, Err: errors.New("bad magic")}, http.StatusInternalServerError, loader.CacheMismatchHint},
		{"other", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, hint := statusFor(c.err)
			if got != c.want || hint != c.hint {
				t.Fatalf("statusFor(%v) = %d %q, want %d %q", c.err, got, hint, c.want, c.hint)
			}
		})
	}
}

func TestWriteErrorIncludesHint(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, &loader.LoadError{ModelID: "m", Kind: loader.CacheMismatch, Hint: loader.CacheMismatchHint, Err: errors.New("x")})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if want := `"hint":"` + loader.CacheMismatchHint + `"`; !strings.Contains(w.Body.String(), want) {
		t.Fatalf("body=%s", w.Body.String())
	}
}
