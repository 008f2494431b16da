package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hochat/internal/assetcache"
	"hochat/internal/engine"
	"hochat/internal/httpapi"
	"hochat/internal/loader"
	"hochat/internal/manager"
	"hochat/internal/registry"
	"hochat/internal/store"
	"hochat/pkg/types"
)

// modelHub serves a two-file model "m1" the way the remote weight host does.
func modelHub() http.Handler {
	files := map[string]string{"params_shard_0.bin": "aaaa", "params_shard_1.bin": "bb"}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, ok := strings.CutPrefix(r.URL.Path, "/m1/resolve/main/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		if name == "ndarray-cache.json" {
			_, _ = w.Write([]byte(`{"records":[{"dataPath":"params_shard_0.bin"},{"dataPath":"params_shard_1.bin"}]}`))
			return
		}
		body, ok := files[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	})
}

type harness struct {
	srv     *httptest.Server
	mgr     *manager.Manager
	factory *engine.FakeFactory
}

// newHarness wires the real store, cache tier, loader, controller and router
// around a fake runtime.
func newHarness(t *testing.T, factory engine.Factory) *harness {
	t.Helper()
	hub := httptest.NewServer(modelHub())
	t.Cleanup(hub.Close)

	st, err := store.Open(store.Options{Driver: "sqlite", DSN: ":memory:", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	tier := assetcache.NewFSTier(t.TempDir())
	ld, err := loader.New(loader.Config{
		Tier:     tier,
		Factory:  factory,
		Provider: &loader.Provider{BaseURL: hub.URL, ManifestFile: "ndarray-cache.json"},
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	mgr, err := manager.New(manager.Config{
		Store:   st,
		Loader:  ld,
		Runtime: factory,
		Tier:    tier,
		Catalog: registry.New([]types.Model{
			{ID: "m1", Name: "Model One", Recommended: true},
			{ID: "missing", Name: "Not on the hub"},
		}),
		DefaultModel: "m1",
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
		_ = ld.Shutdown(ctx)
		_ = st.Close()
	})
	h := &harness{srv: srv, mgr: mgr}
	if ff, ok := factory.(*engine.FakeFactory); ok {
		h.factory = ff
	}
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, h.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func (h *harness) status(t *testing.T) types.StatusResponse {
	t.Helper()
	_, body := h.do(t, http.MethodGet, "/status", "")
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode status: %v: %s", err, body)
	}
	return st
}

// waitStatus polls /status until cond holds.
func (h *harness) waitStatus(t *testing.T, what string, cond func(types.StatusResponse) bool) types.StatusResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st := h.status(t)
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last status %+v", what, st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readChunks(t *testing.T, body []byte) []types.ChatChunk {
	t.Helper()
	var out []types.ChatChunk
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var c types.ChatChunk
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			t.Fatalf("ndjson line %q: %v", sc.Text(), err)
		}
		out = append(out, c)
	}
	return out
}

func waitTick() { time.Sleep(10 * time.Millisecond) }
