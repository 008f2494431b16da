package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hochat/internal/engine"
	"hochat/internal/loader"
	"hochat/internal/registry"
	"hochat/internal/store"
	"hochat/pkg/types"
)

// fakeLoader hands out FakeFactory engines without touching a provider.
type fakeLoader struct {
	factory *engine.FakeFactory
	err     error
	// block, when set, holds Load until closed or canceled.
	block chan struct{}

	mu    sync.Mutex
	calls []string
}

func (l *fakeLoader) Load(ctx context.Context, modelID string, onProgress func(string)) (*loader.Result, error) {
	l.mu.Lock()
	l.calls = append(l.calls, modelID)
	l.mu.Unlock()
	if onProgress != nil {
		onProgress("Fetching param cache " + modelID)
	}
	if l.block != nil {
		select {
		case <-l.block:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", loader.ErrLoadCanceled, context.Cause(ctx))
		}
	}
	if l.err != nil {
		return nil, l.err
	}
	eng, err := l.factory.Create(ctx, modelID, engine.Options{})
	if err != nil {
		return nil, err
	}
	return &loader.Result{ModelID: modelID, Engine: eng, Path: loader.PathFast}, nil
}

func (l *fakeLoader) Populations() []*loader.Population { return nil }

func (l *fakeLoader) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type capFunc func() error

func (f capFunc) Available() error { return f() }

// stepClock advances one second per reading.
func stepClock(start int64) func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return time.UnixMilli(start + n.Add(1)*1000)
	}
}

type fixture struct {
	store   *store.Store
	factory *engine.FakeFactory
	loader  *fakeLoader
	pub     *MemoryPublisher
	mgr     *Manager
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Options{Driver: "sqlite", DSN: ":memory:", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		store:   newTestStore(t),
		factory: &engine.FakeFactory{Reply: []string{"Hi", " there"}},
		pub:     NewMemoryPublisher(),
	}
	f.loader = &fakeLoader{factory: f.factory}
	cfg := Config{
		Store:     f.store,
		Loader:    f.loader,
		Runtime:   f.factory,
		Catalog:   registry.New(registry.Builtin()),
		Publisher: f.pub,
		Logger:    zerolog.Nop(),
		Now:       stepClock(1_700_000_000_000),
	}
	for _, o := range opts {
		o(&cfg)
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	f.mgr = m
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func userMsg(content string) types.Message {
	return types.Message{Role: types.RoleUser, Content: content}
}
