package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"hochat/internal/assetcache"
	"hochat/internal/engine"
	"hochat/internal/loader"
	"hochat/internal/manager"
	"hochat/internal/registry"
	"hochat/internal/store"
)

// stack is the wired daemon: store, cache tier, loader and controller.
type stack struct {
	store  *store.Store
	tier   assetcache.Tier
	loader *loader.Loader
	mgr    *manager.Manager
}

func (a *app) openStore() (*store.Store, error) {
	return store.Open(store.Options{
		Driver: a.cfg.Database.Driver,
		DSN:    a.cfg.Database.DSN,
		Logger: a.log.With().Str("component", "store").Logger(),
	})
}

func (a *app) openTier() (assetcache.Tier, error) {
	m := a.cfg.Cache.Minio
	return assetcache.New(assetcache.Options{
		Backend: a.cfg.Cache.Backend,
		Dir:     a.cfg.Cache.Dir,
		Minio: assetcache.MinioOptions{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			UseSSL:    m.UseSSL,
		},
	})
}

func (a *app) engineFactory() engine.Factory {
	e := a.cfg.Engine
	l := a.log.With().Str("component", "engine").Logger()
	if e.Kind == "openai" {
		return engine.NewOpenAIFactory(engine.OpenAIConfig{BaseURL: e.BaseURL, APIKey: e.APIKey, Logger: l})
	}
	return engine.NewLlamaFactory(engine.LlamaConfig{
		ScratchDir: e.ScratchDir,
		CtxSize:    e.CtxSize,
		Threads:    e.Threads,
		Logger:     l,
	})
}

// openStack wires every component and runs the controller's Init.
func (a *app) openStack(ctx context.Context) (*stack, error) {
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	tier, err := a.openTier()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	catalog, err := registry.Load(a.cfg.CatalogPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	s := &stack{store: st, tier: tier}
	factory := a.engineFactory()
	pub := logPublisher{log: a.log.With().Str("component", "events").Logger()}
	provider := &loader.Provider{
		BaseURL:      a.cfg.Provider.BaseURL,
		ManifestFile: a.cfg.Provider.ManifestFile,
		Token: func() string {
			if s.mgr == nil {
				return a.cfg.Provider.AccessToken
			}
			return s.mgr.AccessToken()
		},
	}
	s.loader, err = loader.New(loader.Config{
		Tier:                  tier,
		Factory:               factory,
		Provider:              provider,
		Publisher:             loaderEvents{pub},
		Logger:                a.log.With().Str("component", "loader").Logger(),
		PopulationConcurrency: a.cfg.PopulationConcurrency,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	s.mgr, err = manager.New(manager.Config{
		Store:        st,
		Loader:       s.loader,
		Runtime:      factory,
		Tier:         tier,
		Catalog:      catalog,
		LegacyPath:   a.cfg.LegacyPath,
		DefaultModel: a.cfg.DefaultModel,
		AccessToken:  a.cfg.Provider.AccessToken,
		Temperature:  &a.cfg.Generation.Temperature,
		MaxTokens:    a.cfg.Generation.MaxTokens,
		Publisher:    pub,
		Logger:       a.log.With().Str("component", "manager").Logger(),
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := s.mgr.Init(ctx); err != nil {
		_ = s.close(context.Background())
		return nil, fmt.Errorf("init: %w", err)
	}
	return s, nil
}

// close shuts the controller, then population tasks, then the database.
func (s *stack) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var first error
	if s.mgr != nil {
		first = s.mgr.Close(ctx)
	}
	if s.loader != nil {
		if err := s.loader.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	if err := s.store.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// logPublisher turns loader and controller events into debug log lines.
type logPublisher struct {
	log zerolog.Logger
}

func (p logPublisher) Publish(e manager.Event) {
	p.log.Debug().Str("event", e.Name).Str("model", e.ModelID).Fields(e.Fields).Msg("manager_event")
}

type loaderEvents struct{ logPublisher }

func (p loaderEvents) Publish(e loader.Event) {
	p.log.Debug().Str("load_id", e.LoadID).Str("model", e.ModelID).Str("state", string(e.State)).Fields(e.Fields).Msg("loader_event")
}
