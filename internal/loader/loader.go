// Package loader decides where model bytes come from. It fetches the model
// manifest, consults the asset cache tier, and then loads the engine from the
// cache (fast path) or from the network, populating the cache in the
// background when it can.
//
// A caching fault never blocks a load: any tier error downgrades the request to
// a plain network load. Only manifest and engine construction failures reach
// the caller.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hochat/internal/assetcache"
	"hochat/internal/engine"
)

// Config wires a Loader.
type Config struct {
	Tier     assetcache.Tier
	Factory  engine.Factory
	Provider *Provider
	// Publisher receives state transitions; nil drops them.
	Publisher EventPublisher
	Logger    zerolog.Logger
	// PopulationConcurrency bounds parallel file copies; <=0 means 2.
	PopulationConcurrency int
}

// Loader runs model load requests.
type Loader struct {
	tier     assetcache.Tier
	factory  engine.Factory
	provider *Provider
	pub      EventPublisher
	log      zerolog.Logger
	workers  int

	// base outlives individual requests so population survives them.
	base       context.Context
	baseCancel context.CancelFunc

	mu   sync.Mutex
	pops map[string]*Population
	wg   sync.WaitGroup
}

// New validates cfg and returns a Loader.
func New(cfg Config) (*Loader, error) {
	if cfg.Factory == nil {
		return nil, errors.New("loader: engine factory is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("loader: provider is required")
	}
	if cfg.Tier == nil {
		cfg.Tier = assetcache.Unsupported{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.PopulationConcurrency <= 0 {
		cfg.PopulationConcurrency = 2
	}
	base, cancel := context.WithCancel(context.Background())
	return &Loader{
		tier:       cfg.Tier,
		factory:    cfg.Factory,
		provider:   cfg.Provider,
		pub:        cfg.Publisher,
		log:        cfg.Logger,
		workers:    cfg.PopulationConcurrency,
		base:       base,
		baseCancel: cancel,
		pops:       map[string]*Population{},
	}, nil
}

// Result describes a successful load.
type Result struct {
	LoadID  string
	ModelID string
	Engine  engine.Engine
	Path    Path
	Files   []string
	// Population is set on the slow path with populate.
	Population *Population
}

type request struct {
	id       string
	modelID  string
	progress func(string)
	started  time.Time
}

func (l *Loader) publish(r *request, s State, fields map[string]any) {
	l.pub.Publish(Event{LoadID: r.id, ModelID: r.modelID, State: s, Fields: fields})
	ev := l.log.Debug().Str("load", r.id).Str("model", r.modelID).Str("state", string(s))
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg("loader_state")
}

// Load materializes an engine for modelID. onProgress receives engine
// progress text and may be nil.
func (l *Loader) Load(ctx context.Context, modelID string, onProgress func(string)) (*Result, error) {
	r := &request{id: uuid.NewString(), modelID: modelID, progress: onProgress, started: time.Now()}
	l.publish(r, StateIdle, nil)
	l.publish(r, StateCheckingCapability, map[string]any{"tier": l.tier.Name()})

	if !l.tier.Supported() {
		l.publish(r, StateSlowPathNoCache, map[string]any{"reason": "tier_unsupported"})
		// Nothing is cached, so the manifest is only a hint for the engine.
		files, err := l.provider.Manifest(ctx, modelID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, l.canceled(ctx, r, PathSlowNoCache)
			}
			l.log.Warn().Err(err).Str("model", modelID).Msg("manifest_unavailable_no_cache")
			files = nil
		}
		return l.construct(ctx, r, PathSlowNoCache, l.provider.Source(modelID), files)
	}

	l.publish(r, StateCheckingManifest, nil)
	files, err := l.manifest(ctx, r)
	if err != nil {
		return nil, err
	}

	complete, err := l.tier.IsModelComplete(ctx, modelID, files)
	if err != nil {
		return l.downgrade(ctx, r, files, "check", err)
	}
	dir, err := l.tier.Directory(ctx, modelID)
	if err != nil {
		return l.downgrade(ctx, r, files, "directory", err)
	}

	if complete {
		l.publish(r, StateFastPath, map[string]any{"files": len(files)})
		return l.construct(ctx, r, PathFast, &cacheSource{tier: l.tier, dir: dir}, files)
	}

	l.publish(r, StateSlowPathWithPopulate, map[string]any{"files": len(files)})
	res, err := l.construct(ctx, r, PathSlowPopulate, l.provider.Source(modelID), files)
	if err != nil {
		return nil, err
	}
	res.Population = l.startPopulation(r, dir, files)
	return res, nil
}

func (l *Loader) manifest(ctx context.Context, r *request) ([]string, error) {
	files, err := l.provider.Manifest(ctx, r.modelID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, l.canceled(ctx, r, Path("none"))
		}
		l.publish(r, StateFailed, map[string]any{"error": err.Error(), "kind": "manifest"})
		loadsTotal.WithLabelValues("none", "manifest_error").Inc()
		return nil, err
	}
	return files, nil
}

// downgrade swallows a tier fault and loads from the network without caching.
func (l *Loader) downgrade(ctx context.Context, r *request, files []string, op string, cause error) (*Result, error) {
	l.log.Warn().Err(cause).Str("model", r.modelID).Str("op", op).Msg("cache_tier_fault_downgrade")
	l.publish(r, StateSlowPathNoCache, map[string]any{"reason": "tier_error", "error": cause.Error()})
	return l.construct(ctx, r, PathSlowNoCache, l.provider.Source(r.modelID), files)
}

func (l *Loader) construct(ctx context.Context, r *request, path Path, src engine.Source, files []string) (*Result, error) {
	eng, err := l.factory.Create(ctx, r.modelID, engine.Options{OnProgress: r.progress, Source: src, Files: files})
	if err != nil {
		if ctx.Err() != nil {
			return nil, l.canceled(ctx, r, path)
		}
		le := classify(r.modelID, err)
		l.publish(r, StateFailed, map[string]any{"error": err.Error(), "kind": le.Kind.String(), "path": string(path)})
		loadsTotal.WithLabelValues(string(path), le.Kind.String()).Inc()
		return nil, le
	}
	if ctx.Err() != nil {
		_ = eng.Close()
		return nil, l.canceled(ctx, r, path)
	}
	l.publish(r, StateReady, map[string]any{"path": string(path), "elapsed_ms": time.Since(r.started).Milliseconds()})
	loadsTotal.WithLabelValues(string(path), "ready").Inc()
	return &Result{LoadID: r.id, ModelID: r.modelID, Engine: eng, Path: path, Files: files}, nil
}

func (l *Loader) canceled(ctx context.Context, r *request, path Path) error {
	l.publish(r, StateFailed, map[string]any{"kind": "canceled", "path": string(path)})
	loadsTotal.WithLabelValues(string(path), "canceled").Inc()
	return fmt.Errorf("%w: %w", ErrLoadCanceled, context.Cause(ctx))
}

// startPopulation spawns the copy task. It is only called after Ready, so the
// caller never waits on it.
func (l *Loader) startPopulation(r *request, dir *assetcache.Directory, files []string) *Population {
	ctx, cancel := context.WithCancel(l.base)
	p := &Population{ID: uuid.NewString(), ModelID: r.modelID, cancel: cancel, done: make(chan struct{})}
	l.mu.Lock()
	l.pops[p.ID] = p
	l.mu.Unlock()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			delete(l.pops, p.ID)
			l.mu.Unlock()
		}()
		p.run(ctx, populateJob{
			tier:        l.tier,
			dir:         dir,
			src:         l.provider.Source(r.modelID),
			files:       files,
			concurrency: l.workers,
			log:         l.log,
		})
	}()
	return p
}

// Populations returns the population tasks still running.
func (l *Loader) Populations() []*Population {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Population, 0, len(l.pops))
	for _, p := range l.pops {
		out = append(out, p)
	}
	return out
}

// Shutdown cancels running population tasks and waits for them.
func (l *Loader) Shutdown(ctx context.Context) error {
	l.baseCancel()
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
