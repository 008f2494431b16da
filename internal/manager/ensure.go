package manager

import (
	"context"
	"errors"
	"fmt"

	"hochat/internal/engine"
	"hochat/internal/legacy"
	"hochat/internal/loader"
	"hochat/internal/store"
	"hochat/pkg/types"
)

const (
	progressLoaded = "Model loaded successfully!"
	noticeCleared  = "model cache cleared"
)

// errSuperseded cancels a load replaced by a newer model switch.
var errSuperseded = errors.New("superseded by another load")

// Init restores persisted settings, migrates the legacy store when the
// conversation store is still empty and probes the runtime. A missing
// runtime is recorded as a user-visible error, not returned.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.migrateIfEmpty(ctx); err != nil {
		return err
	}
	var custom []types.Model
	if _, err := m.store.GetSetting(ctx, store.SettingCustomModels, &custom); err != nil {
		m.log.Warn().Err(err).Msg("manager_restore_custom_models_failed")
		custom = nil
	}
	var selected, token string
	if _, err := m.store.GetSetting(ctx, store.SettingSelectedModel, &selected); err != nil {
		m.log.Warn().Err(err).Msg("manager_restore_selected_model_failed")
	}
	if _, err := m.store.GetSetting(ctx, store.SettingAccessToken, &token); err != nil {
		m.log.Warn().Err(err).Msg("manager_restore_token_failed")
	}

	m.mu.Lock()
	m.custom = markCustom(custom)
	if selected != "" {
		if _, ok := m.lookupLocked(selected); ok {
			m.selected = selected
		} else {
			m.log.Warn().Str("model", selected).Msg("manager_selected_model_unknown")
		}
	}
	if token != "" {
		m.token = token
	}
	if m.runtime != nil {
		if err := m.runtime.Available(); err != nil {
			m.err = capabilityError{err: err}.Error()
			m.log.Warn().Err(err).Msg("manager_runtime_unavailable")
		}
	}
	m.changedLocked()
	m.mu.Unlock()
	return nil
}

func (m *Manager) migrateIfEmpty(ctx context.Context) error {
	n, err := m.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("manager: count conversations: %w", err)
	}
	if n > 0 || m.legacy == "" {
		return nil
	}
	src, err := legacy.Open(m.legacy)
	if err != nil {
		if !errors.Is(err, legacy.ErrNotFound) {
			m.log.Warn().Err(err).Str("path", m.legacy).Msg("legacy_open_failed")
		}
		return nil
	}
	defer src.Close()
	sum := m.store.MigrateLegacy(ctx, src)
	m.publish("legacy_migrated", map[string]any{"conversations": sum.Conversations, "custom_models": sum.CustomModels})
	return nil
}

type loadOp struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	gen    uint64
	model  string
	old    engine.Engine
}

// beginLoad performs the synchronous checks and flips the controller into
// the loading state. It returns a nil op when the engine is already loaded.
func (m *Manager) beginLoad(parent context.Context, modelID string, switching bool) (*loadOp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generating {
		return nil, busyError{op: "generation"}
	}
	op := &loadOp{}
	if switching {
		if _, ok := m.lookupLocked(modelID); !ok {
			return nil, ErrModelNotFound(modelID)
		}
		if m.loadCancel != nil {
			m.loadCancel(errSuperseded)
		}
		op.old = m.eng
		m.eng = nil
		m.loadPath = ""
		m.loading = false
		m.loadCancel = nil
		m.selected = modelID
		m.resetSessionLocked()
	} else {
		if m.eng != nil {
			return nil, nil
		}
		if m.loading {
			return nil, busyError{op: "load"}
		}
	}
	if m.runtime != nil {
		if err := m.runtime.Available(); err != nil {
			cerr := capabilityError{err: err}
			m.err = cerr.Error()
			m.changedLocked()
			if op.old != nil {
				_ = op.old.Close()
			}
			return nil, cerr
		}
	}
	m.loadGen++
	ctx, cancel := context.WithCancelCause(parent)
	op.ctx, op.cancel, op.gen, op.model = ctx, cancel, m.loadGen, m.selected
	m.loading = true
	m.loadCancel = cancel
	m.err = ""
	m.notice = ""
	m.progress = ""
	m.changedLocked()
	return op, nil
}

func (m *Manager) runLoad(op *loadOp) error {
	defer op.cancel(nil)
	if op.old != nil {
		if err := op.old.Close(); err != nil {
			m.log.Warn().Err(err).Msg("manager_engine_close_failed")
		}
	}
	m.pub.Publish(Event{Name: "load_start", ModelID: op.model})
	m.log.Info().Str("model", op.model).Msg("manager_load_start")

	res, err := m.loader.Load(op.ctx, op.model, func(text string) { m.setProgress(op.gen, text) })

	m.mu.Lock()
	if op.gen != m.loadGen || !m.loading {
		m.mu.Unlock()
		if res != nil && res.Engine != nil {
			_ = res.Engine.Close()
		}
		return fmt.Errorf("%w: %s", ErrLoadCanceled, op.model)
	}
	m.loading = false
	m.loadCancel = nil
	m.progress = ""
	if err != nil {
		if errors.Is(err, loader.ErrLoadCanceled) {
			m.notice = ErrLoadCanceled.Error()
		} else {
			m.err = err.Error()
		}
		m.changedLocked()
		m.mu.Unlock()
		m.pub.Publish(Event{Name: "load_failed", ModelID: op.model, Fields: map[string]any{"error": err.Error(), "cache_mismatch": loader.IsCacheMismatch(err)}})
		m.log.Warn().Err(err).Str("model", op.model).Msg("manager_load_failed")
		return err
	}
	m.eng = res.Engine
	m.loadPath = string(res.Path)
	m.progress = progressLoaded
	m.changedLocked()
	m.mu.Unlock()
	m.pub.Publish(Event{Name: "load_ready", ModelID: op.model, Fields: map[string]any{"path": string(res.Path)}})
	m.log.Info().Str("model", op.model).Str("path", string(res.Path)).Msg("manager_load_ready")
	return nil
}

func (m *Manager) setProgress(gen uint64, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.loadGen || !m.loading {
		return
	}
	m.progress = text
	m.changedLocked()
}

// LoadEngine loads the selected model and blocks until it is ready. It is a
// no-op when an engine is already loaded.
func (m *Manager) LoadEngine(ctx context.Context) error {
	op, err := m.beginLoad(ctx, "", false)
	if err != nil || op == nil {
		return err
	}
	return m.runLoad(op)
}

// ChangeModel selects modelID, drops the loaded engine and the in-memory
// conversation, and loads the new model. A load already running is
// canceled.
func (m *Manager) ChangeModel(ctx context.Context, modelID string) error {
	op, err := m.beginLoad(ctx, modelID, true)
	m.persistSelected(ctx, modelID, err)
	if err != nil {
		return err
	}
	return m.runLoad(op)
}

// StartLoad is the asynchronous form of LoadEngine (empty modelID) and
// ChangeModel. Validation errors are returned; the load itself reports
// through snapshots.
func (m *Manager) StartLoad(modelID string) error {
	switching := modelID != ""
	op, err := m.beginLoad(m.base, modelID, switching)
	if switching {
		m.persistSelected(m.base, modelID, err)
	}
	if err != nil || op == nil {
		return err
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = m.runLoad(op)
	}()
	return nil
}

func (m *Manager) persistSelected(ctx context.Context, modelID string, beginErr error) {
	if beginErr != nil && !IsCapabilityUnavailable(beginErr) {
		return
	}
	if err := m.store.SaveSetting(context.WithoutCancel(ctx), store.SettingSelectedModel, modelID); err != nil {
		m.log.Warn().Err(err).Msg("manager_persist_selected_model_failed")
	}
}

// CancelLoad aborts a running load and resets the environment: the engine
// and the in-memory conversation are dropped, persisted state is kept. It
// reports whether a load was running.
func (m *Manager) CancelLoad() bool {
	m.mu.Lock()
	if !m.loading {
		m.mu.Unlock()
		return false
	}
	cancel := m.loadCancel
	model := m.selected
	m.loadGen++
	m.loading = false
	m.loadCancel = nil
	m.progress = ""
	m.err = ""
	m.notice = ErrLoadCanceled.Error()
	eng := m.eng
	m.eng = nil
	m.loadPath = ""
	m.resetSessionLocked()
	m.changedLocked()
	m.mu.Unlock()

	if cancel != nil {
		cancel(ErrLoadCanceled)
	}
	if eng != nil {
		_ = eng.Close()
	}
	m.pub.Publish(Event{Name: "load_canceled", ModelID: model})
	m.log.Info().Str("model", model).Msg("manager_load_canceled")
	return true
}

// ClearCache wipes the cached files of the selected model, or of every
// model when all is set, clears the runtime cache and resets the
// environment. It returns the number of cache directories removed.
func (m *Manager) ClearCache(ctx context.Context, all bool) (int, error) {
	m.mu.Lock()
	if m.generating {
		m.mu.Unlock()
		return 0, busyError{op: "generation"}
	}
	cancel := m.loadCancel
	if m.loading {
		m.loadGen++
		m.loading = false
		m.loadCancel = nil
	}
	eng := m.eng
	m.eng = nil
	m.loadPath = ""
	m.progress = ""
	m.err = ""
	m.notice = noticeCleared
	model := m.selected
	m.resetSessionLocked()
	m.changedLocked()
	m.mu.Unlock()

	if cancel != nil {
		cancel(errors.New(noticeCleared))
	}
	if eng != nil {
		if err := eng.ClearRuntimeCache(ctx); err != nil {
			m.log.Warn().Err(err).Msg("manager_runtime_cache_clear_failed")
		}
		_ = eng.Close()
	}
	for _, p := range m.loader.Populations() {
		if all || p.ModelID == model {
			p.Cancel()
			if err := p.Wait(ctx); err != nil {
				return 0, err
			}
		}
	}
	if !m.tier.Supported() {
		return 0, nil
	}
	targets := []string{model}
	if all {
		infos, err := m.tier.List(ctx)
		if err != nil {
			return 0, fmt.Errorf("manager: list cache: %w", err)
		}
		targets = targets[:0]
		for _, info := range infos {
			targets = append(targets, info.ModelID)
		}
	}
	removed := 0
	for _, id := range targets {
		if err := m.tier.DeleteDirectory(ctx, id); err != nil {
			return removed, fmt.Errorf("manager: delete cache %s: %w", id, err)
		}
		removed++
	}
	m.pub.Publish(Event{Name: "cache_cleared", ModelID: model, Fields: map[string]any{"removed": removed, "all": all}})
	m.log.Info().Int("removed", removed).Bool("all", all).Msg("manager_cache_cleared")
	return removed, nil
}
