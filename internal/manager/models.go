package manager

import (
	"context"
	"errors"
	"strings"

	"hochat/internal/store"
	"hochat/pkg/types"
)

// Models returns the catalog followed by the custom models, plus the
// selected model id.
func (m *Manager) Models() ([]types.Model, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.catalog.With(m.custom).Models(), m.selected
}

// CustomModels returns a copy of the user's models.
func (m *Manager) CustomModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Model(nil), m.custom...)
}

// AddCustomModel registers a user model and persists the list.
func (m *Manager) AddCustomModel(ctx context.Context, model types.Model) (types.Model, error) {
	model.ID = strings.TrimSpace(model.ID)
	if model.ID == "" {
		return types.Model{}, errors.New("model id is required")
	}
	if model.Name == "" {
		model.Name = model.ID
	}
	model.Custom = true
	model.Recommended = false

	m.mu.Lock()
	if _, ok := m.lookupLocked(model.ID); ok {
		m.mu.Unlock()
		return types.Model{}, duplicateModelError{id: model.ID}
	}
	m.custom = append(m.custom, model)
	list := append([]types.Model(nil), m.custom...)
	m.changedLocked()
	m.mu.Unlock()

	if err := m.store.SaveSetting(ctx, store.SettingCustomModels, list); err != nil {
		return model, err
	}
	m.publish("custom_model_added", map[string]any{"id": model.ID})
	return model, nil
}

// RemoveCustomModel drops a user model; unknown ids are ignored. It reports
// whether a model was removed.
func (m *Manager) RemoveCustomModel(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	kept := make([]types.Model, 0, len(m.custom))
	for _, mdl := range m.custom {
		if mdl.ID != id {
			kept = append(kept, mdl)
		}
	}
	removed := len(kept) != len(m.custom)
	m.custom = kept
	list := append([]types.Model(nil), kept...)
	if removed {
		m.changedLocked()
	}
	m.mu.Unlock()

	if !removed {
		return false, nil
	}
	if err := m.store.SaveSetting(ctx, store.SettingCustomModels, list); err != nil {
		return true, err
	}
	return true, nil
}

// SetAccessToken stores the credential sent with manifest and file
// fetches. An empty token removes it.
func (m *Manager) SetAccessToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	if token == "" {
		return m.store.DeleteSetting(ctx, store.SettingAccessToken)
	}
	return m.store.SaveSetting(ctx, store.SettingAccessToken, token)
}

// AccessToken returns the current credential; it is the loader provider's
// token source.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}
