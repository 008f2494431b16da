package manager

import (
	"context"
	"encoding/json"
	"fmt"

	"hochat/internal/store"
	"hochat/pkg/types"
)

// ExportHistory returns the indented export document, including the custom
// models.
func (m *Manager) ExportHistory(ctx context.Context) ([]byte, error) {
	doc, err := m.store.ExportAll(ctx)
	if err != nil {
		return nil, err
	}
	doc.CustomModels = m.CustomModels()
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manager: encode export: %w", err)
	}
	return b, nil
}

// ImportHistory imports an export document. With merge, custom models not
// yet known are added; without it, the document's list replaces the current
// one. The live session settings (selected model, token) are written in the
// same transaction so a replacing import does not drop them.
func (m *Manager) ImportHistory(ctx context.Context, raw []byte, merge bool) (types.ImportSummary, error) {
	doc, err := store.DecodeExport(raw)
	if err != nil {
		return types.ImportSummary{}, err
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	custom := append([]types.Model{}, m.custom...)
	added := 0
	if doc.CustomModels != nil {
		incoming := markCustom(doc.CustomModels)
		if merge {
			known := make(map[string]struct{}, len(custom))
			for _, mdl := range custom {
				known[mdl.ID] = struct{}{}
			}
			for _, mdl := range incoming {
				if _, ok := known[mdl.ID]; ok {
					continue
				}
				known[mdl.ID] = struct{}{}
				custom = append(custom, mdl)
				added++
			}
		} else {
			custom = incoming
			added = len(incoming)
		}
	}
	selected, token := m.selected, m.token
	m.mu.Unlock()

	extra := []store.Setting{
		{Key: store.SettingCustomModels, Value: custom},
		{Key: store.SettingSelectedModel, Value: selected},
	}
	if token != "" {
		extra = append(extra, store.Setting{Key: store.SettingAccessToken, Value: token})
	}
	sum, err := m.store.ImportAll(ctx, doc, merge, extra...)
	if err != nil {
		return types.ImportSummary{}, err
	}
	sum.CustomModels = added

	m.mu.Lock()
	m.custom = custom
	m.changedLocked()
	m.mu.Unlock()
	m.publish("history_imported", map[string]any{"conversations": sum.Conversations, "merge": merge})
	return sum, nil
}
