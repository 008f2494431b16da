package manager

import (
	"context"
	"fmt"

	"hochat/pkg/types"
)

// Conversation returns a stored conversation.
func (m *Manager) Conversation(ctx context.Context, id string) (*types.Conversation, error) {
	c, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return c, nil
}

// Statistics summarises the conversation store.
func (m *Manager) Statistics(ctx context.Context) (types.Statistics, error) {
	return m.store.Statistics(ctx)
}

// Prune deletes conversations not modified within daysToKeep days.
func (m *Manager) Prune(ctx context.Context, daysToKeep int) (int, error) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	n, err := m.store.PruneOlderThan(ctx, daysToKeep)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.publish("history_pruned", map[string]any{"deleted": n, "days_to_keep": daysToKeep})
	}
	return n, nil
}

// CacheInfo lists the cached model directories.
func (m *Manager) CacheInfo(ctx context.Context) (types.CacheResponse, error) {
	resp := types.CacheResponse{Backend: m.tier.Name(), Supported: m.tier.Supported(), Entries: []types.CacheEntry{}}
	if !resp.Supported {
		return resp, nil
	}
	infos, err := m.tier.List(ctx)
	if err != nil {
		return resp, fmt.Errorf("manager: list cache: %w", err)
	}
	for _, info := range infos {
		resp.Entries = append(resp.Entries, types.CacheEntry{ModelID: info.ModelID, Files: info.Files, Bytes: info.Bytes})
	}
	return resp, nil
}
