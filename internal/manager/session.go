package manager

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"hochat/pkg/types"
)

// ErrEmptyTitle rejects a blank rename.
var ErrEmptyTitle = errors.New("title is empty")

// SaveCurrent writes the active conversation. An empty message list is a
// no-op and returns nil. A new conversation gets a fresh id; an existing one
// keeps its creation time, tags and, unless title is given, its title.
func (m *Manager) SaveCurrent(ctx context.Context, title string) (*types.Conversation, error) {
	m.mu.RLock()
	gen := m.sessionGen
	m.mu.RUnlock()
	return m.saveSession(ctx, gen, strings.TrimSpace(title))
}

// saveSession saves the session identified by gen; a session replaced in
// the meantime is left alone.
func (m *Manager) saveSession(ctx context.Context, gen uint64, title string) (*types.Conversation, error) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	if m.sessionGen != gen || len(m.messages) == 0 {
		m.mu.RUnlock()
		return nil, nil
	}
	msgs := copyMessages(m.messages)
	id, model := m.convID, m.selected
	m.mu.RUnlock()

	now := m.now()
	c := types.Conversation{ID: id, Messages: msgs, Model: model, Timestamp: now.UnixMilli(), LastModified: now.UnixMilli()}
	if id == "" {
		c.ID = newConversationID(now)
	} else {
		prev, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			c.Timestamp = prev.Timestamp
			c.Tags = prev.Tags
			c.Title = prev.Title
			c.LastModified = max(c.LastModified, prev.Timestamp)
		}
	}
	if title != "" {
		c.Title = title
	} else if c.Title == "" {
		c.Title = deriveTitle(msgs)
	}
	if err := m.store.Save(ctx, c); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.sessionGen == gen && m.convID != c.ID {
		m.convID = c.ID
		m.changedLocked()
	}
	m.mu.Unlock()
	m.log.Debug().Str("conversation", c.ID).Int("messages", len(msgs)).Msg("manager_conversation_saved")
	return &c, nil
}

// OpenConversation makes a stored conversation the active one. The
// selected model is left as it is.
func (m *Manager) OpenConversation(ctx context.Context, id string) (*types.Conversation, error) {
	if m.isGenerating() {
		return nil, busyError{op: "generation"}
	}
	c, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	m.mu.Lock()
	m.resetSessionLocked()
	m.messages = copyMessages(c.Messages)
	m.convID = c.ID
	m.changedLocked()
	m.mu.Unlock()
	return c, nil
}

// StartNew saves the active conversation, if any, and starts an empty one.
func (m *Manager) StartNew(ctx context.Context) error {
	if m.isGenerating() {
		return busyError{op: "generation"}
	}
	if _, err := m.SaveCurrent(ctx, ""); err != nil {
		return err
	}
	m.mu.Lock()
	m.resetSessionLocked()
	m.changedLocked()
	m.mu.Unlock()
	return nil
}

// DeleteConversation removes a stored conversation. Deleting the active one
// also clears the in-memory session.
func (m *Manager) DeleteConversation(ctx context.Context, id string) error {
	m.mu.RLock()
	active := m.convID == id && id != ""
	busy := active && m.generating
	m.mu.RUnlock()
	if busy {
		return busyError{op: "generation"}
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	if m.convID == id && id != "" {
		m.resetSessionLocked()
		m.changedLocked()
	}
	m.mu.Unlock()
	return nil
}

// RenameConversation sets a new title and bumps lastModified.
func (m *Manager) RenameConversation(ctx context.Context, id, title string) (*types.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	c, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	c.Title = title
	c.LastModified = max(m.now().UnixMilli(), c.Timestamp)
	if err := m.store.Save(ctx, *c); err != nil {
		return nil, err
	}
	return c, nil
}

// HistoryQuery narrows History. Zero fields do not filter.
type HistoryQuery struct {
	Query string
	Model string
	Tag   string
	// From and To bound lastModified, inclusive.
	From *int64
	To   *int64
	// Page is 1-based; it takes effect when PageSize is set.
	Page     int
	PageSize int
	Limit    int
}

// History lists stored conversations, most recently modified first.
func (m *Manager) History(ctx context.Context, q HistoryQuery) ([]types.Conversation, error) {
	if q.PageSize > 0 && q.Page < 1 {
		q.Page = 1
	}
	filtered := q.Query != "" || q.Model != "" || q.Tag != "" || q.From != nil || q.To != nil
	if !filtered {
		if q.PageSize > 0 {
			return m.store.Page(ctx, q.Page, q.PageSize)
		}
		return m.store.ListAll(ctx, q.Limit)
	}

	var (
		list []types.Conversation
		err  error
	)
	switch {
	case q.Query != "":
		list, err = m.store.Search(ctx, q.Query)
	case q.Model != "":
		list, err = m.store.FilterByModel(ctx, q.Model)
	case q.Tag != "":
		list, err = m.store.FilterByTag(ctx, q.Tag)
	default:
		list, err = m.store.FilterByDateRange(ctx, derefOr(q.From, 0), derefOr(q.To, math.MaxInt64))
	}
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, c := range list {
		if q.Model != "" && c.Model != q.Model {
			continue
		}
		if q.Tag != "" && !hasTag(c, q.Tag) {
			continue
		}
		if q.From != nil && c.LastModified < *q.From {
			continue
		}
		if q.To != nil && c.LastModified > *q.To {
			continue
		}
		out = append(out, c)
	}
	if q.PageSize > 0 {
		start := min((q.Page-1)*q.PageSize, len(out))
		return out[start:min(start+q.PageSize, len(out))], nil
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func hasTag(c types.Conversation, tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func derefOr(p *int64, def int64) int64 {
	if p == nil {
		return def
	}
	return *p
}

func (m *Manager) isGenerating() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generating
}
