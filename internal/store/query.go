package store

import (
	"context"
	"fmt"
	"math"
	"strings"

	"hochat/pkg/types"
)

// Search matches query case-insensitively as a substring of the title, of
// any message content or of any tag. A blank query lists everything.
func (s *Store) Search(ctx context.Context, query string) ([]types.Conversation, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	all, err := s.ListAll(ctx, 0)
	if err != nil || q == "" {
		return all, err
	}
	out := make([]types.Conversation, 0, len(all))
	for _, c := range all {
		if matches(c, q) {
			out = append(out, c)
		}
	}
	observe("search", nil)
	return out, nil
}

func matches(c types.Conversation, lower string) bool {
	if strings.Contains(strings.ToLower(c.Title), lower) {
		return true
	}
	for _, m := range c.Messages {
		if strings.Contains(strings.ToLower(m.Content), lower) {
			return true
		}
	}
	for _, t := range c.Tags {
		if strings.Contains(strings.ToLower(t), lower) {
			return true
		}
	}
	return false
}

// FilterByModel returns records last used with modelID.
func (s *Store) FilterByModel(ctx context.Context, modelID string) ([]types.Conversation, error) {
	out, err := s.find(ordered(s.db.WithContext(ctx).Where("model = ?", modelID)))
	observe("filter_model", err)
	return out, err
}

// FilterByDateRange returns records whose lastModified lies in [start, end].
func (s *Store) FilterByDateRange(ctx context.Context, start, end int64) ([]types.Conversation, error) {
	out, err := s.find(ordered(s.db.WithContext(ctx).Where("last_modified >= ? AND last_modified <= ?", start, end)))
	observe("filter_date", err)
	return out, err
}

// FilterByTag returns records carrying tag exactly.
func (s *Store) FilterByTag(ctx context.Context, tag string) ([]types.Conversation, error) {
	db := s.db.WithContext(ctx)
	sub := db.Model(&tagRow{}).Select("conversation_id").Where("tag = ?", tag)
	out, err := s.find(ordered(db.Where("id IN (?)", sub)))
	observe("filter_tag", err)
	return out, err
}

// Page returns page number (1-based) of size records.
func (s *Store) Page(ctx context.Context, number, size int) ([]types.Conversation, error) {
	if number < 1 || size < 1 {
		return nil, fmt.Errorf("%w: page %d size %d", ErrInvalidArgument, number, size)
	}
	out, err := s.find(ordered(s.db.WithContext(ctx)).Offset((number - 1) * size).Limit(size))
	observe("page", err)
	return out, err
}

// Statistics aggregates the store. An empty store yields zero counts, an
// empty byModel map and nil dates.
func (s *Store) Statistics(ctx context.Context) (types.Statistics, error) {
	st := types.Statistics{ByModel: map[string]int{}}
	db := s.db.WithContext(ctx)

	var total, msgs int64
	if err := db.Model(&conversationRow{}).Count(&total).Error; err != nil {
		observe("stats", err)
		return st, fmt.Errorf("store: stats: %w", err)
	}
	if total == 0 {
		observe("stats", nil)
		return st, nil
	}
	if err := db.Model(&messageRow{}).Count(&msgs).Error; err != nil {
		observe("stats", err)
		return st, fmt.Errorf("store: stats: %w", err)
	}

	var perModel []struct {
		Model string
		N     int
	}
	if err := db.Model(&conversationRow{}).Select("model, COUNT(*) AS n").Group("model").Scan(&perModel).Error; err != nil {
		observe("stats", err)
		return st, fmt.Errorf("store: stats: %w", err)
	}
	for _, pm := range perModel {
		st.ByModel[pm.Model] = pm.N
	}

	var bounds struct {
		Oldest int64
		Newest int64
	}
	if err := db.Model(&conversationRow{}).Select("MIN(created_ms) AS oldest, MAX(last_modified) AS newest").Scan(&bounds).Error; err != nil {
		observe("stats", err)
		return st, fmt.Errorf("store: stats: %w", err)
	}

	st.Total = int(total)
	st.TotalMessages = int(msgs)
	st.OldestDate = &bounds.Oldest
	st.NewestDate = &bounds.Newest
	st.AverageMessagesPerConversation = math.Round(float64(msgs)/float64(total)*10) / 10
	observe("stats", nil)
	return st, nil
}
