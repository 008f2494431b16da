package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"hochat/pkg/types"
)

const (
	// ExportVersion is the version field written to export documents.
	ExportVersion = 1
	// ExportSource is the source field written to export documents.
	ExportSource = "Ho my AI!"
	// exportDateLayout matches ISO-8601 with millisecond precision in UTC.
	exportDateLayout = "2006-01-02T15:04:05.000Z07:00"
	dayMillis        = int64(24 * 60 * 60 * 1000)
)

// ExportAll snapshots every record and setting inside one read transaction.
func (s *Store) ExportAll(ctx context.Context) (*types.ExportDocument, error) {
	doc := &types.ExportDocument{
		Conversations: []types.Conversation{},
		Settings:      map[string]json.RawMessage{},
		Version:       ExportVersion,
		Source:        ExportSource,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		convs, err := s.find(ordered(tx))
		if err != nil {
			return err
		}
		doc.Conversations = convs
		var rows []settingRow
		if err := tx.Find(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			doc.Settings[r.Key] = json.RawMessage(r.Value)
		}
		return nil
	})
	observe("export", err)
	if err != nil {
		return nil, fmt.Errorf("store: export: %w", err)
	}
	doc.ExportDate = s.now().UTC().Format(exportDateLayout)
	return doc, nil
}

// DecodeExport parses an export document. Anything that is not a JSON object
// with the expected field shapes is ErrImportFormat.
func DecodeExport(raw []byte) (*types.ExportDocument, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrImportFormat)
	}
	var doc types.ExportDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportFormat, err)
	}
	return &doc, nil
}

// normalize fills a missing lastModified or timestamp from the other one;
// older documents carry only one of them.
func normalize(c types.Conversation) types.Conversation {
	if c.LastModified == 0 {
		c.LastModified = c.Timestamp
	}
	if c.Timestamp == 0 {
		c.Timestamp = c.LastModified
	}
	if c.Messages == nil {
		c.Messages = []types.Message{}
	}
	return c
}

// Setting is a key/value pair written by ImportAll after the document's own
// settings.
type Setting struct {
	Key   string
	Value any
}

// ImportAll writes doc and then extra in a single transaction. Without merge
// the store is cleared first. Any invalid record or setting aborts the whole
// import.
func (s *Store) ImportAll(ctx context.Context, doc *types.ExportDocument, merge bool, extra ...Setting) (types.ImportSummary, error) {
	var sum types.ImportSummary
	if doc == nil {
		return sum, fmt.Errorf("%w: empty document", ErrImportFormat)
	}
	encoded := make([]json.RawMessage, len(extra))
	for i, st := range extra {
		b, err := json.Marshal(st.Value)
		if err != nil {
			return sum, fmt.Errorf("store: marshal setting %s: %w", st.Key, err)
		}
		encoded[i] = b
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !merge {
			if err := clearTx(tx); err != nil {
				return err
			}
		}
		for i, c := range doc.Conversations {
			c = normalize(c)
			if err := validate(c); err != nil {
				return fmt.Errorf("%w: conversation %d: %w", ErrImportFormat, i, err)
			}
			if err := saveTx(tx, c); err != nil {
				return err
			}
		}
		for key, value := range doc.Settings {
			if err := putSettingTx(tx, key, value); err != nil {
				return err
			}
		}
		for i, st := range extra {
			if err := putSettingTx(tx, st.Key, encoded[i]); err != nil {
				return err
			}
		}
		return nil
	})
	observe("import", err)
	if err != nil {
		if errors.Is(err, ErrImportFormat) || errors.Is(err, ErrInvalidArgument) {
			return types.ImportSummary{}, err
		}
		return types.ImportSummary{}, fmt.Errorf("store: import: %w", err)
	}
	sum.Conversations = len(doc.Conversations)
	sum.Settings = len(doc.Settings)
	return sum, nil
}

// ImportJSON decodes raw and imports it.
func (s *Store) ImportJSON(ctx context.Context, raw []byte, merge bool) (types.ImportSummary, error) {
	doc, err := DecodeExport(raw)
	if err != nil {
		observe("import", err)
		return types.ImportSummary{}, err
	}
	return s.ImportAll(ctx, doc, merge)
}

// PruneOlderThan deletes records whose lastModified is strictly below
// now - daysToKeep days and returns how many were removed.
func (s *Store) PruneOlderThan(ctx context.Context, daysToKeep int) (int, error) {
	if daysToKeep < 0 {
		return 0, fmt.Errorf("%w: negative retention %d", ErrInvalidArgument, daysToKeep)
	}
	cutoff := s.now().UnixMilli() - int64(daysToKeep)*dayMillis
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&conversationRow{}).Where("last_modified < ?", cutoff).Pluck("id", &ids).Error; err != nil {
			return err
		}
		return deleteConversations(tx, ids)
	})
	observe("prune", err)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	if len(ids) > 0 {
		s.log.Info().Int("deleted", len(ids)).Int("days_to_keep", daysToKeep).Msg("store_pruned")
	}
	return len(ids), nil
}
