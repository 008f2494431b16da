package store

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"hochat/internal/legacy"
	"hochat/pkg/types"
)

// LegacySource is the flat key/value store older releases wrote.
type LegacySource interface {
	Get(key string) ([]byte, bool, error)
}

// MigrateLegacy copies conversations and custom models out of src. It is
// best effort: every failure is logged and the summary reports what made it
// in. The source is never modified.
func (s *Store) MigrateLegacy(ctx context.Context, src LegacySource) types.MigrationSummary {
	var sum types.MigrationSummary
	if src == nil {
		return sum
	}
	if n, err := s.migrateConversations(ctx, src); err != nil {
		s.log.Warn().Err(err).Msg("legacy_migration_conversations_failed")
	} else {
		sum.Conversations = n
	}
	if n, err := s.migrateCustomModels(ctx, src); err != nil {
		s.log.Warn().Err(err).Msg("legacy_migration_custom_models_failed")
	} else {
		sum.CustomModels = n
	}
	observe("migrate", nil)
	if sum.Conversations > 0 || sum.CustomModels > 0 {
		s.log.Info().Int("conversations", sum.Conversations).Int("custom_models", sum.CustomModels).Msg("legacy_migration_done")
	}
	return sum
}

func (s *Store) migrateConversations(ctx context.Context, src LegacySource) (int, error) {
	raw, ok, err := src.Get(legacy.KeyConversationHistory)
	if err != nil || !ok {
		return 0, err
	}
	var convs []types.Conversation
	if err := json.Unmarshal(raw, &convs); err != nil {
		return 0, err
	}
	if len(convs) == 0 {
		return 0, nil
	}
	n := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range convs {
			c = normalize(c)
			if err := validate(c); err != nil {
				s.log.Warn().Err(err).Msg("legacy_migration_skip_record")
				continue
			}
			if err := saveTx(tx, c); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) migrateCustomModels(ctx context.Context, src LegacySource) (int, error) {
	raw, ok, err := src.Get(legacy.KeyCustomModels)
	if err != nil || !ok {
		return 0, err
	}
	var models []types.Model
	if err := json.Unmarshal(raw, &models); err != nil {
		return 0, err
	}
	if len(models) == 0 {
		return 0, nil
	}
	for i := range models {
		models[i].Custom = true
	}
	if err := s.SaveSetting(ctx, SettingCustomModels, models); err != nil {
		return 0, err
	}
	return len(models), nil
}
