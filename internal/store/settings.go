package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting keys used by the controller.
const (
	SettingSelectedModel = "selectedModel"
	SettingCustomModels  = "customModels"
	SettingAccessToken   = "accessToken"
)

func putSettingTx(tx *gorm.DB, key string, value json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("%w: empty setting key", ErrInvalidArgument)
	}
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	row := settingRow{Key: key, Value: datatypes.JSON(value)}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
}

// SaveSetting stores value, marshalled as JSON, under key.
func (s *Store) SaveSetting(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal setting %s: %w", key, err)
	}
	err = putSettingTx(s.db.WithContext(ctx), key, b)
	observe("setting_save", err)
	if err != nil {
		return fmt.Errorf("store: save setting %s: %w", key, err)
	}
	return nil
}

// GetSettingRaw returns the stored JSON for key and whether it exists.
func (s *Store) GetSettingRaw(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var rows []settingRow
	err := s.db.WithContext(ctx).Where("setting_key = ?", key).Limit(1).Find(&rows).Error
	observe("setting_get", err)
	if err != nil {
		return nil, false, fmt.Errorf("store: get setting %s: %w", key, err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return json.RawMessage(rows[0].Value), true, nil
}

// GetSetting decodes the value stored under key into dst. It reports false
// and leaves dst alone when the key is absent.
func (s *Store) GetSetting(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := s.GetSettingRaw(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("store: decode setting %s: %w", key, err)
	}
	return true, nil
}

// DeleteSetting removes key; absent keys are ignored.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Where("setting_key = ?", key).Delete(&settingRow{}).Error
	observe("setting_delete", err)
	if err != nil {
		return fmt.Errorf("store: delete setting %s: %w", key, err)
	}
	return nil
}
