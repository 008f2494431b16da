package store

import (
	"encoding/json"

	"gorm.io/datatypes"

	"hochat/pkg/types"
)

type conversationRow struct {
	ID           string `gorm:"primaryKey;size:191"`
	Title        string `gorm:"type:text"`
	Model        string `gorm:"size:191;index"`
	Timestamp    int64  `gorm:"column:created_ms;not null"`
	LastModified int64  `gorm:"column:last_modified;not null;index"`
}

func (conversationRow) TableName() string { return "conversations" }

type messageRow struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ConversationID string `gorm:"size:191;not null;index:idx_message_conv_seq,priority:1"`
	Seq            int    `gorm:"not null;index:idx_message_conv_seq,priority:2"`
	Role           string `gorm:"size:32;not null"`
	Content        string `gorm:"type:text"`
	Images         datatypes.JSON
}

func (messageRow) TableName() string { return "conversation_messages" }

type tagRow struct {
	ConversationID string `gorm:"primaryKey;size:191"`
	Tag            string `gorm:"primaryKey;size:191;index"`
	Seq            int
}

func (tagRow) TableName() string { return "conversation_tags" }

type settingRow struct {
	Key   string `gorm:"column:setting_key;primaryKey;size:191"`
	Value datatypes.JSON
}

func (settingRow) TableName() string { return "settings" }

func allModels() []any {
	return []any{&conversationRow{}, &messageRow{}, &tagRow{}, &settingRow{}}
}

func (r conversationRow) toType() types.Conversation {
	return types.Conversation{
		ID:           r.ID,
		Title:        r.Title,
		Messages:     []types.Message{},
		Model:        r.Model,
		Timestamp:    r.Timestamp,
		LastModified: r.LastModified,
	}
}

func (m messageRow) toType() types.Message {
	msg := types.Message{Role: types.Role(m.Role), Content: m.Content}
	if len(m.Images) > 0 {
		_ = json.Unmarshal(m.Images, &msg.Images)
	}
	return msg
}

// rowsFor splits a conversation into its table rows. Duplicate and empty tags
// are dropped; tag order is kept.
func rowsFor(c types.Conversation) (conversationRow, []messageRow, []tagRow) {
	row := conversationRow{
		ID:           c.ID,
		Title:        c.Title,
		Model:        c.Model,
		Timestamp:    c.Timestamp,
		LastModified: c.LastModified,
	}
	msgs := make([]messageRow, 0, len(c.Messages))
	for i, m := range c.Messages {
		mr := messageRow{ConversationID: c.ID, Seq: i, Role: string(m.Role), Content: m.Content}
		if len(m.Images) > 0 {
			b, _ := json.Marshal(m.Images)
			mr.Images = datatypes.JSON(b)
		}
		msgs = append(msgs, mr)
	}
	seen := map[string]struct{}{}
	var tags []tagRow
	for _, t := range c.Tags {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, tagRow{ConversationID: c.ID, Tag: t, Seq: len(tags)})
	}
	return row, msgs, tags
}
