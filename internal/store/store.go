// Package store is the conversation database: conversation records with
// their messages and tags, plus a key/value settings namespace.
//
// Every list operation orders by lastModified descending, then id
// descending so ties are stable across pages.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"hochat/pkg/types"
)

var (
	// ErrInvalidRecord rejects a conversation with an empty id or with
	// lastModified before timestamp.
	ErrInvalidRecord = errors.New("store: invalid conversation record")
	// ErrImportFormat means an import document could not be used. Nothing
	// was written.
	ErrImportFormat = errors.New("store: invalid import format")
	// ErrInvalidArgument reports bad paging or retention arguments.
	ErrInvalidArgument = errors.New("store: invalid argument")
)

// idChunk bounds IN (...) lists.
const idChunk = 500

// Options selects the database.
type Options struct {
	// Driver is one of sqlite, postgres, mysql.
	Driver string
	DSN    string
	Logger zerolog.Logger
}

// Store is safe for concurrent use. Concurrent saves of the same id are not
// ordered; callers serialize them.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
	now func() time.Time
}

// Open connects and migrates the schema.
func Open(opts Options) (*Store, error) {
	var dial gorm.Dialector
	switch opts.Driver {
	case "", "sqlite":
		if opts.DSN != ":memory:" && opts.DSN != "" {
			if err := os.MkdirAll(filepath.Dir(opts.DSN), 0o700); err != nil {
				return nil, fmt.Errorf("store: create db dir: %w", err)
			}
		}
		dial = sqlite.Open(opts.DSN)
	case "postgres":
		dial = postgres.Open(opts.DSN)
	case "mysql":
		dial = mysql.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", opts.Driver)
	}
	db, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", opts.Driver, err)
	}
	if opts.Driver == "" || opts.Driver == "sqlite" {
		// one connection: sqlite serializes writers anyway, and an in-memory
		// database exists per connection
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	s, err := New(db, opts.Logger)
	if err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return s, nil
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB, log zerolog.Logger) (*Store, error) {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("store: auto-migrate: %w", err)
	}
	return &Store{db: db, log: log, now: time.Now}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func validate(c types.Conversation) error {
	if c.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if c.LastModified < c.Timestamp {
		return fmt.Errorf("%w: %s: lastModified %d before timestamp %d", ErrInvalidRecord, c.ID, c.LastModified, c.Timestamp)
	}
	for i, m := range c.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: %s: message %d has role %q", ErrInvalidRecord, c.ID, i, m.Role)
		}
	}
	return nil
}

// Save upserts the whole record: row, messages and tags are replaced.
func (s *Store) Save(ctx context.Context, c types.Conversation) error {
	if err := validate(c); err != nil {
		observe("save", err)
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return saveTx(tx, c)
	})
	observe("save", err)
	if err != nil {
		return fmt.Errorf("store: save %s: %w", c.ID, err)
	}
	return nil
}

func saveTx(tx *gorm.DB, c types.Conversation) error {
	row, msgs, tags := rowsFor(c)
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "model", "created_ms", "last_modified"}),
	}).Create(&row).Error; err != nil {
		return err
	}
	if err := deleteChildren(tx, []string{c.ID}); err != nil {
		return err
	}
	if len(msgs) > 0 {
		if err := tx.CreateInBatches(msgs, 200).Error; err != nil {
			return err
		}
	}
	if len(tags) > 0 {
		if err := tx.Create(&tags).Error; err != nil {
			return err
		}
	}
	return nil
}

func deleteChildren(tx *gorm.DB, ids []string) error {
	for start := 0; start < len(ids); start += idChunk {
		part := ids[start:min(start+idChunk, len(ids))]
		if err := tx.Where("conversation_id IN ?", part).Delete(&messageRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id IN ?", part).Delete(&tagRow{}).Error; err != nil {
			return err
		}
	}
	return nil
}

func deleteConversations(tx *gorm.DB, ids []string) error {
	if err := deleteChildren(tx, ids); err != nil {
		return err
	}
	for start := 0; start < len(ids); start += idChunk {
		part := ids[start:min(start+idChunk, len(ids))]
		if err := tx.Where("id IN ?", part).Delete(&conversationRow{}).Error; err != nil {
			return err
		}
	}
	return nil
}

// Get returns the record, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*types.Conversation, error) {
	var rows []conversationRow
	db := s.db.WithContext(ctx)
	if err := db.Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		observe("get", err)
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	if len(rows) == 0 {
		observe("get", nil)
		return nil, nil
	}
	out, err := hydrate(db, rows)
	observe("get", err)
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// Delete removes the record; deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteConversations(tx, []string{id})
	})
	observe("delete", err)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return nil
}

// Count returns the number of records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&conversationRow{}).Count(&n).Error
	observe("count", err)
	return int(n), err
}

// ListAll returns every record, capped at limit when limit > 0.
func (s *Store) ListAll(ctx context.Context, limit int) ([]types.Conversation, error) {
	q := ordered(s.db.WithContext(ctx))
	if limit > 0 {
		q = q.Limit(limit)
	}
	out, err := s.find(q)
	observe("list", err)
	return out, err
}

// ClearAll empties records and settings in one transaction.
func (s *Store) ClearAll(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(clearTx)
	observe("clear", err)
	if err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

func clearTx(tx *gorm.DB) error {
	for _, m := range allModels() {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
			return err
		}
	}
	return nil
}

func ordered(q *gorm.DB) *gorm.DB {
	return q.Order("last_modified DESC").Order("id DESC")
}

func (s *Store) find(q *gorm.DB) ([]types.Conversation, error) {
	var rows []conversationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	return hydrate(q.Session(&gorm.Session{NewDB: true}), rows)
}

// hydrate attaches messages and tags to rows, keeping row order.
func hydrate(db *gorm.DB, rows []conversationRow) ([]types.Conversation, error) {
	out := make([]types.Conversation, len(rows))
	idx := make(map[string]int, len(rows))
	ids := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.toType()
		idx[r.ID] = i
		ids[i] = r.ID
	}
	for start := 0; start < len(ids); start += idChunk {
		part := ids[start:min(start+idChunk, len(ids))]
		var msgs []messageRow
		if err := db.Where("conversation_id IN ?", part).Order("conversation_id").Order("seq").Find(&msgs).Error; err != nil {
			return nil, fmt.Errorf("store: load messages: %w", err)
		}
		for _, m := range msgs {
			i := idx[m.ConversationID]
			out[i].Messages = append(out[i].Messages, m.toType())
		}
		var tags []tagRow
		if err := db.Where("conversation_id IN ?", part).Order("conversation_id").Order("seq").Find(&tags).Error; err != nil {
			return nil, fmt.Errorf("store: load tags: %w", err)
		}
		for _, t := range tags {
			i := idx[t.ConversationID]
			out[i].Tags = append(out[i].Tags, t.Tag)
		}
	}
	return out, nil
}
