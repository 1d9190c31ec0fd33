// Package journal keeps an optional history of windows joining and leaving
// the relay. It is an audit trail only; the registry is never rebuilt from it.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/onkernel/window-relay/lib/protocol"
)

type Kind string

const (
	KindJoined Kind = "joined"
	KindLeft   Kind = "left"
)

// Entry is one lifecycle event.
type Entry struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	Kind         Kind      `gorm:"index" json:"kind"`
	WindowID     int64     `gorm:"index" json:"windowId"`
	ConnectionID string    `json:"connectionId"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	Width        float64   `json:"width"`
	Height       float64   `json:"height"`
	At           time.Time `gorm:"index" json:"at"`
}

// Journal records lifecycle events. Write failures are logged, never returned,
// so the relay keeps working when the journal is unhealthy.
type Journal interface {
	Joined(ctx context.Context, rec protocol.WindowRecord)
	Left(ctx context.Context, rec protocol.WindowRecord)
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}

type sqliteJournal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open creates (or reuses) a SQLite journal at path. ":memory:" works for tests.
func Open(path string, logger *slog.Logger) (Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &sqliteJournal{db: db, logger: logger, now: time.Now}, nil
}

func (j *sqliteJournal) Joined(ctx context.Context, rec protocol.WindowRecord) {
	j.write(ctx, KindJoined, rec)
}

func (j *sqliteJournal) Left(ctx context.Context, rec protocol.WindowRecord) {
	j.write(ctx, KindLeft, rec)
}

func (j *sqliteJournal) write(ctx context.Context, kind Kind, rec protocol.WindowRecord) {
	entry := Entry{
		Kind:         kind,
		WindowID:     rec.ID,
		ConnectionID: rec.ConnectionID,
		X:            rec.Shape.X,
		Y:            rec.Shape.Y,
		Width:        rec.Shape.Width,
		Height:       rec.Shape.Height,
		At:           j.now().UTC(),
	}
	if err := j.db.WithContext(context.WithoutCancel(ctx)).Create(&entry).Error; err != nil {
		j.logger.Error("[journal] failed to record event", "kind", kind, "id", rec.ID, "err", err)
	}
}

// Recent returns up to limit entries, newest first.
func (j *sqliteJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Entry
	if err := j.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	return out, nil
}

func (j *sqliteJournal) Ping(ctx context.Context) error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (j *sqliteJournal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type noop struct{}

// NewNoop returns a journal that records nothing.
func NewNoop() Journal { return noop{} }

func (noop) Joined(context.Context, protocol.WindowRecord) {}
func (noop) Left(context.Context, protocol.WindowRecord)   {}
func (noop) Recent(context.Context, int) ([]Entry, error)  { return []Entry{}, nil }
func (noop) Ping(context.Context) error                    { return nil }
func (noop) Close() error                                  { return nil }
