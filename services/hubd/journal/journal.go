package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"randhub/core/events"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultLimit bounds Recent when the caller passes a non-positive limit.
const DefaultLimit = 100

// Entry is a persisted hub event.
type Entry struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Type       string    `gorm:"index;not null" json:"type"`
	RequestID  string    `gorm:"index" json:"requestId,omitempty"`
	ChainID    uint32    `gorm:"index" json:"chainId,omitempty"`
	Attributes string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// TableName pins the table name across drivers.
func (Entry) TableName() string { return "hub_events" }

// Attrs decodes the stored attribute map.
func (e Entry) Attrs() map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(e.Attributes) == "" {
		return out
	}
	_ = json.Unmarshal([]byte(e.Attributes), &out)
	return out
}

// MarshalJSON inlines the decoded attributes.
func (e Entry) MarshalJSON() ([]byte, error) {
	type alias Entry
	return json.Marshal(struct {
		alias
		Attributes map[string]string `json:"attributes"`
	}{alias: alias(e), Attributes: e.Attrs()})
}

// Journal appends hub events to a SQL table so operators can audit request
// lifecycles after the fact.
type Journal struct {
	db     *gorm.DB
	log    *slog.Logger
	nowFn  func() time.Time
	closer func() error
}

// Option customises a Journal.
type Option func(*Journal)

// WithLogger overrides the logger used for write failures.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.log = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		if now != nil {
			j.nowFn = now
		}
	}
}

// Open connects to the configured database and migrates the journal table.
func Open(driver, dsn string, opts ...Option) (*Journal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("journal: dsn required")
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	j, err := New(db, opts...)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		j.closer = sqlDB.Close
	}
	return j, nil
}

// New wraps an existing gorm handle and runs migrations.
func New(db *gorm.DB, opts ...Option) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: db required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	j := &Journal{db: db, log: slog.Default(), nowFn: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(j)
		}
	}
	j.log = j.log.With(slog.String("component", "journal"))
	return j, nil
}

// Emit implements events.Emitter. Write failures are logged and dropped so
// the hub never blocks on the journal.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	if _, err := j.Append(context.Background(), evt); err != nil {
		j.log.Warn("journal append failed", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Append persists a single event and returns the stored entry.
func (j *Journal) Append(ctx context.Context, evt events.Event) (Entry, error) {
	payload := evt.Event()
	if payload == nil {
		return Entry{}, errors.New("journal: empty event")
	}
	attrs := payload.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: encode attributes: %w", err)
	}
	entry := Entry{
		ID:         uuid.NewString(),
		Type:       payload.Type,
		RequestID:  attrs["requestId"],
		Attributes: string(encoded),
		CreatedAt:  j.nowFn().UTC(),
	}
	if raw := attrs["chainId"]; raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
			entry.ChainID = uint32(id)
		}
	}
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return Entry{}, fmt.Errorf("journal: insert: %w", err)
	}
	return entry, nil
}

// Query filters Recent.
type Query struct {
	Type      string
	RequestID string
	Limit     int
}

// Recent returns the newest entries first.
func (j *Journal) Recent(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 || limit > 10*DefaultLimit {
		limit = DefaultLimit
	}
	tx := j.db.WithContext(ctx).Model(&Entry{})
	if eventType := strings.TrimSpace(q.Type); eventType != "" {
		tx = tx.Where("type = ?", eventType)
	}
	if requestID := strings.TrimSpace(q.RequestID); requestID != "" {
		tx = tx.Where("request_id = ?", requestID)
	}
	var entries []Entry
	if err := tx.Order("created_at DESC").Order("id").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	return entries, nil
}

// Close releases the underlying connection pool when Open created it.
func (j *Journal) Close() error {
	if j == nil || j.closer == nil {
		return nil
	}
	return j.closer()
}
