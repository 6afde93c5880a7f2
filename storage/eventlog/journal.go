// Package eventlog keeps a durable, queryable journal of staking events.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"polsstake/core/events"
	"polsstake/core/types"
	"polsstake/observability/metrics"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultLimit     = 100
	maxLimit         = 1000
	defaultFileFlags = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL"
)

var (
	ErrDSNRequired       = errors.New("eventlog: dsn must be configured")
	ErrUnsupportedDriver = errors.New("eventlog: unsupported driver")
)

// Record is a persisted event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"index;not null"`
	Account    string    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// TableName pins the table name independent of the struct name.
func (Record) TableName() string { return "stake_events" }

// Event decodes the record back into its attribute form.
func (r Record) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if strings.TrimSpace(r.Attributes) != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("eventlog: decode attributes: %w", err)
		}
	}
	return &types.Event{Type: r.Type, Attributes: attrs}, nil
}

// Query filters journal reads. Zero values match everything.
type Query struct {
	Account string
	Type    string
	// After returns records with a sequence strictly greater than the value.
	After uint64
	Limit int
}

// Journal appends events to a SQL database through gorm.
type Journal struct {
	db     *gorm.DB
	logger *log.Logger

	mu   sync.Mutex
	next uint64
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrDSNRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("eventlog: resolve path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFileFlags), nil
}

// Open connects to driver using dsn and migrates the schema.
func Open(driver, dsn string) (*Journal, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("eventlog: database handle required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}
	var last struct{ Max uint64 }
	if err := db.Model(&Record{}).Select("COALESCE(MAX(sequence), 0) AS max").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("eventlog: load sequence: %w", err)
	}
	return &Journal{db: db, logger: log.Default(), next: last.Max + 1}, nil
}

// SetLogger overrides the logger used to report failed emissions.
func (j *Journal) SetLogger(l *log.Logger) {
	if j == nil || l == nil {
		return
	}
	j.logger = l
}

// Emit implements events.Emitter. Persistence failures are logged because
// emitters cannot fail the operation that produced the event.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	if _, err := j.Append(context.Background(), events.ToTypes(evt)); err != nil {
		metrics.Events().RecordJournalFailure()
		j.logger.Printf("eventlog: append %s: %v", evt.EventType(), err)
	}
}

// Append persists evt and returns the stored record.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (Record, error) {
	if evt == nil {
		return Record{}, errors.New("eventlog: event required")
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return Record{}, fmt.Errorf("eventlog: encode attributes: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	record := Record{
		ID:         uuid.New(),
		Sequence:   j.next,
		Type:       evt.Type,
		Account:    strings.ToLower(evt.Attribute("account")),
		Attributes: string(attrs),
		CreatedAt:  time.Now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Record{}, fmt.Errorf("eventlog: insert: %w", err)
	}
	j.next++
	return record, nil
}

// List returns records matching q in sequence order.
func (j *Journal) List(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	tx := j.db.WithContext(ctx).Model(&Record{}).Where("sequence > ?", q.After)
	if account := strings.ToLower(strings.TrimSpace(q.Account)); account != "" {
		tx = tx.Where("account = ?", account)
	}
	if typ := strings.TrimSpace(q.Type); typ != "" {
		tx = tx.Where("type = ?", typ)
	}
	var records []Record
	if err := tx.Order("sequence ASC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	return records, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
