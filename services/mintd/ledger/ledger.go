// Package ledger persists mint attempts. Rows are inserted once and never
// updated or deleted; the database enforces this with triggers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Attempt statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var (
	// ErrDuplicate reports a reused attempt id or recipient address.
	ErrDuplicate = errors.New("ledger: duplicate attempt")
	// ErrInvalid reports an attempt missing required fields.
	ErrInvalid = errors.New("ledger: invalid attempt")
)

// Attempt is one finalized mint attempt.
type Attempt struct {
	Seq                 int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	AttemptID           string    `gorm:"column:attempt_id;size:36;uniqueIndex;not null"`
	Timestamp           time.Time `gorm:"column:timestamp;not null;index"`
	Network             string    `gorm:"column:network;size:16;not null;index"`
	RecipientAddress    string    `gorm:"column:recipient_address;size:42;uniqueIndex;not null"`
	RecipientPrivateKey string    `gorm:"column:recipient_private_key;not null"`
	TxIdentifier        *string   `gorm:"column:tx_identifier"`
	Status              string    `gorm:"column:status;size:16;not null"`
	GasUsed             *int64    `gorm:"column:gas_used"`
	Error               *string   `gorm:"column:error"`
}

// TableName pins the table name.
func (Attempt) TableName() string { return "mint_attempts" }

// Counts summarises the ledger.
type Counts struct {
	Total   int64
	Success int64
	Failed  int64
}

// Config selects the backing database.
type Config struct {
	Driver string
	DSN    string
}

// Store is the gorm backed ledger.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			dsn = "nft_records.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("ledger: unsupported driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	return New(db)
}

// New wraps an open connection, migrating the schema and installing the
// append-only guards.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: db required")
	}
	if err := db.AutoMigrate(&Attempt{}); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	for _, stmt := range guardStatements(db.Dialector.Name()) {
		if err := db.Exec(stmt).Error; err != nil {
			return nil, fmt.Errorf("ledger: install guard: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func guardStatements(dialect string) []string {
	switch dialect {
	case "sqlite":
		return []string{
			`CREATE TRIGGER IF NOT EXISTS mint_attempts_no_update BEFORE UPDATE ON mint_attempts BEGIN SELECT RAISE(ABORT, 'mint_attempts is append-only'); END`,
			`CREATE TRIGGER IF NOT EXISTS mint_attempts_no_delete BEFORE DELETE ON mint_attempts BEGIN SELECT RAISE(ABORT, 'mint_attempts is append-only'); END`,
		}
	case "postgres":
		return []string{
			`CREATE OR REPLACE FUNCTION mint_attempts_append_only() RETURNS trigger AS $$ BEGIN RAISE EXCEPTION 'mint_attempts is append-only'; END; $$ LANGUAGE plpgsql`,
			`DROP TRIGGER IF EXISTS mint_attempts_append_only ON mint_attempts`,
			`CREATE TRIGGER mint_attempts_append_only BEFORE UPDATE OR DELETE ON mint_attempts FOR EACH ROW EXECUTE FUNCTION mint_attempts_append_only()`,
		}
	default:
		return nil
	}
}

// Append inserts a finalized attempt.
func (s *Store) Append(ctx context.Context, attempt Attempt) error {
	if err := validate(attempt); err != nil {
		return err
	}
	attempt.Seq = 0
	attempt.Timestamp = attempt.Timestamp.UTC()
	if err := s.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, attempt.AttemptID)
		}
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

func validate(a Attempt) error {
	switch {
	case strings.TrimSpace(a.AttemptID) == "":
		return fmt.Errorf("%w: attempt id required", ErrInvalid)
	case strings.TrimSpace(a.RecipientAddress) == "":
		return fmt.Errorf("%w: recipient address required", ErrInvalid)
	case strings.TrimSpace(a.Network) == "":
		return fmt.Errorf("%w: network required", ErrInvalid)
	case a.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp required", ErrInvalid)
	case a.Status != StatusSuccess && a.Status != StatusFailed:
		return fmt.Errorf("%w: status %q", ErrInvalid, a.Status)
	}
	return nil
}

// All returns every attempt in insertion order.
func (s *Store) All(ctx context.Context) ([]Attempt, error) {
	var rows []Attempt
	if err := s.db.WithContext(ctx).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	return rows, nil
}

// Latest returns the most recent attempt or nil when the ledger is empty.
func (s *Store) Latest(ctx context.Context) (*Attempt, error) {
	var row Attempt
	err := s.db.WithContext(ctx).Order("seq DESC").Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: latest: %w", err)
	}
	return &row, nil
}

// CountSince counts attempts on network at or after from.
func (s *Store) CountSince(ctx context.Context, network string, from time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Attempt{}).
		Where("network = ? AND timestamp >= ?", network, from.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return count, nil
}

// Counts returns lifetime totals.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var out Counts
	if err := s.db.WithContext(ctx).Model(&Attempt{}).Count(&out.Total).Error; err != nil {
		return Counts{}, fmt.Errorf("ledger: count: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&Attempt{}).Where("status = ?", StatusSuccess).Count(&out.Success).Error; err != nil {
		return Counts{}, fmt.Errorf("ledger: count: %w", err)
	}
	out.Failed = out.Total - out.Success
	return out, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
