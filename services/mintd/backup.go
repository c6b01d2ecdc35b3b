package mintd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mintbot/services/mintd/ledger"
	"mintbot/services/mintd/storage"
)

// Backup triggers.
const (
	TriggerThreshold = "threshold"
	TriggerDaily     = "daily"
	TriggerShutdown  = "shutdown"
)

// ErrBackupDisabled is returned when no object store is configured.
var ErrBackupDisabled = errors.New("mintd: backups disabled")

// LedgerReader is the read side of the ledger used for exports.
type LedgerReader interface {
	All(ctx context.Context) ([]ledger.Attempt, error)
}

// BackupManager counts successful mints and exports the full ledger when a
// trigger fires. Failures are returned to the caller but never retried here;
// the next trigger exports everything again.
type BackupManager struct {
	ledger  LedgerReader
	store   storage.Store
	prefix  string
	formats []string
	every   int
	timeout time.Duration
	metrics *Metrics
	logger  *slog.Logger

	mu    sync.Mutex
	since int
}

// BackupConfig configures a BackupManager.
type BackupConfig struct {
	Prefix  string
	Formats []string
	Every   int
	Timeout time.Duration
}

// NewBackupManager wires the exporter. store may be nil to disable uploads.
func NewBackupManager(reader LedgerReader, store storage.Store, cfg BackupConfig, metrics *Metrics, logger *slog.Logger) *BackupManager {
	if cfg.Every <= 0 {
		cfg.Every = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = []string{ledger.FormatCSV}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BackupManager{
		ledger:  reader,
		store:   store,
		prefix:  cfg.Prefix,
		formats: cfg.Formats,
		every:   cfg.Every,
		timeout: cfg.Timeout,
		metrics: metrics,
		logger:  logger,
	}
}

// RecordSuccess counts a successful mint and reports whether the threshold was
// reached. The counter resets whenever it reports true.
func (b *BackupManager) RecordSuccess() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.since++
	if b.since >= b.every {
		b.since = 0
		return true
	}
	return false
}

// SinceLast returns successful mints since the last threshold backup.
func (b *BackupManager) SinceLast() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.since
}

// Export uploads the full ledger for a threshold or shutdown trigger.
func (b *BackupManager) Export(ctx context.Context, trigger string, at time.Time) ([]string, error) {
	return b.export(ctx, trigger, func(ext string) string { return storage.BackupKey(b.prefix, at, ext) })
}

// ExportDaily uploads the full ledger under the report key for day.
func (b *BackupManager) ExportDaily(ctx context.Context, day time.Time) ([]string, error) {
	return b.export(ctx, TriggerDaily, func(ext string) string { return storage.ReportKey(day, ext) })
}

func (b *BackupManager) export(ctx context.Context, trigger string, keyFor func(ext string) string) ([]string, error) {
	if b.store == nil {
		return nil, ErrBackupDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	attempts, err := b.ledger.All(ctx)
	if err != nil {
		err = fmt.Errorf("read ledger: %w", err)
		b.metrics.RecordBackup(trigger, err)
		return nil, err
	}
	var (
		keys []string
		errs []error
	)
	for _, format := range b.formats {
		payload, contentType, err := ledger.Encode(format, attempts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		key := keyFor(format)
		if err := b.store.PutBackup(ctx, key, payload, contentType); err != nil {
			errs = append(errs, err)
			continue
		}
		keys = append(keys, key)
	}
	err = errors.Join(errs...)
	b.metrics.RecordBackup(trigger, err)
	if err == nil {
		b.logger.Info("mintd backup uploaded",
			slog.String("trigger", trigger),
			slog.Int("records", len(attempts)),
			slog.Any("keys", keys))
	}
	return keys, err
}

// SaveUnrecorded uploads a single attempt the ledger could not store so its
// recipient key survives the halt.
func (b *BackupManager) SaveUnrecorded(ctx context.Context, attempt ledger.Attempt) (string, error) {
	if b.store == nil {
		return "", ErrBackupDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	payload, contentType, err := ledger.Encode(ledger.FormatCSV, []ledger.Attempt{attempt})
	if err != nil {
		return "", err
	}
	key := storage.UnrecordedKey(b.prefix, attempt.AttemptID, ledger.FormatCSV)
	if err := b.store.PutBackup(ctx, key, payload, contentType); err != nil {
		return "", err
	}
	return key, nil
}
