package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"filamint/core/events"
	"filamint/native/escrow"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Open connects to the indexer database. driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		if strings.TrimSpace(dsn) == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("postgres dsn required")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported indexer driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open indexer database: %w", err)
	}
	return db, nil
}

// Close releases the connection pool behind db.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("indexer database handle: %w", err)
	}
	return sqlDB.Close()
}

// Indexer persists committed events and maintains the escrow summary
// projection. It implements events.Emitter.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu  sync.Mutex
	seq uint64
}

// New migrates the schema and resumes the event sequence from the last
// stored record.
func New(db *gorm.DB, log *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate indexer: %w", err)
	}
	var last EventRecord
	err := db.Order("sequence DESC").Limit(1).Take(&last).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load event sequence: %w", err)
	}
	return &Indexer{db: db, logger: log, nowFn: time.Now, seq: last.Sequence}, nil
}

// Close closes the underlying database. Events emitted afterwards are
// logged as failures.
func (i *Indexer) Close() error {
	if i == nil {
		return nil
	}
	return Close(i.db)
}

// Emit implements events.Emitter. Failures are logged; the ledger state is
// authoritative and the projection can be rebuilt.
func (i *Indexer) Emit(evt events.Event) {
	if i == nil || evt == nil {
		return
	}
	if err := i.Record(context.Background(), evt); err != nil {
		i.logger.Error("index event failed",
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}

// Record stores evt and folds it into the escrow summary.
func (i *Indexer) Record(ctx context.Context, evt events.Event) error {
	payload := events.Payload(evt)
	if payload == nil {
		return nil
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.nowFn().UTC()
	record := EventRecord{
		ID:         uuid.New(),
		Sequence:   i.seq + 1,
		Type:       payload.Type,
		Escrow:     payload.Escrow(),
		Attributes: string(attrs),
		CreatedAt:  now,
	}
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if record.Escrow == "" {
			return nil
		}
		return upsertSummary(tx, payload.Type, payload.Attributes, now)
	})
	if err != nil {
		return err
	}
	i.seq = record.Sequence
	return nil
}

func upsertSummary(tx *gorm.DB, eventType string, attrs map[string]string, now time.Time) error {
	addr := attrs["escrow"]
	var summary EscrowSummary
	err := tx.Where("escrow = ?", addr).Take(&summary).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		summary = EscrowSummary{Escrow: addr, CreatedAt: now}
	case err != nil:
		return fmt.Errorf("load summary: %w", err)
	}

	if id, err := strconv.ParseUint(attrs["orderId"], 10, 64); err == nil {
		summary.OrderID = id
	}
	setIfPresent(&summary.Status, attrs["status"])
	setIfPresent(&summary.Buyer, attrs["buyer"])
	setIfPresent(&summary.Seller, attrs["seller"])
	setIfPresent(&summary.OrderAmount, attrs["orderAmount"])
	setIfPresent(&summary.Deposit, attrs["deposit"])
	setIfPresent(&summary.ContentHash, attrs["contentHash"])
	summary.LastEvent = eventType
	summary.UpdatedAt = now

	if err := tx.Save(&summary).Error; err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

func setIfPresent(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// ByStatus lists escrows in status, oldest order first.
func (i *Indexer) ByStatus(ctx context.Context, status escrow.Status, limit int) ([]EscrowSummary, error) {
	out := make([]EscrowSummary, 0)
	err := i.db.WithContext(ctx).
		Where("status = ?", status.String()).
		Order("order_id ASC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query escrows: %w", err)
	}
	return out, nil
}

// OpenJobs lists unclaimed orders a seller could take.
func (i *Indexer) OpenJobs(ctx context.Context, limit int) ([]EscrowSummary, error) {
	return i.ByStatus(ctx, escrow.StatusPending, limit)
}

// Summary returns the projection for one escrow.
func (i *Indexer) Summary(ctx context.Context, addr string) (*EscrowSummary, bool, error) {
	var summary EscrowSummary
	err := i.db.WithContext(ctx).Where("escrow = ?", addr).Take(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query summary: %w", err)
	}
	return &summary, true, nil
}

// History returns the events recorded for one escrow in commit order.
func (i *Indexer) History(ctx context.Context, addr string, limit int) ([]EventRecord, error) {
	out := make([]EventRecord, 0)
	err := i.db.WithContext(ctx).
		Where("escrow = ?", addr).
		Order("sequence ASC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return out, nil
}
