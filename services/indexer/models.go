package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is one committed event. Sequence preserves commit order.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	Escrow     string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// EscrowSummary is the latest known view of one escrow, folded from its
// events.
type EscrowSummary struct {
	Escrow      string `gorm:"size:64;primaryKey"`
	OrderID     uint64 `gorm:"index"`
	Status      string `gorm:"size:32;index"`
	Buyer       string `gorm:"size:64;index"`
	Seller      string `gorm:"size:64;index"`
	OrderAmount string `gorm:"size:80"`
	Deposit     string `gorm:"size:80"`
	ContentHash string `gorm:"size:64"`
	LastEvent   string `gorm:"size:64"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AutoMigrate creates or updates the indexer tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &EscrowSummary{})
}
