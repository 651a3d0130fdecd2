package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is one stream event persisted from the node websocket. Sequence
// carries the node's event ordering and is unique, so replays after a cursor
// reset de-duplicate instead of double counting.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	EmittedAt  time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// PositionSnapshot is the indexer's running view of one account/asset pair,
// folded from the event stream. Debt rows use the stable symbol as asset.
type PositionSnapshot struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Account    string    `gorm:"size:64;uniqueIndex:idx_position_account_asset"`
	Asset      string    `gorm:"size:16;uniqueIndex:idx_position_account_asset"`
	Collateral string    `gorm:"size:96"`
	Debt       string    `gorm:"size:96"`
	UpdatedAt  time.Time
}

// Cursor stores the highest applied event sequence so a restart resumes the
// websocket subscription without gaps.
type Cursor struct {
	ID           uint   `gorm:"primaryKey"`
	LastSequence uint64 `gorm:"not null"`
	UpdatedAt    time.Time
}

// Anomaly records a divergence found by the reconciliation pass.
type Anomaly struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind      string    `gorm:"size:32;index"`
	Account   string    `gorm:"size:64;index"`
	Asset     string    `gorm:"size:16"`
	Expected  string    `gorm:"size:96"`
	Observed  string    `gorm:"size:96"`
	Details   string    `gorm:"size:512"`
	CreatedAt time.Time
}

// Migrate applies the indexer schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &PositionSnapshot{}, &Cursor{}, &Anomaly{})
}
