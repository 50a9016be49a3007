package models

import (
	"time"

	"gorm.io/gorm"
)

// Account is a user's point-balance holder.
// Balance is owned exclusively by the ledger service: it changes only inside
// a ledger transaction, in the same commit as the LedgerEntry row, so the
// invariant balance == sum(entries) holds at every point in time.
type Account struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // gateway identity
	Username       string `gorm:"uniqueIndex;not null" json:"username"`
	Balance        int64  `gorm:"not null;default:0" json:"balance"`
	Version        int64  `gorm:"not null;default:0" json:"-"` // bumped on every balance write

	// Daily login bonus bookkeeping (calendar view on the client).
	LastDailyClaim *time.Time `json:"last_daily_claim,omitempty"`

	Disabled  bool      `gorm:"not null;default:false" json:"disabled"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Accounts are never hard-deleted; soft-disable keeps ledger history intact.
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
