package models

import "time"

// EntryKind is the business reason for a balance change.
type EntryKind string

const (
	EntrySignupBonus       EntryKind = "signup_bonus"
	EntryDailyLogin        EntryKind = "daily_login"
	EntryTaskReward        EntryKind = "task_reward"
	EntryTaskFundingDebit  EntryKind = "task_funding_debit"
	EntryRedeem            EntryKind = "redeem"
	EntryTransferIn        EntryKind = "transfer_in"
	EntryTransferOut       EntryKind = "transfer_out"
	EntryAdminAdd          EntryKind = "admin_add"
	EntryAdminDeduct       EntryKind = "admin_deduct"
	EntryLeaderboardReward EntryKind = "leaderboard_reward"
)

// LedgerEntry is one immutable signed balance change. Rows are only ever
// inserted, never updated or deleted. The unique index on
// (account_id, kind, idempotency_key) makes retried operations no-ops.
type LedgerEntry struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID      string    `gorm:"type:uuid;not null;index;uniqueIndex:idx_entry_idem" json:"account_id"`
	Amount         int64     `gorm:"not null" json:"amount"` // positive=credit, negative=debit
	Kind           EntryKind `gorm:"type:varchar(32);not null;uniqueIndex:idx_entry_idem" json:"kind"`
	IdempotencyKey string    `gorm:"not null;uniqueIndex:idx_entry_idem" json:"-"`

	// Resulting balance after this entry committed; denormalized for history views.
	BalanceAfter int64 `gorm:"not null" json:"balance_after"`

	TaskID         *string   `gorm:"type:uuid;index" json:"task_id,omitempty"`
	CounterpartyID *string   `gorm:"type:uuid" json:"counterparty_id,omitempty"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}
