package models

import "time"

// AttemptState is the verification lifecycle of one user attempting one task.
// started → pending → verified | rejected. Terminal states are final.
type AttemptState string

const (
	AttemptStarted  AttemptState = "started"
	AttemptPending  AttemptState = "pending"
	AttemptVerified AttemptState = "verified"
	AttemptRejected AttemptState = "rejected"
)

// CompletionAttempt records one (account, task) relationship.
//
// The unique index over (account_id, task_id, open) enforces at most one
// non-rejected attempt per pair at insert time, which closes the double-start
// race without a read-then-write window. Open is set on insert and cleared
// (NULLed) when the attempt is rejected, so a rejected attempt frees the
// slot for a re-attempt while started/pending/verified keep it occupied.
type CompletionAttempt struct {
	ID        string       `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID string       `gorm:"type:uuid;not null;uniqueIndex:idx_attempt_once" json:"account_id"`
	TaskID    string       `gorm:"type:uuid;not null;uniqueIndex:idx_attempt_once" json:"task_id"`
	State     AttemptState `gorm:"type:varchar(16);not null;index" json:"state"`
	Open      *bool        `gorm:"uniqueIndex:idx_attempt_once" json:"-"`

	StartedAt time.Time `gorm:"not null" json:"started_at"`
	Deadline  time.Time `gorm:"not null;index" json:"deadline"`

	// Evidence. Client-reported elapsed time is recorded but never trusted on
	// its own; verification caps it at the server-observed elapsed time.
	// ConfirmedAt is the server clock when the action confirmation arrived;
	// qualification compares it against the deadline, not the verify time.
	ElapsedSeconds  int        `gorm:"not null;default:0" json:"elapsed_seconds"`
	ActionConfirmed bool       `gorm:"not null;default:false" json:"action_confirmed"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`

	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
}
