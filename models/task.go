package models

import (
	"time"

	"gorm.io/gorm"
)

// TaskType distinguishes timed video watches from one-shot social actions.
type TaskType string

const (
	TaskTypeVideoWatch   TaskType = "video_watch"
	TaskTypeSocialAction TaskType = "social_action"
)

// ActionKind is the engagement a social-action task asks for.
type ActionKind string

const (
	ActionLike    ActionKind = "like"
	ActionShare   ActionKind = "share"
	ActionComment ActionKind = "comment"
	ActionFollow  ActionKind = "follow"
)

type TaskStatus string

const (
	TaskStatusActive    TaskStatus = "active"
	TaskStatusExhausted TaskStatus = "exhausted"
	TaskStatusRemoved   TaskStatus = "removed"
)

// Task is a funded promoted unit of work (watch a video, or like/share/
// comment/follow). Funding is debited from the owner atomically with task
// creation; remaining budget only moves through the registry's conditional
// decrement, so it can never be double-spent by concurrent verifications.
type Task struct {
	ID             string     `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerAccountID string     `gorm:"type:uuid;not null;index" json:"owner_account_id"`
	Type           TaskType   `gorm:"type:varchar(16);not null;index:idx_task_feed" json:"type"`
	Platform       string     `gorm:"type:varchar(16);not null;index:idx_task_feed" json:"platform"`
	TargetURL      string     `gorm:"type:text;not null" json:"target_url"`

	RewardAmount    int64 `gorm:"not null" json:"reward_amount"`     // points per verified completion
	FundedBudget    int64 `gorm:"not null" json:"funded_budget"`
	RemainingBudget int64 `gorm:"not null" json:"remaining_budget"`

	// Video tasks: seconds the viewer must watch. Social tasks: the action kind.
	RequiredSeconds int        `json:"required_seconds,omitempty"`
	Action          ActionKind `gorm:"type:varchar(16)" json:"action,omitempty"`

	Promoted     bool       `gorm:"not null;default:false;index" json:"promoted"`
	Status       TaskStatus `gorm:"type:varchar(16);not null;default:'active';index:idx_task_feed" json:"status"`
	LastServedAt time.Time  `gorm:"index" json:"-"` // least-recently-served feed rotation
	ExhaustedAt  *time.Time `json:"exhausted_at,omitempty"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
