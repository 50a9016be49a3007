package services

import (
	"errors"
	"strings"
	"time"

	"points-reward-system/models"
	"points-reward-system/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Pricing. Video watches cost BaseWatchRate points per started 30-second
// block; social actions have fixed per-completion rewards.
const (
	BaseWatchRate     = 2
	WatchRateBlockSec = 30
)

var ActionRewards = map[models.ActionKind]int64{
	models.ActionLike:    5,
	models.ActionShare:   10,
	models.ActionComment: 15,
	models.ActionFollow:  20,
}

// WatchReward is the per-completion reward for a video of the given length.
func WatchReward(durationSeconds int) int64 {
	blocks := (durationSeconds + WatchRateBlockSec - 1) / WatchRateBlockSec
	return int64(BaseWatchRate * blocks)
}

// TaskService is the task registry: it owns Task rows, their funding debits
// and the budget accounting that gates completions.
type TaskService struct {
	DB     *gorm.DB
	Ledger *LedgerService
}

func NewTaskService(db *gorm.DB, ledger *LedgerService) *TaskService {
	return &TaskService{DB: db, Ledger: ledger}
}

func (s *TaskService) validateTarget(rawURL, platform string) error {
	if !utils.ValidTargetURL(rawURL) {
		return ErrInvalidTask
	}
	if !utils.SupportedPlatform(platform) {
		return ErrInvalidTask
	}
	// The URL must actually belong to the claimed platform; a youtube task
	// pointing at a tiktok link would misroute viewers.
	if utils.DetectPlatform(rawURL) != strings.ToLower(platform) {
		return ErrInvalidTask
	}
	return nil
}

// CreateVideoTask funds and registers a video-watch task. The funding debit
// and the task insert share one transaction, so either both happen or neither.
func (s *TaskService) CreateVideoTask(ownerID, rawURL, platform string, durationSeconds, watches int) (*models.Task, int64, error) {
	if durationSeconds <= 0 || watches <= 0 {
		return nil, 0, ErrInvalidTask
	}
	if err := s.validateTarget(rawURL, platform); err != nil {
		return nil, 0, err
	}

	reward := WatchReward(durationSeconds)
	budget := reward * int64(watches)
	task := models.Task{
		ID:              uuid.NewString(),
		OwnerAccountID:  ownerID,
		Type:            models.TaskTypeVideoWatch,
		Platform:        platform,
		TargetURL:       rawURL,
		RewardAmount:    reward,
		FundedBudget:    budget,
		RemainingBudget: budget,
		RequiredSeconds: durationSeconds,
		Status:          models.TaskStatusActive,
	}
	newBalance, err := s.fundAndCreate(&task)
	if err != nil {
		return nil, 0, err
	}
	return &task, newBalance, nil
}

// CreateSocialTask funds and registers a social-action task (like, share,
// comment or follow) for the requested number of completions.
func (s *TaskService) CreateSocialTask(ownerID, rawURL, platform string, action models.ActionKind, completions int) (*models.Task, int64, error) {
	reward, ok := ActionRewards[action]
	if !ok || completions <= 0 {
		return nil, 0, ErrInvalidTask
	}
	if err := s.validateTarget(rawURL, platform); err != nil {
		return nil, 0, err
	}

	budget := reward * int64(completions)
	task := models.Task{
		ID:              uuid.NewString(),
		OwnerAccountID:  ownerID,
		Type:            models.TaskTypeSocialAction,
		Platform:        platform,
		TargetURL:       rawURL,
		RewardAmount:    reward,
		FundedBudget:    budget,
		RemainingBudget: budget,
		Action:          action,
		Status:          models.TaskStatusActive,
	}
	newBalance, err := s.fundAndCreate(&task)
	if err != nil {
		return nil, 0, err
	}
	return &task, newBalance, nil
}

func (s *TaskService) fundAndCreate(task *models.Task) (int64, error) {
	var res *entryResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var txErr error
		res, txErr = s.Ledger.applyTx(tx, task.OwnerAccountID, -task.FundedBudget,
			models.EntryTaskFundingDebit, "fund:"+task.ID, &task.ID, nil)
		if txErr != nil {
			return txErr
		}
		return tx.Create(task).Error
	})
	if err != nil {
		return 0, err
	}
	s.Ledger.notify(res)
	utils.Sugar.Infow("task funded", "task_id", task.ID, "owner", task.OwnerAccountID,
		"budget", task.FundedBudget, "reward", task.RewardAmount)
	return res.NewBalance, nil
}

// ByID loads a task regardless of status.
func (s *TaskService) ByID(taskID string) (*models.Task, error) {
	var task models.Task
	if err := s.DB.First(&task, "id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// SelectActiveTask returns the least-recently-served fundable task matching
// the filters, excluding the caller's own tasks, and bumps its served mark.
// Least-recently-served (never pure random) keeps exposure fair across
// funders and stops fresh tasks from being starved.
func (s *TaskService) SelectActiveTask(taskType models.TaskType, platform, excludingOwner string) (*models.Task, error) {
	var task models.Task
	err := s.DB.Where("type = ? AND platform = ? AND status = ?", taskType, platform, models.TaskStatusActive).
		Where("remaining_budget >= reward_amount").
		Where("owner_account_id <> ?", excludingOwner).
		Order("last_served_at ASC").
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.DB.Model(&models.Task{}).Where("id = ?", task.ID).
		Update("last_served_at", time.Now()).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// ListActive returns the feed for one type/platform, own tasks excluded.
func (s *TaskService) ListActive(taskType models.TaskType, platform, excludingOwner string) ([]models.Task, error) {
	var tasks []models.Task
	q := s.DB.Where("type = ? AND status = ?", taskType, models.TaskStatusActive).
		Where("remaining_budget >= reward_amount").
		Where("owner_account_id <> ?", excludingOwner)
	if platform != "" {
		q = q.Where("platform = ?", platform)
	}
	err := q.Order("promoted DESC, last_served_at ASC").Find(&tasks).Error
	return tasks, err
}

// ListByOwner returns everything an owner has funded, newest first.
func (s *TaskService) ListByOwner(ownerID string) ([]models.Task, error) {
	var tasks []models.Task
	err := s.DB.Where("owner_account_id = ?", ownerID).
		Order("created_at DESC").Find(&tasks).Error
	return tasks, err
}

// PromotedCounts feeds the front page counters: active promoted tasks per
// type and platform.
func (s *TaskService) PromotedCounts() (map[string]int64, error) {
	type row struct {
		Type     models.TaskType
		Platform string
		N        int64
	}
	var rows []row
	err := s.DB.Model(&models.Task{}).
		Select("type, platform, COUNT(*) AS n").
		Where("status = ? AND promoted = ?", models.TaskStatusActive, true).
		Group("type, platform").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[string(r.Type)+":"+r.Platform] = r.N
	}
	return counts, nil
}

// SetPromoted flips the promoted flag (admin, or owner via SelfPromote).
func (s *TaskService) SetPromoted(taskID string, promoted bool) error {
	res := s.DB.Model(&models.Task{}).Where("id = ?", taskID).Update("promoted", promoted)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// SelfPromote lets an owner promote their own task.
func (s *TaskService) SelfPromote(ownerID, taskID string) error {
	task, err := s.ByID(taskID)
	if err != nil {
		return err
	}
	if task.OwnerAccountID != ownerID {
		return ErrTaskNotFound
	}
	return s.SetPromoted(taskID, true)
}

// decrementBudgetTx atomically takes one reward's worth of budget, inside
// the caller's transaction. The conditional UPDATE is what guarantees two
// concurrent verifications can't both spend the last increment: only one
// of them affects a row, the other gets ErrTaskExhausted.
func (s *TaskService) decrementBudgetTx(tx *gorm.DB, taskID string, reward int64) error {
	res := tx.Model(&models.Task{}).
		Where("id = ? AND status = ? AND remaining_budget >= ?", taskID, models.TaskStatusActive, reward).
		Update("remaining_budget", gorm.Expr("remaining_budget - ?", reward))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTaskExhausted
	}
	return s.markExhaustedTx(tx, taskID, reward)
}

// markExhaustedTx transitions to exhausted once the remaining budget can no
// longer cover a reward. Idempotent; a no-op when already exhausted.
func (s *TaskService) markExhaustedTx(tx *gorm.DB, taskID string, reward int64) error {
	now := time.Now()
	return tx.Model(&models.Task{}).
		Where("id = ? AND status = ? AND remaining_budget < ?", taskID, models.TaskStatusActive, reward).
		Updates(map[string]interface{}{
			"status":       models.TaskStatusExhausted,
			"exhausted_at": now,
		}).Error
}

// MarkExhausted is the registry's public, idempotent exhaustion check.
func (s *TaskService) MarkExhausted(taskID string) error {
	task, err := s.ByID(taskID)
	if err != nil {
		return err
	}
	return s.markExhaustedTx(s.DB, taskID, task.RewardAmount)
}

// Remove soft-removes a task (admin action, or retention sweep).
func (s *TaskService) Remove(taskID string) error {
	return s.DB.Model(&models.Task{}).Where("id = ?", taskID).
		Update("status", models.TaskStatusRemoved).Error
}
