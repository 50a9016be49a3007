package services

import (
	"errors"
	"time"

	"points-reward-system/models"
	"points-reward-system/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// GraceFactor stretches a watch task's required duration into the
	// verification deadline: required × 1.5 of wall-clock time to finish.
	GraceFactor = 1.5

	// DefaultActionWindow bounds how long a social action may take between
	// start and confirmation.
	DefaultActionWindow = 10 * time.Minute
)

// VerifierService owns the CompletionAttempt state machine:
// started → pending → verified | rejected. Only the ledger applies the
// resulting balance change; only the registry moves the task budget.
type VerifierService struct {
	DB           *gorm.DB
	Ledger       *LedgerService
	Tasks        *TaskService
	ActionWindow time.Duration
}

func NewVerifierService(db *gorm.DB, ledger *LedgerService, tasks *TaskService) *VerifierService {
	return &VerifierService{DB: db, Ledger: ledger, Tasks: tasks, ActionWindow: DefaultActionWindow}
}

// Start opens an attempt for (account, task). The unique index on open
// attempts rejects a double start at insert time, so two racing starts can
// never both succeed.
func (s *VerifierService) Start(accountID, taskID string) (*models.CompletionAttempt, error) {
	task, err := s.Tasks.ByID(taskID)
	if err != nil {
		return nil, err
	}
	if task.OwnerAccountID == accountID {
		return nil, ErrSelfDealing
	}
	if task.Status != models.TaskStatusActive {
		return nil, ErrTaskExhausted
	}

	now := time.Now()
	deadline := now.Add(s.ActionWindow)
	if task.Type == models.TaskTypeVideoWatch {
		deadline = now.Add(time.Duration(float64(task.RequiredSeconds)*GraceFactor) * time.Second)
	}

	open := true
	attempt := models.CompletionAttempt{
		ID:        uuid.NewString(),
		AccountID: accountID,
		TaskID:    taskID,
		State:     models.AttemptStarted,
		Open:      &open,
		StartedAt: now,
		Deadline:  deadline,
	}
	if err := s.DB.Create(&attempt).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyAttempted
		}
		return nil, err
	}
	utils.Sugar.Debugw("attempt started", "attempt_id", attempt.ID, "task_id", taskID, "account_id", accountID)
	return &attempt, nil
}

// openAttempt finds the non-rejected attempt for (account, task).
func (s *VerifierService) openAttempt(accountID, taskID string) (*models.CompletionAttempt, error) {
	var attempt models.CompletionAttempt
	err := s.DB.Where("account_id = ? AND task_id = ? AND open IS NOT NULL", accountID, taskID).
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotVerifiable
		}
		return nil, err
	}
	return &attempt, nil
}

// RecordEvidence stores what the client reports and advances started →
// pending once the minimum threshold is met. Client-reported elapsed time is
// capped at the server-observed elapsed time: a client-fired timer alone can
// never satisfy a watch requirement faster than the wall clock allows.
func (s *VerifierService) RecordEvidence(attemptID string, elapsedSeconds int, confirmed bool) (*models.CompletionAttempt, error) {
	var attempt models.CompletionAttempt
	if err := s.DB.First(&attempt, "id = ?", attemptID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotVerifiable
		}
		return nil, err
	}
	if attempt.State == models.AttemptVerified || attempt.State == models.AttemptRejected {
		return &attempt, nil
	}

	task, err := s.Tasks.ByID(attempt.TaskID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	serverElapsed := int(now.Sub(attempt.StartedAt).Seconds())
	if elapsedSeconds > serverElapsed {
		elapsedSeconds = serverElapsed
	}
	if elapsedSeconds > attempt.ElapsedSeconds {
		attempt.ElapsedSeconds = elapsedSeconds
	}
	if confirmed && !attempt.ActionConfirmed {
		attempt.ActionConfirmed = true
		attempt.ConfirmedAt = &now
	}

	qualified := false
	switch task.Type {
	case models.TaskTypeVideoWatch:
		qualified = attempt.ElapsedSeconds >= task.RequiredSeconds
	case models.TaskTypeSocialAction:
		qualified = attempt.ActionConfirmed
	}
	if qualified && attempt.State == models.AttemptStarted {
		attempt.State = models.AttemptPending
	}

	if err := s.DB.Model(&models.CompletionAttempt{}).Where("id = ?", attempt.ID).
		Updates(map[string]interface{}{
			"elapsed_seconds":  attempt.ElapsedSeconds,
			"action_confirmed": attempt.ActionConfirmed,
			"confirmed_at":     attempt.ConfirmedAt,
			"state":            attempt.State,
		}).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// Verify applies the deterministic rule and settles the attempt. Safe to call
// any number of times: once terminal it is a no-op returning the final state.
//
// Settlement sequences state-flip, budget decrement and reward credit inside
// one transaction. The conditional state flip stops two racing Verify calls
// from both spending budget for one attempt; the conditional decrement stops
// N attempts from overspending a task, so when verifications race for the
// last increments only budget/reward of them can pass, and a failed credit
// rolls the decrement back with it. An attempt that loses the budget race is
// rejected (strict exhaustion).
func (s *VerifierService) Verify(attemptID string) (*models.CompletionAttempt, int64, error) {
	var attempt models.CompletionAttempt
	if err := s.DB.First(&attempt, "id = ?", attemptID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrNotVerifiable
		}
		return nil, 0, err
	}
	if attempt.State == models.AttemptVerified || attempt.State == models.AttemptRejected {
		return s.settledOutcome(&attempt)
	}

	task, err := s.Tasks.ByID(attempt.TaskID)
	if err != nil {
		return nil, 0, err
	}

	now := time.Now()
	qualified := false
	switch task.Type {
	case models.TaskTypeVideoWatch:
		qualified = attempt.ElapsedSeconds >= task.RequiredSeconds
	case models.TaskTypeSocialAction:
		// Judged by when the confirmation arrived, not by when Verify runs:
		// a confirmed-in-time attempt settles even from a late sweep.
		qualified = attempt.ActionConfirmed && attempt.ConfirmedAt != nil &&
			!attempt.ConfirmedAt.After(attempt.Deadline)
	}

	if !qualified {
		if now.After(attempt.Deadline) {
			if err := s.rejectTx(s.DB, &attempt, now); err != nil {
				return nil, 0, err
			}
			return s.settledOutcome(&attempt)
		}
		// Not enough evidence yet; stays open until the deadline sweep.
		return &attempt, 0, ErrNotVerifiable
	}

	return s.settle(&attempt, task)
}

// errAttemptSettled signals losing the settlement race to a concurrent Verify.
var errAttemptSettled = errors.New("attempt already settled")

// settle commits the verified transition, the budget decrement and the reward
// credit as one transaction. The conditional state UPDATE is the gate: two
// racing settlements both reach it, but only the one that flips the row off a
// live state proceeds to touch the budget. The attempt snapshot the caller
// read may be stale; the gate, not the snapshot, decides.
func (s *VerifierService) settle(attempt *models.CompletionAttempt, task *models.Task) (*models.CompletionAttempt, int64, error) {
	now := time.Now()
	var res *entryResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		gate := tx.Model(&models.CompletionAttempt{}).
			Where("id = ? AND state IN ?", attempt.ID,
				[]models.AttemptState{models.AttemptStarted, models.AttemptPending}).
			Updates(map[string]interface{}{
				"state":       models.AttemptVerified,
				"verified_at": now,
			})
		if gate.Error != nil {
			return gate.Error
		}
		if gate.RowsAffected == 0 {
			return errAttemptSettled
		}
		if err := s.Tasks.decrementBudgetTx(tx, task.ID, task.RewardAmount); err != nil {
			return err
		}
		var txErr error
		res, txErr = s.Ledger.applyTx(tx, attempt.AccountID, task.RewardAmount,
			models.EntryTaskReward, attempt.ID, &task.ID, nil)
		return txErr
	})
	switch {
	case err == nil:
		s.Ledger.notify(res)
		attempt.State = models.AttemptVerified
		attempt.VerifiedAt = &now
		utils.Sugar.Infow("attempt verified", "attempt_id", attempt.ID, "task_id", task.ID,
			"account_id", attempt.AccountID, "reward", task.RewardAmount)
		return attempt, res.NewBalance, nil
	case errors.Is(err, errAttemptSettled):
		if err := s.DB.First(attempt, "id = ?", attempt.ID).Error; err != nil {
			return nil, 0, err
		}
		return s.settledOutcome(attempt)
	case errors.Is(err, ErrTaskExhausted):
		// Rolled back whole; the gate flip never committed.
		if rejErr := s.rejectTx(s.DB, attempt, now); rejErr != nil {
			return nil, 0, rejErr
		}
		if attempt.State == models.AttemptVerified {
			return s.settledOutcome(attempt)
		}
		return attempt, 0, ErrTaskExhausted
	default:
		return nil, 0, err
	}
}

// settledOutcome reports a terminal attempt the way Verify's fast path does.
func (s *VerifierService) settledOutcome(attempt *models.CompletionAttempt) (*models.CompletionAttempt, int64, error) {
	if attempt.State == models.AttemptVerified {
		balance, err := s.Ledger.Balance(attempt.AccountID)
		return attempt, balance, err
	}
	return attempt, 0, ErrNotVerifiable
}

// rejectTx moves an attempt to the terminal rejected state and frees the
// (account, task) slot by clearing the open marker. If the row went terminal
// concurrently the guarded UPDATE misses and the attempt is reloaded, so the
// caller always sees the state the row actually holds.
func (s *VerifierService) rejectTx(db *gorm.DB, attempt *models.CompletionAttempt, at time.Time) error {
	res := db.Model(&models.CompletionAttempt{}).
		Where("id = ? AND state IN ?", attempt.ID,
			[]models.AttemptState{models.AttemptStarted, models.AttemptPending}).
		Updates(map[string]interface{}{
			"state":       models.AttemptRejected,
			"open":        nil,
			"rejected_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return db.First(attempt, "id = ?", attempt.ID).Error
	}
	attempt.State = models.AttemptRejected
	attempt.Open = nil
	attempt.RejectedAt = &at
	return nil
}

// Complete is the one-shot path the watch player and action buttons use:
// record the reported evidence against the open attempt, then verify.
func (s *VerifierService) Complete(accountID, taskID string, elapsedSeconds int, confirmed bool) (*models.CompletionAttempt, int64, error) {
	attempt, err := s.openAttempt(accountID, taskID)
	if err != nil {
		return nil, 0, err
	}
	if _, err := s.RecordEvidence(attempt.ID, elapsedSeconds, confirmed); err != nil {
		return nil, 0, err
	}
	return s.Verify(attempt.ID)
}

// SweepExpired settles everything past its deadline: stuck starts are
// rejected, pending attempts get a final deterministic verification.
// Cancellation is by timeout here, never by an explicit client call.
func (s *VerifierService) SweepExpired() (rejected, settled int, err error) {
	now := time.Now()

	var stuck []models.CompletionAttempt
	if err := s.DB.Where("state = ? AND deadline < ?", models.AttemptStarted, now).
		Find(&stuck).Error; err != nil {
		return 0, 0, err
	}
	for i := range stuck {
		if err := s.rejectTx(s.DB, &stuck[i], now); err != nil {
			return rejected, settled, err
		}
		rejected++
	}

	var pending []models.CompletionAttempt
	if err := s.DB.Where("state = ? AND deadline < ?", models.AttemptPending, now).
		Find(&pending).Error; err != nil {
		return rejected, 0, err
	}
	for i := range pending {
		if _, _, err := s.Verify(pending[i].ID); err != nil &&
			!errors.Is(err, ErrNotVerifiable) && !errors.Is(err, ErrTaskExhausted) {
			return rejected, settled, err
		}
		settled++
	}
	return rejected, settled, nil
}
