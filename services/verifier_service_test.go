package services

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"points-reward-system/models"

	"gorm.io/gorm"
)

// backdate moves an attempt's start into the past so the server-observed
// elapsed time can satisfy a watch requirement.
func backdate(t *testing.T, db *gorm.DB, attemptID string, by time.Duration) {
	t.Helper()
	err := db.Model(&models.CompletionAttempt{}).Where("id = ?", attemptID).
		Updates(map[string]interface{}{
			"started_at": time.Now().Add(-by),
			"deadline":   time.Now().Add(by), // keep the window open
		}).Error
	if err != nil {
		t.Fatalf("backdate attempt: %v", err)
	}
}

func TestStart_SelfDealing(t *testing.T) {
	_, ledger, tasks, verifier, _ := newFixture(t)
	owner := mustAccount(t, ledger, "owner", 300)

	task, _, err := tasks.CreateVideoTask(owner.ID, "https://youtube.com/1", "youtube", 150, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := verifier.Start(owner.ID, task.ID); !errors.Is(err, ErrSelfDealing) {
		t.Fatalf("err = %v, want ErrSelfDealing", err)
	}
}

func TestStart_AlreadyAttempted(t *testing.T) {
	_, ledger, tasks, verifier, _ := newFixture(t)
	owner := mustAccount(t, ledger, "owner", 300)
	viewer := mustAccount(t, ledger, "viewer", 100)

	task, _, err := tasks.CreateVideoTask(owner.ID, "https://youtube.com/1", "youtube", 150, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := verifier.Start(viewer.ID, task.ID); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := verifier.Start(viewer.ID, task.ID); !errors.Is(err, ErrAlreadyAttempted) {
		t.Fatalf("second start err = %v, want ErrAlreadyAttempted", err)
	}
}

func TestStart_TaskExhausted(t *testing.T) {
	db, ledger, tasks, verifier, _ := newFixture(t)
	owner := mustAccount(t, ledger, "owner", 300)
	viewer := mustAccount(t, ledger, "viewer", 100)

	task, _, err := tasks.CreateVideoTask(owner.ID, "https://youtube.com/1", "youtube", 150, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.Model(&models.Task{}).Where("id = ?", task.ID).
		Update("status", models.TaskStatusExhausted).Error; err != nil {
		t.Fatalf("exhaust: %v", err)
	}
	if _, err := verifier.Start(viewer.ID, task.ID); !errors.Is(err, ErrTaskExhausted) {
		t.Fatalf("err = %v, want ErrTaskExhausted", err)
	}
}

func TestCompleteWatch_CreditsOnce(t *testing.T) {
	db, ledger, tasks, verifier, _ := newFixture(t)
	owner := mustAccount(t, ledger, "owner", 300)
	viewer := mustAccount(t, ledger, "viewer", 100)

	task, _, err := tasks.CreateVideoTask(owner.ID, "https://youtube.com/1", "youtube", 150, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	attempt, err := verifier.Start(viewer.ID, task.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	backdate(t, db, attempt.ID, 160*time.Second)

	got, newBalance, err := verifier.Complete(viewer.ID, task.ID, 160, false)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.State != models.AttemptVerified {
		t.Errorf("state = %s, want verified", got.State)
	}
	if newBalance != 110 {
		t.Errorf("newBalance = %d, want 110", newBalance)
	}

	// Verify is idempotent: settling again changes nothing.
	again, balance, err := verifier.Verify(attempt.ID)
	if err != nil {
		t.Fatalf("repeat verify: %v", err)
	}
	if again.State != models.AttemptVerified || balance != 110 {
		t.Errorf("repeat verify = %s/%d, want verified/110", again.State, balance)
	}
	if sum, _ := ledger.SumEntries(viewer.ID); sum != 110 {
		t.Errorf("entry sum = %d, want 110 (single reward entry)", sum)
	}

	updated, _ := tasks.ByID(task.ID)
	if updated.RemainingBudget != 90 {
		t.Errorf("remaining budget = %d, want 90", updated.RemainingBudget)
	}
}

// A client-fired timer alone must never earn a reward: the server caps the
// reported elapsed time at its own observed clock.
func TestCompleteWatch_ClientTimerNotTrusted(t *testing.T) {
	_, ledger, tasks, verifier, _ := newFixture(t)
	owner := mustAccount(t, ledger, "owner", 300)
	viewer := mustAccount(t, ledger, "viewer", 100)

	task, _, err := tasks.CreateVideoTask(owner.ID, "https://youtube.com/1", "youtube", 150, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := verifier.Start(viewer.ID, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Claims the full duration immediately after starting.
	_, _, err = verifier.Complete(viewer.ID, task.ID, 150, false)
	if !errors.Is(err, ErrNotVerifiable) {
		t.Fatalf("err = %v, want ErrNotVerifiable", err)
	}
	if bal, _ := ledger.Balance(viewer.ID); bal != 100 {
		t.Errorf("balance = %d, want 100 (no credit)", bal)
	}
}

func TestCompleteWatch_NoAttempt(t *testing.T) {
	_, ledger, tasks, verifier, _ := newFixture(t)
	owner := mustAccount(t, ledger, "owner", 300)
	viewer := mustAccount(t, ledger, "viewer", 100)

	task, _, err := tasks.CreateVideoTask(owner.ID, "https://youtube.com/1", "youtube", 150, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, _, err = verifier.Complete(viewer.ID, task.ID, 160, false)
	if !errors.Is(err, ErrNotVerifiable) {
		t.Fatalf("err = %v, want ErrNotVerifiable", err)
	}
}

// The §-scenario end to end: 300-point owner funds 10 completions at 10
// points each; ten distinct viewers drain it; the eleventh cannot start.
func TestTaskLifecycle_ExhaustionScenario(t *testing.T) {
	db, ledger, tasks, verifier, _ := newFixture(t)
	owner := mustAccount(t, ledger, "owner", 300)

	task, remaining, err := tasks.CreateVideoTask(owner.ID, "https://youtube.com/1", "youtube", 150, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if remaining != 200 {
		t.Fatalf("owner balance after funding = %d, want 200", remaining)
	}

	for i := 0; i < 10; i++ {
		viewer := mustAccount(t, ledger, fmt.Sprintf("viewer%d", i), 0)
		attempt, err := verifier.Start(viewer.ID, task.ID)
		if err != nil {
			t.Fatalf("viewer %d start: %v", i, err)
		}
		backdate(t, db, attempt.ID, 160*time.Second)
		_, newBalance, err := verifier.Complete(viewer.ID, task.ID, 160, false)
		if err != nil {
			t.Fatalf("viewer %d complete: %v", i, err)
		}
		if newBalance != 10 {
			t.Errorf("viewer %d balance = %d, want 10", i, newBalance)
		}
	}

	got, _ := tasks.ByID(task.ID)
	if got.Status != models.TaskStatusExhausted {
		t.Errorf("status = %s, want exhausted", got.Status)
	}
	if got.RemainingBudget != 0 {
		t.Errorf("remaining budget = %d, want 0", got.RemainingBudget)
	}

	late := mustAccount(t, ledger, "latecomer", 0)
	if _, err := verifier.Start(late.ID, task.ID); !errors.Is(err, ErrTaskExhausted) {
		t.Fatalf("latecomer start err = %v, want ErrTaskExhausted", err)
	}
}

// N=50 concurrent verifications against a task funded for exactly 10
// rewards: exactly 10 may win; the budget never goes negative.
func TestVerify_ConcurrentBudgetBoundary(t *testing.T) {
	_, ledger, tasks, verifier, _ := newFixture(t)
	owner := mustAccount(t, ledger, "owner", 1000)

	// like = 5 points, 10 completions → 50 point budget.
	task, _, err := tasks.CreateSocialTask(owner.ID, "https://tiktok.com/@x", "tiktok", models.ActionLike, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 50
	viewers := make([]*models.Account, n)
	for i := range viewers {
		viewers[i] = mustAccount(t, ledger, fmt.Sprintf("viewer%d", i), 0)
		if _, err := verifier.Start(viewers[i].ID, task.ID); err != nil {
			t.Fatalf("viewer %d start: %v", i, err)
		}
	}

	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(acct *models.Account) {
			defer wg.Done()
			_, _, err := verifier.Complete(acct.ID, task.ID, 0, true)
			results <- err
		}(viewers[i])
	}
	wg.Wait()
	close(results)

	var verified, exhausted int
	for err := range results {
		switch {
		case err == nil:
			verified++
		case errors.Is(err, ErrTaskExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if verified != 10 || exhausted != 40 {
		t.Fatalf("verified = %d, exhausted = %d; want 10 and 40", verified, exhausted)
	}

	got, _ := tasks.ByID(task.ID)
	if got.RemainingBudget < 0 {
		t.Errorf("remaining budget went negative: %d", got.RemainingBudget)
	}
	if got.Status != models.TaskStatusExhausted {
		t.Errorf("status = %s, want exhausted", got.Status)
	}

	// Paid out exactly the funded budget, spread over the winners.
	var paid int64
	for _, v := range viewers {
		bal, _ := ledger.Balance(v.ID)
		paid += bal
	}
	if paid != task.FundedBudget {
		t.Errorf("total paid = %d, want %d", paid, task.FundedBudget)
	}
}

// Two settlements racing on one attempt must spend the task budget exactly
// once. The loser is replayed with the stale snapshot it would have read
// before the winner committed; the state gate inside the settlement
// transaction has to stop its decrement.
func TestVerify_RacingSettlementsSpendBudgetOnce(t *testing.T) {
	db, ledger, tasks, verifier, _ := newFixture(t)
	owner := mustAccount(t, ledger, "owner", 300)
	viewer := mustAccount(t, ledger, "viewer", 100)

	task, _, err := tasks.CreateVideoTask(owner.ID, "https://youtube.com/1", "youtube", 150, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	attempt, err := verifier.Start(viewer.ID, task.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	backdate(t, db, attempt.ID, 160*time.Second)
	if _, err := verifier.RecordEvidence(attempt.ID, 160, false); err != nil {
		t.Fatalf("evidence: %v", err)
	}

	var stale models.CompletionAttempt
	if err := db.First(&stale, "id = ?", attempt.ID).Error; err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if stale.State != models.AttemptPending {
		t.Fatalf("snapshot state = %s, want pending", stale.State)
	}

	if _, _, err := verifier.Verify(attempt.ID); err != nil {
		t.Fatalf("winner verify: %v", err)
	}

	got, balance, err := verifier.settle(&stale, task)
	if err != nil {
		t.Fatalf("loser settle: %v", err)
	}
	if got.State != models.AttemptVerified || balance != 110 {
		t.Errorf("loser outcome = %s/%d, want verified/110", got.State, balance)
	}

	updated, _ := tasks.ByID(task.ID)
	if updated.RemainingBudget != 90 {
		t.Errorf("remaining budget = %d, want 90 (one reward spent, not two)", updated.RemainingBudget)
	}
	if sum, _ := ledger.SumEntries(viewer.ID); sum != 110 {
		t.Errorf("entry sum = %d, want 110 (single reward entry)", sum)
	}
}

// A social confirmation is judged by when it arrived, not by when the
// settlement finally runs: a confirmed-in-time attempt left pending settles
// from the sweep, a late confirmation is rejected.
func TestSweepExpired_SocialConfirmationTiming(t *testing.T) {
	tests := []struct {
		name        string
		confirmedAt time.Duration // relative to the deadline
		wantState   models.AttemptState
		wantBalance int64
	}{
		{"confirmed before deadline", -4 * time.Minute, models.AttemptVerified, 5},
		{"confirmed after deadline", 30 * time.Second, models.AttemptRejected, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, ledger, tasks, verifier, _ := newFixture(t)
			owner := mustAccount(t, ledger, "owner", 300)
			viewer := mustAccount(t, ledger, "viewer", 0)

			task, _, err := tasks.CreateSocialTask(owner.ID, "https://tiktok.com/@x", "tiktok", models.ActionLike, 10)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			attempt, err := verifier.Start(viewer.ID, task.ID)
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			if _, err := verifier.RecordEvidence(attempt.ID, 0, true); err != nil {
				t.Fatalf("evidence: %v", err)
			}

			deadline := time.Now().Add(-time.Minute)
			if err := db.Model(&models.CompletionAttempt{}).Where("id = ?", attempt.ID).
				Updates(map[string]interface{}{
					"started_at":   deadline.Add(-10 * time.Minute),
					"confirmed_at": deadline.Add(tt.confirmedAt),
					"deadline":     deadline,
				}).Error; err != nil {
				t.Fatalf("reschedule: %v", err)
			}

			if _, _, err := verifier.SweepExpired(); err != nil {
				t.Fatalf("sweep: %v", err)
			}

			var got models.CompletionAttempt
			if err := db.First(&got, "id = ?", attempt.ID).Error; err != nil {
				t.Fatalf("reload: %v", err)
			}
			if got.State != tt.wantState {
				t.Errorf("state = %s, want %s", got.State, tt.wantState)
			}
			if bal, _ := ledger.Balance(viewer.ID); bal != tt.wantBalance {
				t.Errorf("balance = %d, want %d", bal, tt.wantBalance)
			}
		})
	}
}

// Rejecting with a stale snapshot must not overwrite a concurrent
// verification; the caller gets the state the row actually holds.
func TestReject_LosesToConcurrentVerification(t *testing.T) {
	db, ledger, tasks, verifier, _ := newFixture(t)
	owner := mustAccount(t, ledger, "owner", 300)
	viewer := mustAccount(t, ledger, "viewer", 100)

	task, _, err := tasks.CreateVideoTask(owner.ID, "https://youtube.com/1", "youtube", 150, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	attempt, err := verifier.Start(viewer.ID, task.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	backdate(t, db, attempt.ID, 160*time.Second)

	var stale models.CompletionAttempt
	if err := db.First(&stale, "id = ?", attempt.ID).Error; err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if _, _, err := verifier.Complete(viewer.ID, task.ID, 160, false); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := verifier.rejectTx(db, &stale, time.Now()); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if stale.State != models.AttemptVerified {
		t.Errorf("snapshot after reject = %s, want verified (reloaded, not clobbered)", stale.State)
	}

	var row models.CompletionAttempt
	if err := db.First(&row, "id = ?", attempt.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if row.State != models.AttemptVerified || row.Open == nil {
		t.Errorf("row = %s open=%v, want verified with slot still held", row.State, row.Open)
	}
	if bal, _ := ledger.Balance(viewer.ID); bal != 110 {
		t.Errorf("balance = %d, want 110 (reward kept)", bal)
	}
}

func TestSweepExpired_RejectsAndFreesSlot(t *testing.T) {
	db, ledger, tasks, verifier, _ := newFixture(t)
	owner := mustAccount(t, ledger, "owner", 300)
	viewer := mustAccount(t, ledger, "viewer", 100)

	task, _, err := tasks.CreateVideoTask(owner.ID, "https://youtube.com/1", "youtube", 150, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	attempt, err := verifier.Start(viewer.ID, task.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Push the deadline into the past; the attempt never got evidence.
	if err := db.Model(&models.CompletionAttempt{}).Where("id = ?", attempt.ID).
		Update("deadline", time.Now().Add(-time.Minute)).Error; err != nil {
		t.Fatalf("expire: %v", err)
	}

	rejected, _, err := verifier.SweepExpired()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rejected != 1 {
		t.Errorf("rejected = %d, want 1", rejected)
	}

	var got models.CompletionAttempt
	if err := db.First(&got, "id = ?", attempt.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.State != models.AttemptRejected || got.Open != nil {
		t.Errorf("state = %s open = %v, want rejected with freed slot", got.State, got.Open)
	}
	if bal, _ := ledger.Balance(viewer.ID); bal != 100 {
		t.Errorf("balance = %d, want 100 (rejection has no ledger effect)", bal)
	}

	// The rejected attempt frees the slot for a fresh start.
	if _, err := verifier.Start(viewer.ID, task.ID); err != nil {
		t.Fatalf("restart after rejection: %v", err)
	}
}
