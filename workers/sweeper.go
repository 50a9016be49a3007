package workers

import (
	"time"

	"points-reward-system/models"
	"points-reward-system/services"
	"points-reward-system/utils"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// DefaultExhaustedRetention is how long an exhausted task stays visible
// before the sweep removes it.
const DefaultExhaustedRetention = 72 * time.Hour

// Sweeper runs the periodic reconciliation passes: attempts stuck past
// their verification deadline, and exhausted tasks past retention.
type Sweeper struct {
	DB        *gorm.DB
	Verifier  *services.VerifierService
	Retention time.Duration
}

func NewSweeper(db *gorm.DB, verifier *services.VerifierService) *Sweeper {
	return &Sweeper{DB: db, Verifier: verifier, Retention: DefaultExhaustedRetention}
}

// SweepAttempts settles everything past its verification deadline.
func (s *Sweeper) SweepAttempts() {
	rejected, settled, err := s.Verifier.SweepExpired()
	if err != nil {
		utils.Sugar.Errorw("attempt sweep failed", "err", err)
		return
	}
	if rejected > 0 || settled > 0 {
		utils.Sugar.Infow("attempt sweep", "rejected", rejected, "settled", settled)
	}
}

// SweepExhaustedTasks removes tasks that have been exhausted longer than the
// retention period.
func (s *Sweeper) SweepExhaustedTasks() {
	cutoff := time.Now().Add(-s.Retention)
	res := s.DB.Model(&models.Task{}).
		Where("status = ? AND exhausted_at < ?", models.TaskStatusExhausted, cutoff).
		Update("status", models.TaskStatusRemoved)
	if res.Error != nil {
		utils.Sugar.Errorw("task retention sweep failed", "err", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		utils.Sugar.Infow("task retention sweep", "removed", res.RowsAffected)
	}
}

// Start schedules the sweeps. Returns the scheduler so main can shut it down.
func (s *Sweeper) Start() (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(s.SweepAttempts),
	); err != nil {
		return nil, err
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(s.SweepExhaustedTasks),
	); err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
