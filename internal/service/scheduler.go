package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Amineeeeee523/khalilos/internal/goroutine"
	"github.com/Amineeeeee523/khalilos/internal/logger"
	"github.com/Amineeeeee523/khalilos/internal/models"
)

// SchedulerRepository — выборки хранилища для периодических задач.
type SchedulerRepository interface {
	ListByStatus(ctx context.Context, status string) ([]models.Milestone, error)
	ListStaleDeposits(ctx context.Context, before time.Time) ([]models.Milestone, error)
}

// Scheduler — страховочный контур eventual consistency. Две независимые
// периодические задачи: повтор неудавшихся capture и обнаружение зависших
// траншей. Выполняется отдельно от обработки запросов.
type Scheduler struct {
	repo     SchedulerRepository
	pipeline CapturePipeline

	retryInterval time.Duration
	sweepInterval time.Duration
	staleAfter    time.Duration

	recovery *goroutine.RecoveryHandler
}

func NewScheduler(repo SchedulerRepository, pipeline CapturePipeline, retryInterval, sweepInterval, staleAfter time.Duration) *Scheduler {
	if retryInterval <= 0 {
		retryInterval = 30 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = 24 * time.Hour
	}
	if staleAfter <= 0 {
		staleAfter = 7 * 24 * time.Hour
	}
	return &Scheduler{
		repo:          repo,
		pipeline:      pipeline,
		retryInterval: retryInterval,
		sweepInterval: sweepInterval,
		staleAfter:    staleAfter,
		recovery:      goroutine.NewRecoveryHandler(logger.Log),
	}
}

// Start запускает обе периодические задачи.
func (s *Scheduler) Start(ctx context.Context) {
	s.recovery.SafeGoWithContext(ctx, s.runRetryLoop)
	s.recovery.SafeGoWithContext(ctx, s.runTimeoutLoop)
}

func (s *Scheduler) runRetryLoop(ctx context.Context) {
	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.retryFailedCaptures(ctx); err != nil {
				logger.Log.WithField("error", err.Error()).Error("scheduler: retry-sweep не удался")
			}
		}
	}
}

func (s *Scheduler) runTimeoutLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.checkTimeouts(ctx); err != nil {
				logger.Log.WithField("error", err.Error()).Error("scheduler: проверка таймаутов не удалась")
			}
		}
	}
}

// retryFailedCaptures переотправляет в пайплайн транши в статусе
// capture_error, а также зависшие в approved: сигнал capture мог потеряться
// при падении процесса между коммитом и отправкой. Бэкофф не нужен:
// каждый запуск идемпотентен.
func (s *Scheduler) retryFailedCaptures(ctx context.Context) error {
	for _, status := range []string{models.MilestoneStatusCaptureError, models.MilestoneStatusApproved} {
		list, err := s.repo.ListByStatus(ctx, status)
		if err != nil {
			return err
		}

		for _, m := range list {
			logger.Log.WithFields(logrus.Fields{
				"milestone_id": m.ID,
				"status":       m.Status,
			}).Info("scheduler: повтор capture")
			s.pipeline.Enqueue(m.ID)
		}
	}
	return nil
}

// checkTimeouts помечает в логах транши, зависшие в ожидании оплаты или
// валидации дольше порога. Статус не меняется: дальше разбирается поддержка.
func (s *Scheduler) checkTimeouts(ctx context.Context) error {
	stale, err := s.repo.ListStaleDeposits(ctx, time.Now().Add(-s.staleAfter))
	if err != nil {
		return err
	}

	for _, m := range stale {
		logger.Log.WithFields(logrus.Fields{
			"milestone_id": m.ID,
			"status":       m.Status,
			"deposited_at": m.DepositedAt,
		}).Warn("scheduler: транш без движения дольше порога")
	}
	return nil
}
