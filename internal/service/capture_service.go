package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Amineeeeee523/khalilos/internal/gateway"
	"github.com/Amineeeeee523/khalilos/internal/goroutine"
	"github.com/Amineeeeee523/khalilos/internal/logger"
	"github.com/Amineeeeee523/khalilos/internal/models"
)

// CaptureRepository — переходы хранилища, нужные пайплайну выплат.
type CaptureRepository interface {
	GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	MarkPaid(ctx context.Context, id uuid.UUID) (m *models.Milestone, applied bool, jobCompleted bool, err error)
	MarkCaptureFailed(ctx context.Context, id uuid.UUID, detail string) (*models.Milestone, error)
}

// CaptureService — асинхронный пайплайн выплат. Получает сигналы
// "capture requested" через внутренний буферизованный канал и доводит транш
// до статуса paid. Доставка сигналов at-least-once: дубли и потери
// поглощаются идемпотентной обработкой и retry-sweep планировщика.
type CaptureService struct {
	repo     CaptureRepository
	gateway  gateway.PaymentGateway
	notifier Notifier
	queue    chan uuid.UUID
	recovery *goroutine.RecoveryHandler
}

func NewCaptureService(repo CaptureRepository, gw gateway.PaymentGateway, notifier Notifier, queueSize int) *CaptureService {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &CaptureService{
		repo:     repo,
		gateway:  gw,
		notifier: notifier,
		queue:    make(chan uuid.UUID, queueSize),
		recovery: goroutine.NewRecoveryHandler(logger.Log),
	}
}

// Enqueue планирует capture транша. Не блокирует: при переполненном канале
// сигнал отбрасывается — транш доберёт периодический retry-sweep.
func (s *CaptureService) Enqueue(milestoneID uuid.UUID) {
	select {
	case s.queue <- milestoneID:
	default:
		logger.Log.WithField("milestone_id", milestoneID).
			Warn("capture: очередь переполнена, транш подхватит retry-sweep")
	}
}

// Start запускает потребителя очереди capture.
func (s *CaptureService) Start(ctx context.Context) {
	s.recovery.SafeGoWithContext(ctx, s.run)
}

func (s *CaptureService) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			if err := s.Process(ctx, id); err != nil {
				logger.Log.WithFields(logrus.Fields{
					"milestone_id": id,
					"error":        err.Error(),
				}).Error("capture: обработка транша не удалась")
			}
		}
	}
}

// Process выполняет один проход capture для транша.
// Контракт: уже выплаченный транш — успешный no-op (главная защита от
// дублей); статус вне approved/capture_error — устаревший триггер, тоже
// no-op. Ошибка шлюза не поднимается к источнику триггера: она фиксируется
// статусом capture_error плюс записью аудита, повтор берёт на себя
// планировщик.
func (s *CaptureService) Process(ctx context.Context, milestoneID uuid.UUID) error {
	m, err := s.repo.GetMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}

	if m.Status == models.MilestoneStatusPaid {
		return nil
	}
	if m.Status != models.MilestoneStatusApproved && m.Status != models.MilestoneStatusCaptureError {
		return nil
	}
	if m.CheckoutID == nil || *m.CheckoutID == "" {
		// Без checkout переводить нечего; оставляем транш на ручной разбор.
		_, err := s.repo.MarkCaptureFailed(ctx, milestoneID, "отсутствует checkout_id")
		return err
	}

	// Вызов шлюза выполняется без какой-либо блокировки строки.
	if err := s.gateway.Transfer(ctx, *m.CheckoutID); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"milestone_id": milestoneID,
			"error":        err.Error(),
		}).Error("capture: перевод средств не удался")

		failed, markErr := s.repo.MarkCaptureFailed(ctx, milestoneID, err.Error())
		if markErr != nil {
			return markErr
		}
		s.notify(failed)
		return nil
	}

	// Повторная проверка статуса под блокировкой живёт в MarkPaid:
	// конкурентный триггер не приведёт к двойному зачислению.
	paid, applied, jobCompleted, err := s.repo.MarkPaid(ctx, milestoneID)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	logger.Log.WithFields(logrus.Fields{
		"milestone_id": paid.ID,
		"net":          paid.NetAmount.StringFixed(2),
		"currency":     paid.Currency,
	}).Info("capture: транш выплачен фрилансеру")

	if jobCompleted {
		logger.Log.WithField("job_id", paid.JobID).Info("capture: все транши выплачены, задание завершено")
	}

	s.notify(paid)
	return nil
}

func (s *CaptureService) notify(m *models.Milestone) {
	if s.notifier == nil || m == nil {
		return
	}
	s.notifier.NotifyPaymentStatus(m.ClientID, m)
	s.notifier.NotifyPaymentStatus(m.FreelancerID, m)
}
