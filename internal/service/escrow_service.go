package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Amineeeeee523/khalilos/internal/gateway"
	"github.com/Amineeeeee523/khalilos/internal/logger"
	"github.com/Amineeeeee523/khalilos/internal/models"
	"github.com/Amineeeeee523/khalilos/internal/pkg/apperror"
	"github.com/Amineeeeee523/khalilos/internal/repository"
)

// DefaultCurrency — валюта по умолчанию для траншей.
const DefaultCurrency = "TND"

type MilestoneRepository interface {
	CreateMilestone(ctx context.Context, m *models.Milestone) (*models.Milestone, error)
	GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	UpdateAmount(ctx context.Context, id, clientID uuid.UUID, gross decimal.Decimal) (*models.Milestone, error)
	AttachCheckout(ctx context.Context, id uuid.UUID, checkoutID, paymentURL string) (*models.Milestone, error)
	ConfirmDeposit(ctx context.Context, checkoutID string) (*models.Milestone, bool, error)
	CancelDeposit(ctx context.Context, checkoutID string) (*models.Milestone, bool, error)
	ApproveMilestone(ctx context.Context, id, clientID uuid.UUID) (*models.Milestone, error)
	RejectMilestone(ctx context.Context, id, clientID uuid.UUID) (*models.Milestone, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Milestone, error)
}

type JobRepository interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type AuditRepository interface {
	ListByMilestone(ctx context.Context, milestoneID uuid.UUID) ([]models.AuditEvent, error)
}

// CapturePipeline — получатель сигналов "capture requested".
// Сигнал отправляется строго после фиксации транзакции перехода.
type CapturePipeline interface {
	Enqueue(milestoneID uuid.UUID)
}

// Notifier — канал push-уведомлений о смене статуса (внешний коллаборатор).
type Notifier interface {
	NotifyPaymentStatus(userID uuid.UUID, milestone *models.Milestone)
}

// EscrowService — движок машины состояний траншей. Единственный писатель
// статуса транша; все мутации идут через защищённые переходы репозитория.
type EscrowService struct {
	milestones MilestoneRepository
	jobs       JobRepository
	audits     AuditRepository
	gateway    gateway.PaymentGateway
	capture    CapturePipeline
	notifier   Notifier
}

func NewEscrowService(
	milestones MilestoneRepository,
	jobs JobRepository,
	audits AuditRepository,
	gw gateway.PaymentGateway,
	capture CapturePipeline,
	notifier Notifier,
) *EscrowService {
	return &EscrowService{
		milestones: milestones,
		jobs:       jobs,
		audits:     audits,
		gateway:    gw,
		capture:    capture,
		notifier:   notifier,
	}
}

// CreateMilestoneInput — параметры создания транша.
type CreateMilestoneInput struct {
	JobID    uuid.UUID
	Seq      int
	Title    string
	Gross    decimal.Decimal
	Currency string
}

// CreateMilestone создаёт транш оплаты. Доступно только клиенту задания,
// и только когда фрилансер уже выбран: обе стороны транша копируются из
// задания, а не передаются вызывающим.
func (s *EscrowService) CreateMilestone(ctx context.Context, in CreateMilestoneInput, callerID uuid.UUID) (*models.Milestone, error) {
	if in.Gross.LessThanOrEqual(decimal.Zero) {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	if in.Seq < 1 {
		return nil, apperror.New(apperror.ErrCodeValidation, "порядковый номер должен быть не меньше 1")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "название транша обязательно")
	}
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}

	job, err := s.jobs.GetJob(ctx, in.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, apperror.ErrJobNotFound
		}
		return nil, err
	}
	if job.ClientID != callerID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "только клиент задания может добавлять транши")
	}
	if job.FreelancerID == nil {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "для задания не выбран фрилансер")
	}

	m := &models.Milestone{
		JobID:        job.ID,
		ClientID:     job.ClientID,
		FreelancerID: *job.FreelancerID,
		Seq:          in.Seq,
		Title:        strings.TrimSpace(in.Title),
		GrossAmount:  in.Gross.Round(2),
		Currency:     in.Currency,
	}
	m.RecalculateCommission()

	created, err := s.milestones.CreateMilestone(ctx, m)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateAmount меняет брутто-сумму транша до депозита; комиссия и чистая
// сумма пересчитываются.
func (s *EscrowService) UpdateAmount(ctx context.Context, milestoneID uuid.UUID, gross decimal.Decimal, callerID uuid.UUID) (*models.Milestone, error) {
	if gross.LessThanOrEqual(decimal.Zero) {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}

	m, err := s.milestones.UpdateAmount(ctx, milestoneID, callerID, gross.Round(2))
	if err != nil {
		return nil, mapMilestoneError(err)
	}
	return m, nil
}

// InitCheckout запускает депозит: создаёт checkout на шлюзе и переводит
// транш в ожидание оплаты. Вызов шлюза выполняется без блокировки строки;
// переход фиксируется отдельной транзакцией с повторной проверкой статуса.
// Ошибка шлюза возвращается вызывающему: на этапе депозита клиент может
// просто повторить запрос.
func (s *EscrowService) InitCheckout(ctx context.Context, milestoneID, callerID uuid.UUID) (*models.Milestone, error) {
	m, err := s.milestones.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, mapMilestoneError(err)
	}
	if m.ClientID != callerID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "только клиент может оплатить транш")
	}
	if m.Status != models.MilestoneStatusPendingDeposit {
		return nil, apperror.ErrInvalidState
	}

	reference := fmt.Sprintf("Milestone#%s", m.ID)
	checkout, err := s.gateway.CreateCheckout(ctx, m.GrossAmount, m.Currency, reference)
	if err != nil {
		return nil, err
	}

	updated, err := s.milestones.AttachCheckout(ctx, milestoneID, checkout.ID, checkout.PaymentURL)
	if err != nil {
		return nil, mapMilestoneError(err)
	}

	s.notifyParties(updated)
	return updated, nil
}

// HandleWebhook обрабатывает событие шлюза по checkout.
// Идемпотентно: повторная доставка или событие в неподходящем статусе —
// не ошибка. Неизвестный checkout — жёсткая ошибка. Прочие статусы шлюза
// игнорируются.
func (s *EscrowService) HandleWebhook(ctx context.Context, checkoutID, status string) error {
	if checkoutID == "" {
		return apperror.New(apperror.ErrCodeValidation, "checkout_id обязателен")
	}

	var (
		m       *models.Milestone
		applied bool
		err     error
	)

	switch strings.ToUpper(status) {
	case "PAID":
		m, applied, err = s.milestones.ConfirmDeposit(ctx, checkoutID)
	case "CANCELLED":
		m, applied, err = s.milestones.CancelDeposit(ctx, checkoutID)
	default:
		logger.Log.WithField("status", status).Debug("escrow: вебхук с незначимым статусом проигнорирован")
		return nil
	}

	if err != nil {
		if errors.Is(err, repository.ErrUnknownCheckout) {
			return apperror.ErrCheckoutUnknown
		}
		return err
	}

	if applied {
		s.notifyParties(m)
	}
	return nil
}

// Approve фиксирует приёмку работы клиентом и планирует capture.
// Сигнал capture уходит только после фиксации перехода: блокировка строки
// никогда не удерживается во время сетевого вызова, а потерю сигнала
// компенсирует периодический retry-sweep.
func (s *EscrowService) Approve(ctx context.Context, milestoneID, callerID uuid.UUID) (*models.Milestone, error) {
	m, err := s.milestones.ApproveMilestone(ctx, milestoneID, callerID)
	if err != nil {
		return nil, mapMilestoneError(err)
	}

	s.capture.Enqueue(m.ID)
	s.notifyParties(m)
	return m, nil
}

// Reject фиксирует отклонение работы клиентом. Терминально для транша.
func (s *EscrowService) Reject(ctx context.Context, milestoneID, callerID uuid.UUID) (*models.Milestone, error) {
	m, err := s.milestones.RejectMilestone(ctx, milestoneID, callerID)
	if err != nil {
		return nil, mapMilestoneError(err)
	}

	s.notifyParties(m)
	return m, nil
}

// Summary возвращает транши задания по порядку и суммы брутто, комиссии и
// нетто по ним. Только для сторон сделки.
func (s *EscrowService) Summary(ctx context.Context, jobID, callerID uuid.UUID) (*models.JobPaymentSummary, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, apperror.ErrJobNotFound
		}
		return nil, err
	}
	if !isJobParty(job, callerID) {
		return nil, apperror.ErrForbidden
	}

	list, err := s.milestones.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	summary := &models.JobPaymentSummary{
		JobID:      job.ID,
		Title:      job.Title,
		Milestones: list,
	}
	for _, m := range list {
		summary.TotalGross = summary.TotalGross.Add(m.GrossAmount)
		summary.TotalCommission = summary.TotalCommission.Add(m.Commission)
		summary.TotalNet = summary.TotalNet.Add(m.NetAmount)
	}
	return summary, nil
}

// AuditTrail возвращает журнал событий транша. Только для сторон сделки.
func (s *EscrowService) AuditTrail(ctx context.Context, milestoneID, callerID uuid.UUID) ([]models.AuditEvent, error) {
	m, err := s.milestones.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, mapMilestoneError(err)
	}
	if m.ClientID != callerID && m.FreelancerID != callerID {
		return nil, apperror.ErrForbidden
	}
	return s.audits.ListByMilestone(ctx, milestoneID)
}

func (s *EscrowService) notifyParties(m *models.Milestone) {
	if s.notifier == nil || m == nil {
		return
	}
	s.notifier.NotifyPaymentStatus(m.ClientID, m)
	s.notifier.NotifyPaymentStatus(m.FreelancerID, m)
}

func isJobParty(job *models.Job, userID uuid.UUID) bool {
	if job.ClientID == userID {
		return true
	}
	return job.FreelancerID != nil && *job.FreelancerID == userID
}

// mapMilestoneError переводит sentinel-ошибки репозитория в таксономию API.
func mapMilestoneError(err error) error {
	switch {
	case errors.Is(err, repository.ErrMilestoneNotFound):
		return apperror.ErrMilestoneNotFound
	case errors.Is(err, repository.ErrNotClient):
		return apperror.ErrForbidden
	case errors.Is(err, repository.ErrInvalidStatus):
		return apperror.ErrInvalidState
	default:
		return err
	}
}
