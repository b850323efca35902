package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/Amineeeeee523/khalilos/internal/models"
)

var (
	ErrMilestoneNotFound = errors.New("milestone not found")
	ErrUnknownCheckout   = errors.New("unknown checkout reference")
	ErrNotClient         = errors.New("caller is not the client of the milestone")
	ErrInvalidStatus     = errors.New("milestone status does not allow this transition")
)

const milestoneColumns = `id, version, job_id, client_id, freelancer_id, seq, title,
	gross_amount, commission, net_amount, currency, status,
	created_at, deposited_at, approved_at, paid_at, checkout_id, payment_url`

// MilestoneRepository хранит транши и журнал платёжных событий.
// Все защищённые переходы выполняются в одной транзакции под блокировкой
// FOR UPDATE: чтение-модификация-запись одного транша всегда сериализована.
type MilestoneRepository struct {
	db *sqlx.DB
}

func NewMilestoneRepository(db *sqlx.DB) *MilestoneRepository {
	return &MilestoneRepository{db: db}
}

// CreateMilestone сохраняет новый транш и первую запись аудита.
func (r *MilestoneRepository) CreateMilestone(ctx context.Context, m *models.Milestone) (*models.Milestone, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var created models.Milestone
	err = tx.GetContext(ctx, &created, `
		INSERT INTO milestones (job_id, client_id, freelancer_id, seq, title,
			gross_amount, commission, net_amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+milestoneColumns+`
	`, m.JobID, m.ClientID, m.FreelancerID, m.Seq, m.Title,
		m.GrossAmount, m.Commission, m.NetAmount, m.Currency, models.MilestoneStatusPendingDeposit)
	if err != nil {
		return nil, fmt.Errorf("milestone repository: create %w", err)
	}

	if err := insertAudit(ctx, tx, created.ID, models.AuditMilestoneCreated,
		fmt.Sprintf("seq=%d gross=%s %s", created.Seq, created.GrossAmount.StringFixed(2), created.Currency)); err != nil {
		return nil, err
	}

	return &created, tx.Commit()
}

// GetMilestone возвращает транш по ID.
func (r *MilestoneRepository) GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	var m models.Milestone
	err := r.db.GetContext(ctx, &m, `SELECT `+milestoneColumns+` FROM milestones WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMilestoneNotFound
		}
		return nil, fmt.Errorf("milestone repository: get %w", err)
	}
	return &m, nil
}

// UpdateAmount меняет брутто-сумму транша до депозита.
// Комиссия и чистая сумма пересчитываются заново, не накапливаются.
func (r *MilestoneRepository) UpdateAmount(ctx context.Context, id, clientID uuid.UUID, gross decimal.Decimal) (*models.Milestone, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m, err := lockMilestone(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if m.ClientID != clientID {
		return nil, ErrNotClient
	}
	if m.Status != models.MilestoneStatusPendingDeposit {
		return nil, ErrInvalidStatus
	}

	m.GrossAmount = gross
	m.RecalculateCommission()

	err = tx.GetContext(ctx, m, `
		UPDATE milestones
		SET gross_amount = $2, commission = $3, net_amount = $4, version = version + 1
		WHERE id = $1
		RETURNING `+milestoneColumns+`
	`, m.ID, m.GrossAmount, m.Commission, m.NetAmount)
	if err != nil {
		return nil, fmt.Errorf("milestone repository: update amount %w", err)
	}

	if err := insertAudit(ctx, tx, m.ID, models.AuditAmountUpdated,
		fmt.Sprintf("gross=%s commission=%s net=%s",
			m.GrossAmount.StringFixed(2), m.Commission.StringFixed(2), m.NetAmount.StringFixed(2))); err != nil {
		return nil, err
	}

	return m, tx.Commit()
}

// AttachCheckout фиксирует созданный на шлюзе checkout и переводит транш
// в ожидание оплаты. Статус перепроверяется под блокировкой: сам вызов шлюза
// выполняется сервисом заранее, без удержания блокировки.
func (r *MilestoneRepository) AttachCheckout(ctx context.Context, id uuid.UUID, checkoutID, paymentURL string) (*models.Milestone, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m, err := lockMilestone(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if m.Status != models.MilestoneStatusPendingDeposit {
		return nil, ErrInvalidStatus
	}

	err = tx.GetContext(ctx, m, `
		UPDATE milestones
		SET status = $2, deposited_at = $3, checkout_id = $4, payment_url = $5, version = version + 1
		WHERE id = $1
		RETURNING `+milestoneColumns+`
	`, m.ID, models.MilestoneStatusPendingPayment, time.Now(), checkoutID, paymentURL)
	if err != nil {
		return nil, fmt.Errorf("milestone repository: attach checkout %w", err)
	}

	if err := insertAudit(ctx, tx, m.ID, models.AuditCheckoutCreated,
		fmt.Sprintf("checkout_id=%s url=%s", checkoutID, paymentURL)); err != nil {
		return nil, err
	}

	return m, tx.Commit()
}

// ConfirmDeposit обрабатывает подтверждение оплаты по checkout.
// Возвращает applied=false, если переход уже обработан или невозможен —
// повторная доставка вебхука не ошибка.
func (r *MilestoneRepository) ConfirmDeposit(ctx context.Context, checkoutID string) (*models.Milestone, bool, error) {
	return r.resolveDeposit(ctx, checkoutID,
		models.MilestoneStatusFundsHeld, models.AuditDepositConfirmed)
}

// CancelDeposit возвращает транш в ожидание депозита после отмены checkout,
// позволяя сгенерировать новый.
func (r *MilestoneRepository) CancelDeposit(ctx context.Context, checkoutID string) (*models.Milestone, bool, error) {
	return r.resolveDeposit(ctx, checkoutID,
		models.MilestoneStatusPendingDeposit, models.AuditDepositCancelled)
}

func (r *MilestoneRepository) resolveDeposit(ctx context.Context, checkoutID, newStatus, event string) (*models.Milestone, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var m models.Milestone
	err = tx.GetContext(ctx, &m, `
		SELECT `+milestoneColumns+` FROM milestones WHERE checkout_id = $1 FOR UPDATE
	`, checkoutID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrUnknownCheckout
		}
		return nil, false, fmt.Errorf("milestone repository: get by checkout %w", err)
	}

	// Идемпотентность: переход возможен только из ожидания оплаты.
	if m.Status != models.MilestoneStatusPendingPayment {
		return &m, false, tx.Commit()
	}

	err = tx.GetContext(ctx, &m, `
		UPDATE milestones SET status = $2, version = version + 1
		WHERE id = $1
		RETURNING `+milestoneColumns+`
	`, m.ID, newStatus)
	if err != nil {
		return nil, false, fmt.Errorf("milestone repository: resolve deposit %w", err)
	}

	if err := insertAudit(ctx, tx, m.ID, event, "checkout_id="+checkoutID); err != nil {
		return nil, false, err
	}

	return &m, true, tx.Commit()
}

// ApproveMilestone фиксирует приёмку работы клиентом.
func (r *MilestoneRepository) ApproveMilestone(ctx context.Context, id, clientID uuid.UUID) (*models.Milestone, error) {
	return r.clientTransition(ctx, id, clientID,
		models.MilestoneStatusApproved, models.AuditWorkApproved)
}

// RejectMilestone фиксирует отклонение работы клиентом. Терминальный статус.
func (r *MilestoneRepository) RejectMilestone(ctx context.Context, id, clientID uuid.UUID) (*models.Milestone, error) {
	return r.clientTransition(ctx, id, clientID,
		models.MilestoneStatusRejected, models.AuditWorkRejected)
}

func (r *MilestoneRepository) clientTransition(ctx context.Context, id, clientID uuid.UUID, newStatus, event string) (*models.Milestone, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m, err := lockMilestone(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if m.ClientID != clientID {
		return nil, ErrNotClient
	}
	if m.Status != models.MilestoneStatusFundsHeld {
		return nil, ErrInvalidStatus
	}

	query := `
		UPDATE milestones SET status = $2, version = version + 1
		WHERE id = $1
		RETURNING ` + milestoneColumns
	args := []interface{}{m.ID, newStatus}
	if newStatus == models.MilestoneStatusApproved {
		query = `
			UPDATE milestones SET status = $2, approved_at = $3, version = version + 1
			WHERE id = $1
			RETURNING ` + milestoneColumns
		args = append(args, time.Now())
	}

	if err := tx.GetContext(ctx, m, query, args...); err != nil {
		return nil, fmt.Errorf("milestone repository: transition %s %w", newStatus, err)
	}

	if err := insertAudit(ctx, tx, m.ID, event, ""); err != nil {
		return nil, err
	}

	return m, tx.Commit()
}

// MarkPaid завершает capture: статус, дата выплаты, зачисление чистой суммы
// на баланс фрилансера, запись аудита и, если выплачены все транши задания,
// завершение самого задания — всё в одной транзакции.
// Повторный вызов для уже выплаченного транша возвращает applied=false без
// каких-либо записей: это основная защита от дублей триггеров.
func (r *MilestoneRepository) MarkPaid(ctx context.Context, id uuid.UUID) (m *models.Milestone, applied bool, jobCompleted bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, false, err
	}
	defer tx.Rollback()

	m, err = lockMilestone(ctx, tx, id)
	if err != nil {
		return nil, false, false, err
	}

	// Повторный или устаревший триггер: выплата возможна только из approved
	// или capture_error.
	if m.Status != models.MilestoneStatusApproved && m.Status != models.MilestoneStatusCaptureError {
		return m, false, false, tx.Commit()
	}

	err = tx.GetContext(ctx, m, `
		UPDATE milestones SET status = $2, paid_at = $3, version = version + 1
		WHERE id = $1
		RETURNING `+milestoneColumns+`
	`, m.ID, models.MilestoneStatusPaid, time.Now())
	if err != nil {
		return nil, false, false, fmt.Errorf("milestone repository: mark paid %w", err)
	}

	// Накопительный escrow-баланс фрилансера
	_, err = tx.ExecContext(ctx, `
		UPDATE users SET escrow_balance = escrow_balance + $2, updated_at = NOW()
		WHERE id = $1
	`, m.FreelancerID, m.NetAmount)
	if err != nil {
		return nil, false, false, fmt.Errorf("milestone repository: credit balance %w", err)
	}

	if err := insertAudit(ctx, tx, m.ID, models.AuditCaptureOK,
		fmt.Sprintf("net=%s %s", m.NetAmount.StringFixed(2), m.Currency)); err != nil {
		return nil, false, false, err
	}

	// Задание завершено, только когда выплачен каждый его транш.
	var remaining int
	err = tx.GetContext(ctx, &remaining, `
		SELECT COUNT(*) FROM milestones WHERE job_id = $1 AND status <> $2
	`, m.JobID, models.MilestoneStatusPaid)
	if err != nil {
		return nil, false, false, fmt.Errorf("milestone repository: count unpaid %w", err)
	}

	if remaining == 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status = $2, updated_at = NOW() WHERE id = $1
		`, m.JobID, models.JobStatusCompleted)
		if err != nil {
			return nil, false, false, fmt.Errorf("milestone repository: complete job %w", err)
		}
		if err := insertAudit(ctx, tx, m.ID, models.AuditJobCompleted, "job_id="+m.JobID.String()); err != nil {
			return nil, false, false, err
		}
		jobCompleted = true
	}

	return m, true, jobCompleted, tx.Commit()
}

// MarkCaptureFailed переводит транш в ошибку capture с записью причины.
// Транш сохраняется для повторной попытки, никогда не теряется.
func (r *MilestoneRepository) MarkCaptureFailed(ctx context.Context, id uuid.UUID, detail string) (*models.Milestone, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m, err := lockMilestone(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	switch m.Status {
	case models.MilestoneStatusApproved, models.MilestoneStatusFundsHeld, models.MilestoneStatusCaptureError:
	default:
		// Транш успел уйти дальше, ошибка неактуальна.
		return m, tx.Commit()
	}

	err = tx.GetContext(ctx, m, `
		UPDATE milestones SET status = $2, version = version + 1
		WHERE id = $1
		RETURNING `+milestoneColumns+`
	`, m.ID, models.MilestoneStatusCaptureError)
	if err != nil {
		return nil, fmt.Errorf("milestone repository: mark capture failed %w", err)
	}

	if err := insertAudit(ctx, tx, m.ID, models.AuditCaptureFailed, detail); err != nil {
		return nil, err
	}

	return m, tx.Commit()
}

// ListByStatus возвращает транши в заданном статусе (sweep планировщика).
func (r *MilestoneRepository) ListByStatus(ctx context.Context, status string) ([]models.Milestone, error) {
	var list []models.Milestone
	err := r.db.SelectContext(ctx, &list, `
		SELECT `+milestoneColumns+` FROM milestones WHERE status = $1 ORDER BY created_at
	`, status)
	return list, err
}

// ListStaleDeposits возвращает транши, зависшие в ожидании оплаты или
// валидации дольше порога (по дате депозита).
func (r *MilestoneRepository) ListStaleDeposits(ctx context.Context, before time.Time) ([]models.Milestone, error) {
	var list []models.Milestone
	err := r.db.SelectContext(ctx, &list, `
		SELECT `+milestoneColumns+` FROM milestones
		WHERE status IN ($1, $2) AND deposited_at IS NOT NULL AND deposited_at < $3
		ORDER BY deposited_at
	`, models.MilestoneStatusPendingPayment, models.MilestoneStatusFundsHeld, before)
	return list, err
}

// ListByJob возвращает транши задания в порядке следования.
func (r *MilestoneRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Milestone, error) {
	var list []models.Milestone
	err := r.db.SelectContext(ctx, &list, `
		SELECT `+milestoneColumns+` FROM milestones WHERE job_id = $1 ORDER BY seq
	`, jobID)
	return list, err
}

// lockMilestone читает транш под эксклюзивной блокировкой строки.
func lockMilestone(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Milestone, error) {
	var m models.Milestone
	err := tx.GetContext(ctx, &m, `
		SELECT `+milestoneColumns+` FROM milestones WHERE id = $1 FOR UPDATE
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMilestoneNotFound
		}
		return nil, fmt.Errorf("milestone repository: lock %w", err)
	}
	return &m, nil
}

// insertAudit добавляет запись аудита в рамках текущей транзакции.
func insertAudit(ctx context.Context, tx *sqlx.Tx, milestoneID uuid.UUID, event, details string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_audit (milestone_id, event, details) VALUES ($1, $2, $3)
	`, milestoneID, event, details)
	if err != nil {
		return fmt.Errorf("milestone repository: insert audit %w", err)
	}
	return nil
}
