package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статусы milestone (эскроу-транша)
const (
	MilestoneStatusPendingDeposit = "pending_deposit" // создан, checkout ещё не сгенерирован
	MilestoneStatusPendingPayment = "pending_payment" // checkout сгенерирован, ждём оплату клиента
	MilestoneStatusFundsHeld      = "funds_held"      // шлюз подтвердил оплату, средства заблокированы
	MilestoneStatusApproved       = "approved"        // клиент принял работу, ждём capture
	MilestoneStatusPaid           = "paid"            // средства переведены фрилансеру
	MilestoneStatusRejected       = "rejected"        // клиент отклонил работу
	MilestoneStatusCaptureError   = "capture_error"   // ошибка перевода, ждёт retry
)

// События аудита
const (
	AuditMilestoneCreated = "MILESTONE_CREATED"
	AuditAmountUpdated    = "AMOUNT_UPDATED"
	AuditCheckoutCreated  = "CHECKOUT_CREATED"
	AuditDepositConfirmed = "DEPOSIT_CONFIRMED"
	AuditDepositCancelled = "DEPOSIT_CANCELLED"
	AuditWorkApproved     = "WORK_APPROVED"
	AuditWorkRejected     = "WORK_REJECTED"
	AuditCaptureOK        = "CAPTURE_OK"
	AuditCaptureFailed    = "CAPTURE_FAILED"
	AuditJobCompleted     = "JOB_COMPLETED"
)

// CommissionRate — комиссия платформы (7%).
var CommissionRate = decimal.NewFromFloat(0.07)

// Milestone представляет транш оплаты, защищённый escrow.
// Работа оплачивается по траншам: депозит → блокировка → приёмка → выплата.
type Milestone struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Version      int64     `db:"version" json:"version"`
	JobID        uuid.UUID `db:"job_id" json:"job_id"`
	ClientID     uuid.UUID `db:"client_id" json:"client_id"`
	FreelancerID uuid.UUID `db:"freelancer_id" json:"freelancer_id"`

	Seq   int    `db:"seq" json:"seq"`
	Title string `db:"title" json:"title"`

	GrossAmount decimal.Decimal `db:"gross_amount" json:"gross_amount"`
	Commission  decimal.Decimal `db:"commission" json:"commission"`
	NetAmount   decimal.Decimal `db:"net_amount" json:"net_amount"`
	Currency    string          `db:"currency" json:"currency"`

	Status string `db:"status" json:"status"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	DepositedAt *time.Time `db:"deposited_at" json:"deposited_at,omitempty"`
	ApprovedAt  *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	PaidAt      *time.Time `db:"paid_at" json:"paid_at,omitempty"`

	CheckoutID *string `db:"checkout_id" json:"checkout_id,omitempty"`
	PaymentURL *string `db:"payment_url" json:"payment_url,omitempty"`
}

// RecalculateCommission пересчитывает комиссию и чистую сумму из брутто.
// Комиссия всегда вычисляется заново, никогда не накапливается:
// commission = round_half_up(gross × rate, 2), net = gross − commission.
func (m *Milestone) RecalculateCommission() {
	m.Commission = m.GrossAmount.Mul(CommissionRate).Round(2)
	m.NetAmount = m.GrossAmount.Sub(m.Commission)
}

// IsTerminal сообщает, завершён ли транш.
func (m *Milestone) IsTerminal() bool {
	return m.Status == MilestoneStatusPaid || m.Status == MilestoneStatusRejected
}

// AuditEvent — запись неизменяемого журнала платёжных событий.
// Никогда не обновляется и не удаляется.
type AuditEvent struct {
	ID          int64     `db:"id" json:"id"`
	MilestoneID uuid.UUID `db:"milestone_id" json:"milestone_id"`
	Event       string    `db:"event" json:"event"`
	Details     string    `db:"details" json:"details"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// JobPaymentSummary — агрегат по траншам задания.
type JobPaymentSummary struct {
	JobID           uuid.UUID       `json:"job_id"`
	Title           string          `json:"title"`
	TotalGross      decimal.Decimal `json:"total_gross"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	TotalNet        decimal.Decimal `json:"total_net"`
	Milestones      []Milestone     `json:"milestones"`
}
