package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы задания
const (
	JobStatusOpen       = "open"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusCancelled  = "cancelled"
)

// Job описывает задание, связывающее клиента и выбранного фрилансера.
// Платёжное ядро читает его как внешнюю сущность: payer, payee и статус,
// который engine продвигает в completed после выплаты всех траншей.
type Job struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	ClientID     uuid.UUID  `db:"client_id" json:"client_id"`
	FreelancerID *uuid.UUID `db:"freelancer_id" json:"freelancer_id,omitempty"`
	Title        string     `db:"title" json:"title"`
	Status       string     `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
