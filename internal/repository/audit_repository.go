package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Amineeeeee523/khalilos/internal/models"
)

// AuditRepository читает неизменяемый журнал платёжных событий.
// Записи добавляются только внутри транзакций переходов (см. MilestoneRepository).
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// ListByMilestone возвращает события транша в хронологическом порядке.
func (r *AuditRepository) ListByMilestone(ctx context.Context, milestoneID uuid.UUID) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT id, milestone_id, event, details, created_at
		FROM payment_audit WHERE milestone_id = $1 ORDER BY created_at, id
	`, milestoneID)
	return events, err
}
