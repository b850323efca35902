package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Amineeeeee523/khalilos/internal/models"
	"github.com/Amineeeeee523/khalilos/internal/repository/common"
)

var ErrJobNotFound = errors.New("job not found")

// JobRepository читает задания. Жизненный цикл задания (создание, матчинг)
// принадлежит внешнему сервису; платёжное ядро только читает стороны сделки,
// а завершение задания происходит в транзакции выплаты.
type JobRepository struct {
	db *sqlx.DB
}

func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// GetJob возвращает задание по ID.
func (r *JobRepository) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return common.GetByID[models.Job](ctx, r.db, "jobs", id, ErrJobNotFound)
}
