package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Amineeeeee523/khalilos/internal/models"
	"github.com/Amineeeeee523/khalilos/internal/repository/common"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository читает пользователей. Профили и аутентификация живут во
// внешнем сервисе; здесь нужен только накопительный escrow-баланс, который
// пополняется в транзакции выплаты (MilestoneRepository.MarkPaid).
type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetUser возвращает пользователя по ID.
func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return common.GetByID[models.User](ctx, r.db, "users", id, ErrUserNotFound)
}

// GetUserByEmail возвращает пользователя по email.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return common.GetByField[models.User](ctx, r.db, "users", "email", email, ErrUserNotFound)
}
