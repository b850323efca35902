package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User описывает сущность пользователя платформы.
// Профили, регистрация и аутентификация живут во внешнем сервисе;
// платёжному ядру нужен только накопительный escrow-баланс.
type User struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	Email         string          `db:"email" json:"email"`
	Username      string          `db:"username" json:"username"`
	Role          string          `db:"role" json:"role"`
	EscrowBalance decimal.Decimal `db:"escrow_balance" json:"escrow_balance"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}
