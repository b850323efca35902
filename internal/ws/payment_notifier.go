package ws

import (
	"github.com/google/uuid"

	"github.com/Amineeeeee523/khalilos/internal/logger"
	"github.com/Amineeeeee523/khalilos/internal/models"
)

// PaymentNotifier рассылает сторонам сделки изменения статуса вехи по WebSocket.
type PaymentNotifier struct {
	hub *Hub
}

// NewPaymentNotifier создаёт нотификатор поверх хаба.
func NewPaymentNotifier(hub *Hub) *PaymentNotifier {
	return &PaymentNotifier{hub: hub}
}

// NotifyPaymentStatus отправляет пользователю актуальное состояние вехи.
// Ошибка доставки логируется и не влияет на бизнес-операцию.
func (n *PaymentNotifier) NotifyPaymentStatus(userID uuid.UUID, milestone *models.Milestone) {
	if err := n.hub.BroadcastToUser(userID, "payment.status", milestone); err != nil {
		logger.Log.WithError(err).
			WithField("user_id", userID).
			WithField("milestone_id", milestone.ID).
			Warn("не удалось отправить уведомление о статусе платежа")
	}
}
