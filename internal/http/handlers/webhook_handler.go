package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Amineeeeee523/khalilos/internal/dto"
	"github.com/Amineeeeee523/khalilos/internal/http/handlers/common"
	"github.com/Amineeeeee523/khalilos/internal/logger"
	"github.com/Amineeeeee523/khalilos/internal/service"
)

// WebhookHandler принимает коллбеки платёжного шлюза.
type WebhookHandler struct {
	escrow *service.EscrowService
}

// NewWebhookHandler создаёт новый хэндлер.
func NewWebhookHandler(escrow *service.EscrowService) *WebhookHandler {
	return &WebhookHandler{escrow: escrow}
}

// HandlePaymee POST /webhooks/paymee
// Шлюз повторяет доставку до получения 2xx, поэтому ответ должен быть
// идемпотентным: повторный коллбек по уже обработанному checkout — это 200.
func (h *WebhookHandler) HandlePaymee(c *gin.Context) {
	var req dto.PaymeeWebhookRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	logger.Log.WithField("checkout_id", req.Token).
		WithField("status", req.Status).
		Info("получен webhook от Paymee")

	if err := h.escrow.HandleWebhook(c.Request.Context(), req.Token, req.Status); err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
