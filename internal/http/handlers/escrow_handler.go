package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Amineeeeee523/khalilos/internal/dto"
	"github.com/Amineeeeee523/khalilos/internal/http/handlers/common"
	"github.com/Amineeeeee523/khalilos/internal/pkg/apperror"
	"github.com/Amineeeeee523/khalilos/internal/repository"
	"github.com/Amineeeeee523/khalilos/internal/service"
)

// EscrowHandler обслуживает REST API платёжных вех.
type EscrowHandler struct {
	escrow *service.EscrowService
	users  *repository.UserRepository
}

// NewEscrowHandler создаёт новый хэндлер.
func NewEscrowHandler(escrow *service.EscrowService, users *repository.UserRepository) *EscrowHandler {
	return &EscrowHandler{escrow: escrow, users: users}
}

// CreateMilestone POST /payments/milestones
func (h *EscrowHandler) CreateMilestone(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateMilestoneRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		common.RespondBadRequest(c, "неверный job_id")
		return
	}

	gross, err := decimal.NewFromString(req.Amount)
	if err != nil {
		common.RespondBadRequest(c, "неверный формат суммы")
		return
	}

	milestone, err := h.escrow.CreateMilestone(c.Request.Context(), service.CreateMilestoneInput{
		JobID:    jobID,
		Seq:      req.Seq,
		Title:    req.Title,
		Gross:    gross,
		Currency: req.Currency,
	}, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, milestone)
}

// UpdateAmount PUT /payments/milestones/:id/amount
func (h *EscrowHandler) UpdateAmount(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	milestoneID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.UpdateMilestoneAmountRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	gross, err := decimal.NewFromString(req.Amount)
	if err != nil {
		common.RespondBadRequest(c, "неверный формат суммы")
		return
	}

	milestone, err := h.escrow.UpdateAmount(c.Request.Context(), milestoneID, gross, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, milestone)
}

// Checkout POST /payments/milestones/:id/checkout
func (h *EscrowHandler) Checkout(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	milestoneID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	milestone, err := h.escrow.InitCheckout(c.Request.Context(), milestoneID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewCheckoutResponse(milestone))
}

// Approve POST /payments/milestones/:id/approve
func (h *EscrowHandler) Approve(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	milestoneID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	milestone, err := h.escrow.Approve(c.Request.Context(), milestoneID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, milestone)
}

// Reject POST /payments/milestones/:id/reject
func (h *EscrowHandler) Reject(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	milestoneID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	milestone, err := h.escrow.Reject(c.Request.Context(), milestoneID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, milestone)
}

// Summary GET /payments/jobs/:id/summary
func (h *EscrowHandler) Summary(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	summary, err := h.escrow.Summary(c.Request.Context(), jobID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Audit GET /payments/milestones/:id/audit
func (h *EscrowHandler) Audit(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	milestoneID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	events, err := h.escrow.AuditTrail(c.Request.Context(), milestoneID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Balance GET /payments/balance
func (h *EscrowHandler) Balance(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	user, err := h.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			common.RespondAppError(c, apperror.ErrUserNotFound)
			return
		}
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.BalanceResponse{
		UserID:  user.ID.String(),
		Balance: user.EscrowBalance,
	})
}
