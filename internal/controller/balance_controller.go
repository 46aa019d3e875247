package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"account-api/internal/ledger"
	"account-api/internal/models"
)

type BalanceController struct {
	engine ledger.Engine
}

func NewBalanceController(engine ledger.Engine) *BalanceController {
	return &BalanceController{
		engine: engine,
	}
}

// OperationRequest is the payload for a single balance mutation.
type OperationRequest struct {
	Kind        string          `json:"kind" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	OperationID string          `json:"operation_id"`
}

// TransferRequest moves funds between two accounts.
type TransferRequest struct {
	FromAccount string          `json:"from_account" binding:"required"`
	ToAccount   string          `json:"to_account" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	OperationID string          `json:"operation_id"`
}

// @Summary Get the balance of an account
// @Tags balances
// @Produce json
// @Param number path string true "Account number"
// @Success 200 {object} models.BalanceView
// @Failure 404 {object} ErrorResponse
// @Router /api/balances/{number} [get]
func (c *BalanceController) GetBalance(ctx *gin.Context) {
	view, err := c.engine.GetBalance(ctx.Request.Context(), ctx.Param("number"))
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

// @Summary Apply a balance operation
// @Description Applies INCREASE, DECREASE, RESERVE, RELEASE or CANCEL_RESERVATION to an account
// @Tags balances
// @Accept json
// @Produce json
// @Param number path string true "Account number"
// @Param request body OperationRequest true "Operation request"
// @Success 200 {object} models.BalanceView
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/balances/{number}/operations [post]
func (c *BalanceController) ApplyOperation(ctx *gin.Context) {
	var req OperationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	kind, err := models.ParseOperationKind(req.Kind)
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	if kind == models.OperationTransfer {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: "use the transfer endpoint for transfers",
		})
		return
	}

	view, err := c.engine.Apply(ctx.Request.Context(), ledger.Command{
		AccountNumber: ctx.Param("number"),
		Kind:          kind,
		Amount:        req.Amount,
		OperationID:   req.OperationID,
	})
	if err != nil {
		c.writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, view)
}

// @Summary Transfer funds between accounts
// @Tags balances
// @Accept json
// @Produce json
// @Param request body TransferRequest true "Transfer request"
// @Success 200 {object} ledger.TransferResult
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /api/balances/transfer [post]
func (c *BalanceController) Transfer(ctx *gin.Context) {
	var req TransferRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	result, err := c.engine.Transfer(ctx.Request.Context(), ledger.TransferCommand{
		FromAccount: req.FromAccount,
		ToAccount:   req.ToAccount,
		Amount:      req.Amount,
		OperationID: req.OperationID,
	})
	if err != nil {
		c.writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

// @Summary Get the audit trail of an account
// @Tags balances
// @Produce json
// @Param number path string true "Account number"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /api/balances/{number}/audit [get]
func (c *BalanceController) GetAuditTrail(ctx *gin.Context) {
	limit, offset := pagination(ctx)

	records, err := c.engine.History(ctx.Request.Context(), ctx.Param("number"), limit, offset)
	if err != nil {
		c.writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"account_number": ctx.Param("number"),
		"records":        records,
		"limit":          limit,
		"offset":         offset,
	})
}

func (c *BalanceController) writeError(ctx *gin.Context, err error) {
	status := statusFor(err)
	ctx.JSON(status, ErrorResponse{
		Error:   errorTitle(status),
		Message: err.Error(),
	})
}
