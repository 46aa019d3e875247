package controller

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"account-api/internal/models"
	"account-api/internal/service"
)

type AccountController struct {
	accountService service.AccountService
}

func NewAccountController(accountService service.AccountService) *AccountController {
	return &AccountController{
		accountService: accountService,
	}
}

// @Summary Open a new payment account
// @Tags accounts
// @Accept json
// @Produce json
// @Param request body service.OpenAccountRequest true "Open account request"
// @Success 201 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Router /api/accounts [post]
func (c *AccountController) OpenAccount(ctx *gin.Context) {
	var req service.OpenAccountRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	account, err := c.accountService.OpenAccount(ctx.Request.Context(), &req)
	if err != nil {
		c.writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, account)
}

// @Summary Get an account by number
// @Tags accounts
// @Produce json
// @Param number path string true "Account number"
// @Success 200 {object} models.Account
// @Failure 404 {object} ErrorResponse
// @Router /api/accounts/{number} [get]
func (c *AccountController) GetAccount(ctx *gin.Context) {
	account, err := c.accountService.GetAccount(ctx.Request.Context(), ctx.Param("number"))
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, account)
}

// @Summary List accounts for an owner
// @Tags accounts
// @Produce json
// @Param owner_type query string true "Owner type (USER or PROJECT)"
// @Param owner_id query int true "Owner external id"
// @Success 200 {object} map[string]interface{}
// @Router /api/accounts [get]
func (c *AccountController) ListAccounts(ctx *gin.Context) {
	ownerID, err := strconv.ParseInt(ctx.Query("owner_id"), 10, 64)
	if err != nil || ownerID <= 0 {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid owner id",
			Message: "owner_id must be a positive integer",
		})
		return
	}

	owner := models.Owner{
		Type:       models.OwnerType(ctx.Query("owner_type")),
		ExternalID: ownerID,
	}
	limit, offset := pagination(ctx)

	accounts, err := c.accountService.ListAccounts(ctx.Request.Context(), owner, limit, offset)
	if err != nil {
		c.writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
		"limit":    limit,
		"offset":   offset,
	})
}

// @Summary Suspend an account
// @Tags accounts
// @Produce json
// @Param number path string true "Account number"
// @Success 200 {object} models.Account
// @Router /api/accounts/{number}/suspend [post]
func (c *AccountController) SuspendAccount(ctx *gin.Context) {
	c.applyTransition(ctx, c.accountService.SuspendAccount)
}

// @Summary Re-activate a suspended account
// @Tags accounts
// @Produce json
// @Param number path string true "Account number"
// @Success 200 {object} models.Account
// @Router /api/accounts/{number}/activate [post]
func (c *AccountController) ActivateAccount(ctx *gin.Context) {
	c.applyTransition(ctx, c.accountService.ActivateAccount)
}

// @Summary Close an account
// @Tags accounts
// @Produce json
// @Param number path string true "Account number"
// @Success 200 {object} models.Account
// @Router /api/accounts/{number}/close [post]
func (c *AccountController) CloseAccount(ctx *gin.Context) {
	c.applyTransition(ctx, c.accountService.CloseAccount)
}

func (c *AccountController) applyTransition(ctx *gin.Context, fn func(ctx context.Context, number string) (*models.Account, error)) {
	account, err := fn(ctx.Request.Context(), ctx.Param("number"))
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, account)
}

func (c *AccountController) writeError(ctx *gin.Context, err error) {
	status := statusFor(err)
	ctx.JSON(status, ErrorResponse{
		Error:   errorTitle(status),
		Message: err.Error(),
	})
}
