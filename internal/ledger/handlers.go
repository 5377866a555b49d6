package ledger

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ksred/klear-options/internal/types"
	"github.com/ksred/klear-options/pkg/middleware"
	"github.com/ksred/klear-options/pkg/response"
)

// DepositNotification is the payment gateway callback body
type DepositNotification struct {
	UserID      string            `json:"userId" binding:"required"`
	AccountType types.AccountType `json:"accountType" binding:"required"`
	Amount      int64             `json:"amount" binding:"required"`
	Reference   string            `json:"reference" binding:"required"`
}

type depositResult struct {
	Reference string `json:"reference"`
	Credited  bool   `json:"credited"`
	Duplicate bool   `json:"duplicate"`
}

// GinHandlers contains HTTP handlers for balance endpoints
type GinHandlers struct {
	service   *Service
	demoBonus int64
}

func NewGinHandlers(service *Service, demoBonus int64) *GinHandlers {
	return &GinHandlers{
		service:   service,
		demoBonus: demoBonus,
	}
}

// BalanceHandler handles GET requests for the caller's balance
// Query: accountType (default real)
func (h *GinHandlers) BalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountType, ok := accountTypeQuery(c)
		if !ok {
			return
		}

		balance, err := h.service.CurrentBalance(c.Request.Context(), middleware.UserID(c), accountType)
		if err != nil {
			response.Fail(c, err)
			return
		}

		response.Success(c, types.BalanceResponse{AccountType: accountType, Balance: balance})
	}
}

// EntriesHandler handles GET requests for the caller's ledger history
func (h *GinHandlers) EntriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountType, ok := accountTypeQuery(c)
		if !ok {
			return
		}

		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil {
			response.BadRequest(c, "limit must be an integer")
			return
		}

		entries, err := h.service.Entries(c.Request.Context(), middleware.UserID(c), accountType, limit)
		response.Handle(c, entries, err)
	}
}

// DemoResetHandler handles POST requests restoring the demo balance
func (h *GinHandlers) DemoResetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		balance, err := h.service.ResetDemo(c.Request.Context(), middleware.UserID(c), h.demoBonus)
		if err != nil {
			response.Fail(c, err)
			return
		}

		response.Success(c, types.BalanceResponse{AccountType: types.AccountDemo, Balance: balance})
	}
}

// DepositWebhookHandler handles signed gateway callbacks confirming a deposit.
// A replayed reference is acknowledged without crediting again.
func (h *GinHandlers) DepositWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var n DepositNotification
		if err := c.ShouldBindJSON(&n); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if !n.AccountType.Valid() || n.Amount <= 0 {
			response.BadRequest(c, "accountType must be real or demo and amount must be positive")
			return
		}

		logger := log.With().
			Str("service", "ledger").
			Str("user_id", n.UserID).
			Str("reference", n.Reference).
			Logger()

		err := h.service.Deposit(c.Request.Context(), n.UserID, n.AccountType, n.Amount, n.Reference)
		switch {
		case err == nil:
			logger.Info().Int64("amount", n.Amount).Msg("deposit credited")
			response.Success(c, depositResult{Reference: n.Reference, Credited: true})
		case errors.Is(err, ErrDuplicateEntry):
			logger.Warn().Msg("duplicate deposit notification ignored")
			response.Success(c, depositResult{Reference: n.Reference, Duplicate: true})
		default:
			logger.Error().Err(err).Msg("failed to credit deposit")
			response.Fail(c, err)
		}
	}
}

func accountTypeQuery(c *gin.Context) (types.AccountType, bool) {
	accountType := types.AccountType(c.DefaultQuery("accountType", string(types.AccountReal)))
	if !accountType.Valid() {
		response.BadRequest(c, "accountType must be real or demo")
		return "", false
	}
	return accountType, true
}
