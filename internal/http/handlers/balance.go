package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type BalanceChecker interface {
	CheckBalance(ctx context.Context) (decimal.Decimal, error)
}

type BalanceHandler struct {
	svc BalanceChecker
}

func NewBalanceHandler(svc BalanceChecker) *BalanceHandler {
	return &BalanceHandler{svc: svc}
}

func (h *BalanceHandler) Get(ctx *gin.Context) {
	b, err := h.svc.CheckBalance(ctx.Request.Context())
	if err != nil {
		RespondPipelineError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"balance": b.String(),
		"message": b.String() + " credits in the account",
	})
}
