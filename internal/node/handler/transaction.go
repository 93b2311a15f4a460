package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/powledger/internal/ledger"
	"github.com/jmerrifield20/powledger/internal/node/service"
	"go.uber.org/zap"
)

// TransactionHandler accepts transactions into the pending pool.
type TransactionHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(svc *service.Service, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{svc: svc, logger: logger}
}

// Register mounts the transaction routes on the given router group.
func (h *TransactionHandler) Register(rg *gin.RouterGroup) {
	txs := rg.Group("/transactions")
	{
		txs.POST("", h.Create)
		txs.GET("/pending", h.Pending)
	}
}

type createTransactionRequest struct {
	Sender    string   `json:"sender"    binding:"required"`
	Recipient string   `json:"recipient" binding:"required"`
	Amount    *float64 `json:"amount"    binding:"required"`
}

// Create handles POST /transactions.
func (h *TransactionHandler) Create(c *gin.Context) {
	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender, recipient and amount are required"})
		return
	}

	idx, err := h.svc.SubmitTransaction(c.Request.Context(), req.Sender, req.Recipient, *req.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidTransaction) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("submit transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit transaction"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "transaction will be added to block",
		"index":   idx,
	})
}

// Pending handles GET /transactions/pending.
func (h *TransactionHandler) Pending(c *gin.Context) {
	pending := h.svc.Ledger().PendingTransactions()
	c.JSON(http.StatusOK, gin.H{
		"transactions": pending,
		"count":        len(pending),
	})
}
