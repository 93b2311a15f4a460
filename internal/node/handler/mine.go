package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/powledger/internal/ledger"
	"github.com/jmerrifield20/powledger/internal/node/service"
	"go.uber.org/zap"
)

// MineHandler runs the proof-of-work search and seals a block on request.
type MineHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewMineHandler creates a new MineHandler.
func NewMineHandler(svc *service.Service, logger *zap.Logger) *MineHandler {
	return &MineHandler{svc: svc, logger: logger}
}

// Register mounts the mining route on the given router group.
func (h *MineHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/mine", h.Mine)
}

// Mine handles POST /mine. The search is bound to the request context, so a
// client that disconnects cancels it.
func (h *MineHandler) Mine(c *gin.Context) {
	res, err := h.svc.Mine(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMiningCancelled):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mining cancelled before a proof was found"})
		case errors.Is(err, ledger.ErrInvalidProof), errors.Is(err, ledger.ErrPreviousHashMismatch):
			c.JSON(http.StatusConflict, gin.H{"error": "chain tip changed during mining, retry"})
		default:
			h.logger.Error("mine", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mine block"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "new block forged",
		"block":      res.Block,
		"attempts":   res.Attempts,
		"elapsed_ms": res.Elapsed.Milliseconds(),
	})
}
