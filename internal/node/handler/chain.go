package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/powledger/internal/ledger"
	"github.com/jmerrifield20/powledger/internal/node/service"
	"go.uber.org/zap"
)

// ChainHandler exposes read-only HTTP endpoints for the block chain.
type ChainHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewChainHandler creates a new ChainHandler.
func NewChainHandler(svc *service.Service, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{svc: svc, logger: logger}
}

// Register mounts the chain routes on the given router group.
func (h *ChainHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/chain", h.FullChain)
	rg.GET("/chain/verify", h.Verify)
	rg.GET("/blocks/:index", h.GetBlock)
	rg.GET("/node", h.NodeInfo)
}

// FullChain handles GET /chain and returns every block and the chain length.
func (h *ChainHandler) FullChain(c *gin.Context) {
	chain := h.svc.Ledger().Chain()
	c.JSON(http.StatusOK, gin.H{
		"chain":  chain,
		"length": len(chain),
	})
}

// Verify handles GET /chain/verify. It walks the full chain and reports integrity.
func (h *ChainHandler) Verify(c *gin.Context) {
	if err := h.svc.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("chain integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetBlock handles GET /blocks/:index and returns a single block by 1-based index.
func (h *ChainHandler) GetBlock(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a positive integer"})
		return
	}

	block, err := h.svc.Ledger().Block(idx)
	if err != nil {
		if errors.Is(err, ledger.ErrBlockNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
			return
		}
		h.logger.Error("ledger Block", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read block"})
		return
	}

	c.JSON(http.StatusOK, block)
}

// NodeInfo handles GET /node and returns the node identity and mining parameters.
func (h *ChainHandler) NodeInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"node_id":    h.svc.NodeID(),
		"difficulty": h.svc.Difficulty(),
		"reward":     h.svc.Reward(),
		"length":     h.svc.Ledger().Len(),
	})
}
