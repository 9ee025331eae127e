package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codyseavey/tcg-pricesync/internal/services"
)

type RunHandler struct {
	store *services.PriceStore
	log   *zap.Logger
}

func NewRunHandler(store *services.PriceStore, log *zap.Logger) *RunHandler {
	return &RunHandler{store: store, log: log}
}

// ListRuns returns recent import runs, newest first, without their rejected records
func (h *RunHandler) ListRuns(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("Failed to list import runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun returns one run with its rejected records
func (h *RunHandler) GetRun(c *gin.Context) {
	run, err := h.store.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "import run not found"})
		return
	}
	if err != nil {
		h.log.Error("Failed to load import run", zap.String("run_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, run)
}
