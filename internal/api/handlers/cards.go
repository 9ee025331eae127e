package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codyseavey/tcg-pricesync/internal/models"
	"github.com/codyseavey/tcg-pricesync/internal/services"
)

// recentHistory is how many observations GetCard embeds
const recentHistory = 30

type CardHandler struct {
	store *services.PriceStore
	log   *zap.Logger
}

func NewCardHandler(store *services.PriceStore, log *zap.Logger) *CardHandler {
	return &CardHandler{store: store, log: log}
}

// GetCard returns a card with its current value and most recent observations
func (h *CardHandler) GetCard(c *gin.Context) {
	id := c.Param("id")

	card, err := h.store.GetCard(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	history, err := h.store.History(c.Request.Context(), id, "", recentHistory)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, models.CardWithHistory{Card: *card, History: history})
}

// GetHistory returns a card's price history, newest first.
// Query: variant (any spelling NormalizeVariant accepts), limit.
func (h *CardHandler) GetHistory(c *gin.Context) {
	id := c.Param("id")

	var variant models.Variant
	if v := c.Query("variant"); v != "" {
		variant = models.NormalizeVariant(v)
	}

	limit := 0
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	if _, err := h.store.GetCard(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}

	history, err := h.store.History(c.Request.Context(), id, variant, limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"card_id": id,
		"variant": variant,
		"history": history,
	})
}

func (h *CardHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.log.Error("Card request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
