package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type healthChecker interface {
	Health(ctx context.Context) error
}

type healthController struct {
	storage healthChecker
	backend string
}

func NewHealthController(storage healthChecker, backend string) *healthController {
	return &healthController{storage: storage, backend: backend}
}

func (h *healthController) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if h.storage != nil {
		if err := h.storage.Health(ctx); err != nil {
			requestLogger(c).Warn("storage health check failed", "backend", h.backend, "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "storage": h.backend})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "storage": h.backend})
}
