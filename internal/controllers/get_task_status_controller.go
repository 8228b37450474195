package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/imagegate/internal/services"

	"github.com/gin-gonic/gin"
)

type getTaskStatusController struct{ svc services.GenerationService }

func NewGetTaskStatusController(svc services.GenerationService) *getTaskStatusController {
	return &getTaskStatusController{svc}
}

func (h *getTaskStatusController) Handle(c *gin.Context) {
	task, err := h.svc.TaskStatus(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successBody{Success: true, Data: task})
}
