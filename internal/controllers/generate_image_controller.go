package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/osvaldoandrade/imagegate/internal/services"
	"github.com/osvaldoandrade/imagegate/pkg/domain"

	"github.com/gin-gonic/gin"
)

type generateImageController struct{ svc services.GenerationService }

func NewGenerateImageController(svc services.GenerationService) *generateImageController {
	return &generateImageController{svc}
}

func (h *generateImageController) Handle(c *gin.Context) {
	var req domain.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		// An empty body falls through so the missing prompt is reported.
		respondError(c, domain.NewValidationError(domain.CodeInvalidBody, "invalid request body"))
		return
	}

	if req.Async {
		task, err := h.svc.Submit(c.Request.Context(), req)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, successBody{Success: true, Message: "Generation task created", Data: task})
		return
	}

	res, err := h.svc.Generate(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, successBody{Success: true, Message: "Image generated successfully", Data: res})
}

func (h *generateImageController) fail(c *gin.Context, err error) {
	if services.IsClientCanceled(err) && c.Request.Context().Err() != nil {
		requestLogger(c).Info("client went away during generation")
		c.AbortWithStatus(statusClientClosedRequest)
		return
	}
	respondError(c, err)
}
