package controllers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/osvaldoandrade/imagegate/internal/metrics"
	"github.com/osvaldoandrade/imagegate/internal/services"
	"github.com/osvaldoandrade/imagegate/pkg/domain"

	"github.com/gin-gonic/gin"
)

type getImageController struct{ svc services.AssetService }

func NewGetImageController(svc services.AssetService) *getImageController {
	return &getImageController{svc}
}

func (h *getImageController) Handle(c *gin.Context) {
	asset, err := h.svc.Resolve(c.Request.Context(), c.Param("guid"))
	if err != nil {
		metrics.AssetDeliveriesTotal.WithLabelValues(deliveryOutcome(err)).Inc()
		respondError(c, err)
		return
	}

	// Nothing is written until the file is known to be readable.
	f, info, err := openRegular(asset.Path)
	if err != nil {
		metrics.AssetDeliveriesTotal.WithLabelValues("send_failed").Inc()
		requestLogger(c).Error("send image failed", "guid", asset.Record.GUID, "path", asset.Path, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Code: domain.CodeFileSend, Message: "failed to send file"})
		return
	}
	defer f.Close()

	metrics.AssetDeliveriesTotal.WithLabelValues("served").Inc()
	c.Header("Content-Type", asset.ContentType)
	http.ServeContent(c.Writer, c.Request, filepath.Base(asset.Path), info.ModTime(), f)
}

func openRegular(p string) (*os.File, os.FileInfo, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, nil, fmt.Errorf("%s is not a regular file", p)
	}
	return f, info, nil
}

func deliveryOutcome(err error) string {
	switch {
	case domain.IsKind(err, domain.KindNotFound):
		return "not_found"
	case domain.IsKind(err, domain.KindValidation):
		return "invalid"
	}
	return "send_failed"
}
