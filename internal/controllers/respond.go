package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/osvaldoandrade/imagegate/internal/providers"
	"github.com/osvaldoandrade/imagegate/pkg/domain"

	"github.com/gin-gonic/gin"
)

// statusClientClosedRequest is logged when the caller disconnects mid-request.
const statusClientClosedRequest = 499

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type successBody struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

func respondError(c *gin.Context, err error) {
	status, body := statusFor(err)
	log := requestLogger(c)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", c.FullPath(), "status", status, "code", body.Code, "err", err)
	} else {
		log.Info("request rejected", "path", c.FullPath(), "status", status, "code", body.Code)
	}
	c.Set("errorCode", body.Code)
	c.AbortWithStatusJSON(status, body)
}

// statusFor maps an error to its HTTP status and public envelope. Error.Data
// and causes stay server side.
func statusFor(err error) (int, errorBody) {
	if errors.Is(err, providers.ErrPathEscapesRoot) {
		return http.StatusInternalServerError, errorBody{Code: domain.CodeFileSend, Message: "failed to send file"}
	}
	de, ok := domain.AsError(err)
	if !ok {
		return http.StatusInternalServerError, errorBody{Code: domain.CodeInternal, Message: "internal error"}
	}
	body := errorBody{Code: de.Code, Message: de.Message}
	switch de.Kind {
	case domain.KindValidation, domain.KindAPIKey:
		return http.StatusBadRequest, body
	case domain.KindNotFound:
		return http.StatusNotFound, body
	case domain.KindGeneration:
		if de.Code == domain.CodeTimeout {
			return http.StatusGatewayTimeout, body
		}
		return http.StatusBadGateway, body
	}
	return http.StatusInternalServerError, errorBody{Code: domain.CodeInternal, Message: "internal error"}
}

// requestLogger returns the request-scoped logger set by the logging
// middleware, or the default logger.
func requestLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
