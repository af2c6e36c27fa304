package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/transcriber/internal/api/dto"
	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/gin-gonic/gin"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindGone:
		return http.StatusGone
	case domain.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.KindUnsupported:
		return http.StatusUnsupportedMediaType
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindUpstream:
		return http.StatusBadGateway
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError aborts the request with the error envelope. Errors outside
// the domain taxonomy are logged and reported as INTERNAL_ERROR without
// leaking their text.
func RespondError(c *gin.Context, logger *slog.Logger, err error) {
	de, ok := domain.AsError(err)
	if !ok {
		logger.Error("Unhandled request error",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorBody{
			Error: dto.ErrorDetail{
				Code:    domain.CodeInternal,
				Message: "An unexpected error occurred",
			},
		})
		return
	}

	status := StatusFor(de.Kind)
	if status >= http.StatusInternalServerError {
		logger.Warn("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("code", de.Code),
			slog.String("error", err.Error()),
		)
	}
	c.AbortWithStatusJSON(status, dto.ErrorBody{
		Error: dto.ErrorDetail{
			Code:    de.Code,
			Message: de.Message,
			Details: de.Details,
		},
	})
}
