package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/generator"
	"github.com/Trojaner/ImpostorBot/internal/middleware"
	"github.com/Trojaner/ImpostorBot/internal/model_store"
	"github.com/Trojaner/ImpostorBot/internal/rnn"
)

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generator.ErrInvalidRequest), errors.Is(err, model_store.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, generator.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, rnn.ErrTraining):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generator.ErrTrainingTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes err as JSON. Client errors carry the error text;
// server errors are logged and answered with fallback.
func abortWithError(c *gin.Context, logger *zap.Logger, err error, fallback string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		logger.Error(fallback,
			zap.String("request_id", middleware.RequestID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.AbortWithStatusJSON(status, gin.H{"error": fallback, "request_id": middleware.RequestID(c)})
		return
	}
	logger.Info("Request failed",
		zap.String("request_id", middleware.RequestID(c)),
		zap.Int("status", status),
		zap.Error(err))
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "request_id": middleware.RequestID(c)})
}
