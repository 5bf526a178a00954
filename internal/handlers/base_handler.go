package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/utils"
)

// Response envelopes shared by all handlers.
type (
	ErrorResponse   = models.ErrorResponse
	SuccessResponse = models.SuccessResponse
)

// BaseHandler carries the request-scoped logging shared by every handler.
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// LogRequest logs handler entry with the request-scoped logger.
func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	utils.FromContext(c, h.logger).Info(msg, args...)
}

// LogError logs a handler failure with the request-scoped logger.
func (h *BaseHandler) LogError(c *gin.Context, err error, msg string, args ...any) {
	args = append(args, "error", err)
	utils.FromContext(c, h.logger).Error(msg, args...)
}
