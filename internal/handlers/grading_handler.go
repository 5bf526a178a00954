package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classmark/attempt-service/internal/services"
	"github.com/classmark/attempt-service/internal/utils"
	"github.com/classmark/attempt-service/internal/validator"
)

type GradingHandler struct {
	BaseHandler
	gradingService services.GradingService
	validator      *validator.Validator
}

func NewGradingHandler(
	gradingService services.GradingService,
	validator *validator.Validator,
	logger utils.Logger,
) *GradingHandler {
	return &GradingHandler{
		BaseHandler:    NewBaseHandler(logger),
		gradingService: gradingService,
		validator:      validator,
	}
}

// GradeAnswer applies a manual grade to a text or code answer
// @Summary Grade answer
// @Description Sets the score of a pending answer and recomputes the attempt total
// @Tags grading
// @Accept json
// @Produce json
// @Param id path string true "Attempt ID"
// @Param grade body services.GradeAnswerRequest true "Grade data"
// @Success 200 {object} services.AttemptDetailsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id}/grade [post]
func (h *GradingHandler) GradeAnswer(c *gin.Context) {
	attemptID := c.Param("id")
	h.LogRequest(c, "Grading answer", "attempt_id", attemptID)

	var req services.GradeAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	graderID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	details, err := h.gradingService.GradeAnswer(c.Request.Context(), attemptID, &req, graderID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, details)
}
