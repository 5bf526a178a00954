package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classmark/attempt-service/internal/services"
	"github.com/classmark/attempt-service/internal/utils"
	"github.com/classmark/attempt-service/internal/validator"
)

type AssignmentHandler struct {
	BaseHandler
	assignmentService services.AssignmentService
	validator         *validator.Validator
}

func NewAssignmentHandler(
	assignmentService services.AssignmentService,
	validator *validator.Validator,
	logger utils.Logger,
) *AssignmentHandler {
	return &AssignmentHandler{
		BaseHandler:       NewBaseHandler(logger),
		assignmentService: assignmentService,
		validator:         validator,
	}
}

// CreateAssignment instantiates a test as a sharable assignment
// @Summary Create assignment
// @Tags assignments
// @Accept json
// @Produce json
// @Param assignment body services.CreateAssignmentRequest true "Assignment data"
// @Success 201 {object} models.Assignment
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /assignments [post]
func (h *AssignmentHandler) CreateAssignment(c *gin.Context) {
	h.LogRequest(c, "Creating assignment")

	var req services.CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	ownerID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	assignment, err := h.assignmentService.Create(c.Request.Context(), &req, ownerID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, assignment)
}

// GetAssignment returns an assignment to its owner
// @Summary Get assignment
// @Tags assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} models.Assignment
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /assignments/{id} [get]
func (h *AssignmentHandler) GetAssignment(c *gin.Context) {
	id := c.Param("id")
	h.LogRequest(c, "Getting assignment", "assignment_id", id)

	ownerID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	assignment, err := h.assignmentService.GetByID(c.Request.Context(), id, ownerID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, assignment)
}

// GetSharedAssignment resolves a share token to the public landing view
// @Summary Resolve share link
// @Description Returns the participant-facing view of an assignment
// @Tags assignments
// @Produce json
// @Param token path string true "Share token"
// @Success 200 {object} services.AssignmentPublicView
// @Failure 404 {object} ErrorResponse
// @Router /shared/{token} [get]
func (h *AssignmentHandler) GetSharedAssignment(c *gin.Context) {
	token := c.Param("token")
	h.LogRequest(c, "Resolving share token")

	view, err := h.assignmentService.GetByShareToken(c.Request.Context(), token)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}
