package handlers

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/repositories"
	"github.com/classmark/attempt-service/internal/services"
	"github.com/classmark/attempt-service/internal/utils"
	"github.com/classmark/attempt-service/internal/validator"
)

type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	validator      *validator.Validator
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	validator *validator.Validator,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		validator:      validator,
	}
}

// StartAttempt starts a new test attempt
// @Summary Start test attempt
// @Description Starts a new attempt on an assignment, or resumes the caller's active one
// @Tags attempts
// @Accept json
// @Produce json
// @Param attempt body services.StartAttemptRequest true "Start attempt data"
// @Success 201 {object} services.NextQuestionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /attempts/start [post]
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	h.LogRequest(c, "Starting test attempt")

	var req services.StartAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	identity := identityFromContext(c)
	if req.Fingerprint != "" {
		identity.Fingerprint = req.Fingerprint
	}
	identity.GuestName = req.GuestName

	resp, err := h.attemptService.Start(c.Request.Context(), &req, identity)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetNextQuestion serves the question at the cursor
// @Summary Get next question
// @Description Returns the current question, skipping timed-out ones; never an error on expiry
// @Tags attempts
// @Produce json
// @Param id path string true "Attempt ID"
// @Success 200 {object} services.NextQuestionResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id}/next [get]
func (h *AttemptHandler) GetNextQuestion(c *gin.Context) {
	attemptID := c.Param("id")
	h.LogRequest(c, "Serving next question", "attempt_id", attemptID)

	resp, err := h.attemptService.NextQuestion(c.Request.Context(), attemptID, identityFromContext(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SubmitAnswer records an answer for the current question
// @Summary Submit answer
// @Description Stores the answer, scores it if auto-gradable and advances the cursor
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path string true "Attempt ID"
// @Param answer body services.SubmitAnswerRequest true "Answer data"
// @Success 200 {object} services.NextQuestionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /attempts/{id}/answer [post]
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	attemptID := c.Param("id")
	h.LogRequest(c, "Submitting answer", "attempt_id", attemptID)

	var req services.SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	resp, err := h.attemptService.SubmitAnswer(c.Request.Context(), attemptID, &req, identityFromContext(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// FinishAttempt submits the whole attempt
// @Summary Finish attempt
// @Description Transitions the attempt to submitted
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path string true "Attempt ID"
// @Param body body services.FinishAttemptRequest true "Current version"
// @Success 200 {object} services.AttemptView
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /attempts/{id}/finish [post]
func (h *AttemptHandler) FinishAttempt(c *gin.Context) {
	attemptID := c.Param("id")
	h.LogRequest(c, "Finishing attempt", "attempt_id", attemptID)

	var req services.FinishAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	view, err := h.attemptService.Finish(c.Request.Context(), attemptID, req.Version, identityFromContext(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// CancelAttempt abandons the attempt
// @Summary Cancel attempt
// @Description Transitions the attempt to cancelled
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path string true "Attempt ID"
// @Param body body services.CancelAttemptRequest true "Current version"
// @Success 200 {object} services.AttemptView
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/cancel [post]
func (h *AttemptHandler) CancelAttempt(c *gin.Context) {
	attemptID := c.Param("id")
	h.LogRequest(c, "Cancelling attempt", "attempt_id", attemptID)

	var req services.CancelAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	view, err := h.attemptService.Cancel(c.Request.Context(), attemptID, req.Version, identityFromContext(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// ListAttempts lists attempts on an assignment for its owner
// @Summary List assignment attempts
// @Tags attempts
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} services.AttemptListResponse
// @Failure 403 {object} ErrorResponse
// @Router /assignments/{id}/attempts [get]
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	assignmentID := c.Param("id")
	h.LogRequest(c, "Listing attempts", "assignment_id", assignmentID)

	ownerID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	list, err := h.attemptService.ListByAssignment(c.Request.Context(), assignmentID, ownerID, h.parseAttemptFilters(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

// GetAttemptDetails returns the per-question breakdown of one attempt
// @Summary Get attempt details
// @Tags attempts
// @Produce json
// @Param id path string true "Attempt ID"
// @Success 200 {object} services.AttemptDetailsResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id}/details [get]
func (h *AttemptHandler) GetAttemptDetails(c *gin.Context) {
	attemptID := c.Param("id")
	h.LogRequest(c, "Getting attempt details", "attempt_id", attemptID)

	ownerID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	details, err := h.attemptService.GetDetails(c.Request.Context(), attemptID, ownerID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, details)
}

// ExportAttempts downloads the assignment's attempts as CSV or XLSX
// @Summary Export assignment attempts
// @Tags attempts
// @Produce text/csv
// @Param id path string true "Assignment ID"
// @Param format query string false "csv or xlsx" default(csv)
// @Success 200 {string} string "file"
// @Failure 403 {object} ErrorResponse
// @Router /assignments/{id}/attempts/export [get]
func (h *AttemptHandler) ExportAttempts(c *gin.Context) {
	assignmentID := c.Param("id")
	h.LogRequest(c, "Exporting attempts", "assignment_id", assignmentID)

	ownerID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	list, err := h.attemptService.ListByAssignment(c.Request.Context(), assignmentID, ownerID, repositories.AttemptFilters{})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", "csv")))
	if format != "xlsx" {
		format = "csv"
	}
	filename := fmt.Sprintf("assignment_%s.%s", assignmentID, format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if format == "csv" {
		h.writeCSV(c, list.Attempts)
		return
	}
	h.writeXLSX(c, list.Attempts)
}

var exportHeader = []string{
	"Attempt ID", "Participant", "Type", "Status",
	"Score", "Max Score", "Pending",
	"Progress", "Started At", "Submitted At",
}

func (h *AttemptHandler) writeCSV(c *gin.Context, attempts []*services.AttemptSummary) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write(exportHeader)
	for _, a := range attempts {
		row := exportRow(a)
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = fmt.Sprint(v)
		}
		_ = w.Write(record)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		h.LogError(c, err, "Failed to write export")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Export failed"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.String(http.StatusOK, buf.String())
}

func (h *AttemptHandler) writeXLSX(c *gin.Context, attempts []*services.AttemptSummary) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	for i, name := range exportHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, name)
	}
	for rowIdx, a := range attempts {
		for colIdx, val := range exportRow(a) {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			_ = f.SetCellValue(sheet, cell, val)
		}
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		h.LogError(c, err, "Failed to write export")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Export failed"})
	}
}

func exportRow(a *services.AttemptSummary) []interface{} {
	name, kind := participantName(a)
	submitted := ""
	if a.SubmittedAt != nil {
		submitted = a.SubmittedAt.Format(time.RFC3339)
	}
	return []interface{}{
		a.ID,
		name,
		kind,
		string(a.Status),
		fmt.Sprintf("%.2f", a.Score),
		fmt.Sprintf("%.2f", a.MaxScore),
		a.PendingScore,
		fmt.Sprintf("%d/%d", a.Cursor, a.Total),
		a.StartedAt.Format(time.RFC3339),
		submitted,
	}
}

func participantName(a *services.AttemptSummary) (name, kind string) {
	if a.UserID != nil {
		if a.UserDisplayName != "" {
			return a.UserDisplayName, "user"
		}
		return *a.UserID, "user"
	}
	if a.GuestName != nil && *a.GuestName != "" {
		return *a.GuestName, "guest"
	}
	return "Guest", "guest"
}

// identityFromContext assembles the caller's identity from the auth
// middleware, the fingerprint header and the connection.
func identityFromContext(c *gin.Context) services.Identity {
	identity := services.Identity{
		Fingerprint: c.GetHeader("X-Client-Fingerprint"),
		ClientIP:    c.ClientIP(),
	}
	if userID, err := GetUserIDFromContext(c); err == nil {
		identity.UserID = &userID
	}
	return identity
}

func (h *AttemptHandler) parseIntQuery(c *gin.Context, param string, defaultValue int) int {
	valueStr := c.Query(param)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func (h *AttemptHandler) parseAttemptFilters(c *gin.Context) repositories.AttemptFilters {
	page := h.parseIntQuery(c, "page", 1)
	size := h.parseIntQuery(c, "size", 20)

	filters := repositories.AttemptFilters{
		Limit:     size,
		Offset:    (page - 1) * size,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}

	if status := c.Query("status"); status != "" {
		attemptStatus := models.AttemptStatus(status)
		filters.Status = &attemptStatus
	}
	if userID := strings.TrimSpace(c.Query("user_id")); userID != "" {
		filters.UserID = &userID
	}

	return filters
}

func (h *AttemptHandler) handleServiceError(c *gin.Context, err error) {
	handleServiceError(c, err)
}

// handleServiceError maps service sentinels onto HTTP statuses. The 409/410
// split matters to clients: conflict means re-fetch and retry, gone means
// the attempt is over.
func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrAttemptNotFound),
		errors.Is(err, services.ErrAssignmentNotFound),
		errors.Is(err, services.ErrTestNotFound),
		errors.Is(err, services.ErrQuestionNotFound),
		errors.Is(err, services.ErrAnswerNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: err.Error(),
		})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
		})
	case errors.Is(err, services.ErrVersionConflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "version_conflict",
			Message: "Attempt was modified elsewhere, re-fetch and retry",
		})
	case errors.Is(err, services.ErrAttemptNotActive):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Attempt is not active",
		})
	case errors.Is(err, services.ErrIncompleteAttempt):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "incomplete_attempt",
			Message: "All questions must be answered before finishing",
		})
	case errors.Is(err, services.ErrAttemptExpired):
		c.JSON(http.StatusGone, ErrorResponse{
			Error:   "attempt_expired",
			Message: "Attempt time has expired",
		})
	case errors.Is(err, services.ErrAttemptLimitExceeded):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Message: "Maximum attempts exceeded",
		})
	case errors.Is(err, services.ErrNoMoreQuestions):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "No more questions to answer",
		})
	case errors.Is(err, services.ErrInvalidAnswerPayload),
		errors.Is(err, services.ErrAnswerNotGradable),
		errors.Is(err, services.ErrValidationFailed):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
