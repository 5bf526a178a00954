package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/classmark/attempt-service/internal/config"
	"github.com/classmark/attempt-service/internal/repositories"
	"github.com/classmark/attempt-service/internal/services"
	"github.com/classmark/attempt-service/internal/utils"
	"github.com/classmark/attempt-service/internal/validator"
)

type HandlerManager struct {
	attemptHandler    *AttemptHandler
	gradingHandler    *GradingHandler
	assignmentHandler *AssignmentHandler
	authMiddleware    *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		attemptHandler:    NewAttemptHandler(serviceManager.Attempt(), validator, logger),
		gradingHandler:    NewGradingHandler(serviceManager.Grading(), validator, logger),
		assignmentHandler: NewAssignmentHandler(serviceManager.Assignment(), validator, logger),
		authMiddleware:    authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")

	// Participant routes: guests take attempts without an account, so auth
	// is optional and identity falls back to fingerprint and client IP.
	participant := v1.Group("")
	participant.Use(hm.authMiddleware.OptionalAuthMiddleware())
	{
		participant.GET("/shared/:token", hm.assignmentHandler.GetSharedAssignment)

		attempts := participant.Group("/attempts")
		{
			attempts.POST("/start", hm.attemptHandler.StartAttempt)
			attempts.GET("/:id/next", hm.attemptHandler.GetNextQuestion)
			attempts.POST("/:id/answer", hm.attemptHandler.SubmitAnswer)
			attempts.POST("/:id/finish", hm.attemptHandler.FinishAttempt)
			attempts.POST("/:id/cancel", hm.attemptHandler.CancelAttempt)
		}
	}

	// Owner routes require a valid token.
	owner := v1.Group("")
	owner.Use(hm.authMiddleware.AuthMiddleware())
	{
		assignments := owner.Group("/assignments")
		{
			assignments.POST("", hm.assignmentHandler.CreateAssignment)
			assignments.GET("/:id", hm.assignmentHandler.GetAssignment)
			assignments.GET("/:id/attempts", hm.attemptHandler.ListAttempts)
			assignments.GET("/:id/attempts/export", hm.attemptHandler.ExportAttempts)
		}

		owner.GET("/attempts/:id/details", hm.attemptHandler.GetAttemptDetails)
		owner.POST("/attempts/:id/grade", hm.gradingHandler.GradeAnswer)
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "attempt-service",
		})
	})
}
