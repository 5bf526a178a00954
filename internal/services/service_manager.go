package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/classmark/attempt-service/internal/events"
	"github.com/classmark/attempt-service/internal/repositories"
	"github.com/classmark/attempt-service/internal/validator"
)

// ServiceManagerConfig carries everything the services need. Clock defaults
// to the wall clock and Publisher may be nil when no broker is configured.
type ServiceManagerConfig struct {
	Repository repositories.Repository
	Publisher  events.EventPublisher
	Validator  *validator.Validator
	Clock      Clock
	Logger     *slog.Logger
}

type serviceManager struct {
	config ServiceManagerConfig

	attemptService    AttemptService
	gradingService    GradingService
	assignmentService AssignmentService
}

func NewServiceManager(config ServiceManagerConfig) (ServiceManager, error) {
	if config.Repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if config.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = SystemClock()
	}

	m := &serviceManager{config: config}
	m.attemptService = NewAttemptService(config.Repository, config.Publisher, config.Validator, config.Clock, config.Logger)
	m.gradingService = NewGradingService(config.Repository, config.Publisher, config.Validator, config.Clock, config.Logger)
	m.assignmentService = NewAssignmentService(config.Repository, config.Validator, config.Logger)
	return m, nil
}

func (m *serviceManager) Attempt() AttemptService {
	return m.attemptService
}

func (m *serviceManager) Grading() GradingService {
	return m.gradingService
}

func (m *serviceManager) Assignment() AssignmentService {
	return m.assignmentService
}

func (m *serviceManager) Initialize(ctx context.Context) error {
	if err := m.config.Repository.Ping(ctx); err != nil {
		return fmt.Errorf("repository ping failed: %w", err)
	}
	m.config.Logger.Info("service manager initialized")
	return nil
}

func (m *serviceManager) HealthCheck(ctx context.Context) error {
	return m.config.Repository.Ping(ctx)
}

func (m *serviceManager) Shutdown(ctx context.Context) error {
	if m.config.Publisher != nil {
		if err := m.config.Publisher.Close(); err != nil {
			m.config.Logger.Error("failed to close event publisher", "error", err)
		}
	}
	m.config.Logger.Info("service manager shut down")
	return nil
}
