package repositories

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by all repositories for missing rows.
	ErrNotFound = errors.New("record not found")

	// ErrStaleVersion is returned by versioned attempt updates when the
	// stored row no longer carries the expected version.
	ErrStaleVersion = errors.New("stale attempt version")
)

// IsNotFoundError reports whether err is a missing-row error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Repository aggregates all sub-repositories behind one handle.
type Repository interface {
	Attempt() AttemptRepository
	Answer() AnswerRepository
	Assignment() AssignmentRepository
	Test() TestRepository

	// User domain (read-only, backed by the identity provider)
	User() UserRepository

	// Transaction support
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
