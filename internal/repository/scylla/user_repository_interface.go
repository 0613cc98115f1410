package scylla

import (
	"context"

	"securehealth/internal/models"
)

// UserRepository defines the operations the service layer needs over staff
// accounts. The lock flag update is the single shared mutable resource in the
// detection pipeline.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	SetUserLocked(ctx context.Context, userID string, locked bool) error
	DeleteUser(ctx context.Context, userID string) error
	HealthCheck(ctx context.Context) error
}
