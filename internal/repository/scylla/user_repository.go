package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"securehealth/internal/models"
)

var ErrNotFound = errors.New("not found")

type userRepository struct {
	client *ScyllaClient
}

func NewUserRepository(client *ScyllaClient) UserRepository {
	return &userRepository{client: client}
}

func (r *userRepository) CreateUser(ctx context.Context, user *models.User) error {
	q := r.client.Prepared.CreateUser.WithContext(ctx)
	if err := q.Bind(
		user.UserID, user.UserBucket, user.Name, user.Email, user.PasswordHash,
		user.Role, user.Department, user.IsLocked, user.CreatedAt, user.UpdatedAt,
	).Exec(); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *userRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	q := r.client.Prepared.GetUserByID.WithContext(ctx)
	if err := q.Bind(userID).Scan(
		&user.UserID, &user.UserBucket, &user.Name, &user.Email, &user.PasswordHash,
		&user.Role, &user.Department, &user.IsLocked, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *userRepository) ListUsers(ctx context.Context) ([]*models.User, error) {
	iter := r.client.Prepared.ListUsers.WithContext(ctx).Iter()

	var users []*models.User
	var user models.User
	for iter.Scan(
		&user.UserID, &user.UserBucket, &user.Name, &user.Email, &user.PasswordHash,
		&user.Role, &user.Department, &user.IsLocked, &user.CreatedAt, &user.UpdatedAt,
	) {
		u := user
		users = append(users, &u)
		user = models.User{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (r *userRepository) SetUserLocked(ctx context.Context, userID string, locked bool) error {
	now := time.Now().UTC()
	q := r.client.Prepared.SetUserLocked.WithContext(ctx)
	if err := q.Bind(locked, &now, userID).Exec(); err != nil {
		return fmt.Errorf("failed to update lock flag: %w", err)
	}
	return nil
}

func (r *userRepository) DeleteUser(ctx context.Context, userID string) error {
	q := r.client.Prepared.DeleteUser.WithContext(ctx)
	if err := q.Bind(userID).Exec(); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func (r *userRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}
