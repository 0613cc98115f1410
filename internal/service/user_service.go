// Package service sits between the HTTP handlers and the repositories:
// account lifecycle, patient PII handling and access-event ingest live here.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"securehealth/internal/bucketing"
	"securehealth/internal/hashing"
	"securehealth/internal/models"
	"securehealth/internal/repository/redis"
	"securehealth/internal/repository/scylla"
	"securehealth/internal/threat"
	"securehealth/internal/util"
)

var (
	ErrInvalidUserInput = errors.New("invalid user input")
	ErrInvalidRole      = errors.New("invalid role")
)

// CreateUserInput carries the fields accepted at account creation.
type CreateUserInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	Department string `json:"department"`
}

// UserService owns staff accounts. It implements threat.UserDirectory with a
// Redis read-through cache in front of the user table; every lock-state
// change invalidates the cached entry before returning.
type UserService struct {
	repo    scylla.UserRepository
	cache   *redis.ActorCache
	hasher  *hashing.Hasher
	buckets *bucketing.BucketingManager
	logger  *zap.Logger
}

func NewUserService(
	repo scylla.UserRepository,
	cache *redis.ActorCache,
	hasher *hashing.Hasher,
	buckets *bucketing.BucketingManager,
	logger *zap.Logger,
) *UserService {
	return &UserService{
		repo:    repo,
		cache:   cache,
		hasher:  hasher,
		buckets: buckets,
		logger:  logger,
	}
}

// CreateUser validates, hashes the password and persists the account.
func (s *UserService) CreateUser(ctx context.Context, input CreateUserInput) (*models.User, error) {
	name := util.SanitizeInput(input.Name)
	email := util.SanitizeInput(input.Email)
	if name == "" || email == "" || input.Password == "" {
		return nil, ErrInvalidUserInput
	}

	switch input.Role {
	case models.RoleAdmin, models.RoleDoctor, models.RoleNurse:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, input.Role)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		UserID:       s.buckets.NewID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         input.Role,
		Department:   util.SanitizeInput(input.Department),
		CreatedAt:    time.Now().UTC(),
	}
	user.UserBucket = s.buckets.UserBucket(user.UserID)

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID serves the cache first and falls through to the repository on a
// miss. A repository miss maps to threat.ErrUserNotFound so callers above the
// storage layer never see storage sentinels.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	if s.cache != nil {
		if cached := s.cache.GetActor(ctx, userID); cached != nil {
			return cached, nil
		}
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, threat.ErrUserNotFound
		}
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetActor(ctx, user)
	}
	return user, nil
}

func (s *UserService) ListUsers(ctx context.Context) ([]*models.User, error) {
	return s.repo.ListUsers(ctx)
}

// SetUserLocked flips the lock flag and drops the cached entry so the stale
// unlocked view cannot outlive the lock.
func (s *UserService) SetUserLocked(ctx context.Context, userID string, locked bool) error {
	if err := s.repo.SetUserLocked(ctx, userID, locked); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateActor(ctx, userID)
	}
	return nil
}

func (s *UserService) DeleteUser(ctx context.Context, userID string) error {
	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateActor(ctx, userID)
	}
	return nil
}

// VerifyPassword checks a login attempt without exposing the stored hash.
func (s *UserService) VerifyPassword(ctx context.Context, userID, password string) (bool, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return false, threat.ErrUserNotFound
		}
		return false, err
	}
	return s.hasher.Verify(password, user.PasswordHash)
}
