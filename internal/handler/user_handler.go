package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"securehealth/internal/service"
	"securehealth/internal/util"
)

// UserHandler handles staff account operations. Locking lives on the threat
// handler because a lock is a security action with an alert and audit trail,
// not plain CRUD.
type UserHandler struct {
	users  *service.UserService
	logger *zap.Logger
}

func NewUserHandler(users *service.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger,
	}
}

func (h *UserHandler) RegisterRoutes(router chi.Router) {
	router.Route("/users", func(r chi.Router) {
		r.Post("/", h.CreateUser)
		r.Get("/", h.ListUsers)
		r.Get("/{userID}", h.GetUserByID)
		r.Delete("/{userID}", h.DeleteUser)
		r.Post("/{userID}/unlock", h.UnlockUser)
	})
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.CreateUserInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	user, err := h.users.CreateUser(ctx, req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to create user")
		return
	}

	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(user, "User created successfully"))
	h.logger.Info("User created via HTTP",
		util.String("user_id", user.UserID),
		util.String("role", user.Role),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to list users")
		return
	}

	resp := successResponse(users, "Users retrieved successfully")
	resp.Meta = &Meta{Total: len(users)}
	respondWithJSON(w, h.logger, http.StatusOK, resp)
}

func (h *UserHandler) GetUserByID(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondWithError(w, h.logger, http.StatusBadRequest,
			errors.New("user ID is required"), "User ID is required")
		return
	}

	user, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to get user")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(user, "User retrieved successfully"))
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondWithError(w, h.logger, http.StatusBadRequest,
			errors.New("user ID is required"), "User ID is required")
		return
	}

	if err := h.users.DeleteUser(r.Context(), userID); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to delete user")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "User deleted successfully"))
	h.logger.Info("User deleted via HTTP", util.String("user_id", userID))
}

// UnlockUser clears the lock flag. Unlike locking it creates no alert; it is
// the administrative undo.
func (h *UserHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondWithError(w, h.logger, http.StatusBadRequest,
			errors.New("user ID is required"), "User ID is required")
		return
	}

	if err := h.users.SetUserLocked(r.Context(), userID, false); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to unlock user")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "User unlocked successfully"))
	h.logger.Info("User unlocked via HTTP", util.String("user_id", userID))
}
